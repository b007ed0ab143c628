package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateServiceEndpoint checks the narrative service endpoint before any
// telemetry summary is sent to it. Only https is accepted unless allowInsecure
// is set, and cloud metadata hosts are always refused.
func ValidateServiceEndpoint(rawURL string, allowInsecure bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !allowInsecure {
			return fmt.Errorf("endpoint must use https")
		}
	default:
		return fmt.Errorf("URL scheme must be http or https")
	}

	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	host := u.Hostname()
	for _, b := range []string{"metadata.google.internal", "metadata.google"} {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("URL host %q is not allowed", host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return fmt.Errorf("link-local addresses are not allowed")
		}
		if ip.IsUnspecified() {
			return fmt.Errorf("unspecified addresses are not allowed")
		}
		if !allowInsecure && (ip.IsLoopback() || ip.IsPrivate()) {
			return fmt.Errorf("private addresses are not allowed")
		}
	}
	return nil
}
