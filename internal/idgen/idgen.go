// Package idgen generates request identifiers that sort by creation time.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// RequestPrefix marks identifiers minted by the server for X-Request-ID.
const RequestPrefix = "req_"

// WithPrefix returns prefix followed by 24 hex chars: a 48-bit millisecond
// timestamp then 6 random bytes, so IDs from one process sort by time.
func WithPrefix(prefix string) string {
	return at(prefix, time.Now())
}

// RequestID returns a new server-side request identifier.
func RequestID() string {
	return WithPrefix(RequestPrefix)
}

func at(prefix string, t time.Time) string {
	var b [12]byte
	var ms [8]byte
	binary.BigEndian.PutUint64(ms[:], uint64(t.UnixMilli()))
	copy(b[:6], ms[2:])
	if _, err := rand.Read(b[6:]); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b[:])
}
