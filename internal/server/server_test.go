package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohann-max/FINSHIELD/internal/circuitbreaker"
	"github.com/rohann-max/FINSHIELD/internal/config"
	"github.com/rohann-max/FINSHIELD/internal/history"
	"github.com/rohann-max/FINSHIELD/internal/logging"
	"github.com/rohann-max/FINSHIELD/internal/risk"
	"github.com/rohann-max/FINSHIELD/internal/verdict"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		LogFormat:        "text",
		StoreBackend:     config.StoreMemory,
		NarrationTimeout: time.Second,
		CORSOrigins:      []string{"*"},
	}
}

// newTestServer creates a server with an in-memory store and template narration
func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(logging.New("error", "text"))}, opts...)
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

type downStore struct{ history.Store }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

type stubSummarizer struct{}

func (stubSummarizer) Summarize(context.Context, *risk.Assessment) (string, error) {
	return "stub narrative", nil
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := serve(s, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, Version, resp.Version)
	assert.Equal(t, "healthy", resp.Checks["store"])
	assert.Equal(t, "template", resp.Checks["narration"])
}

func TestHealthEndpoint_StoreDown(t *testing.T) {
	s := newTestServer(t, testConfig(), WithStore(downStore{history.NewMemoryStore()}))

	w := serve(s, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unhealthy", resp.Checks["store"])
}

func TestHealthEndpoint_NarrationService(t *testing.T) {
	n := verdict.NewNarrator(verdict.WithSummarizer(stubSummarizer{}))
	s := newTestServer(t, testConfig(), WithNarrator(n))

	w := serve(s, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "service (circuit closed)")
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, *risk.Assessment) (string, error) {
	return "", errors.New("503 from upstream")
}

func TestHealthEndpoint_NarrationCircuitOpenStaysHealthy(t *testing.T) {
	n := verdict.NewNarrator(
		verdict.WithSummarizer(failingSummarizer{}),
		verdict.WithRetry(1, 0),
		verdict.WithBreaker(circuitbreaker.New(circuitbreaker.Config{Name: "server_test", FailureThreshold: 1, OpenDuration: time.Hour})),
	)
	s := newTestServer(t, testConfig(), WithNarrator(n))

	w := serve(s, httptest.NewRequest("POST", "/api/analyze", strings.NewReader(`{"transactionId":"TXN-open"}`)))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(s, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "template (circuit open)", resp.Checks["narration"])
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := serve(s, httptest.NewRequest("GET", "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	// Not ready until Run has started
	w := serve(s, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s.ready.Store(true)
	w = serve(s, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// ---------------------------------------------------------------------------
// API tests
// ---------------------------------------------------------------------------

func TestAnalyzeThroughRouter(t *testing.T) {
	n := verdict.NewNarrator(verdict.WithSummarizer(stubSummarizer{}))
	s := newTestServer(t, testConfig(), WithNarrator(n))

	req := httptest.NewRequest("POST", "/api/analyze", strings.NewReader(`{"transactionId":"TXN-9","typingWPM":65,"keystrokeInterval":150,"keystrokeVariance":40,"mouseSpeed":800,"interactionDensity":2,"pluginsLength":3}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://localhost:5173")
	w := serve(s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "APPROVED", resp["decision"])
	assert.Equal(t, verdict.LabelAuthorized, resp["aiVerdict"])
	assert.Equal(t, "stub narrative", resp["aiDescription"])

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = serve(s, httptest.NewRequest("GET", "/api/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var entries []history.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "TXN-9", entries[0].ID)
	assert.Equal(t, verdict.LabelAuthorized+": stub narrative", entries[0].Reason)
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := httptest.NewRequest("GET", "/health/live", nil)
	req.Header.Set("X-Request-ID", "upstream-123")
	w := serve(s, req)
	assert.Equal(t, "upstream-123", w.Header().Get("X-Request-ID"))

	w = serve(s, httptest.NewRequest("GET", "/health/live", nil))
	assert.True(t, strings.HasPrefix(w.Header().Get("X-Request-ID"), "req_"))
}

func TestInfoEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := serve(s, httptest.NewRequest("GET", "/api", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "finshield", resp["name"])
	assert.Equal(t, false, resp["narration"])
	assert.Len(t, resp["factors"], len(risk.FactorIDs()))
}

func TestRateLimitAppliesToAPI(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPM = 1
	s := newTestServer(t, cfg)

	first := serve(s, httptest.NewRequest("GET", "/api/history", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := serve(s, httptest.NewRequest("GET", "/api/history", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// Health probes are not rate limited
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(s, httptest.NewRequest("GET", "/health/live", nil)).Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	serve(s, httptest.NewRequest("GET", "/health/live", nil))
	w := serve(s, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "finshield_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := httptest.NewRequest("OPTIONS", "/api/analyze", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := serve(s, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_BadgerBackend(t *testing.T) {
	cfg := testConfig()
	cfg.StoreBackend = config.StoreBadger
	cfg.BadgerDir = filepath.Join(t.TempDir(), "security")

	s := newTestServer(t, cfg)
	_, ok := s.store.(*history.BadgerStore)
	assert.True(t, ok, "expected badger store, got %T", s.store)

	w := serve(s, httptest.NewRequest("POST", "/api/analyze", strings.NewReader(`{"transactionId":"B-1"}`)))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(s, httptest.NewRequest("GET", "/api/history", nil))
	assert.Contains(t, w.Body.String(), "B-1")
}

func TestNew_ThresholdsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("merchant_risk:\n  gambling: 30\n"), 0o600))

	cfg := testConfig()
	cfg.ThresholdsFile = path
	s := newTestServer(t, cfg)
	assert.Equal(t, 30, s.engine.Thresholds().MerchantRisk["gambling"])

	cfg = testConfig()
	cfg.ThresholdsFile = filepath.Join(dir, "missing.yaml")
	_, err := New(cfg, WithLogger(logging.New("error", "text")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk thresholds")
}

func TestBuildNarrator(t *testing.T) {
	logger := logging.New("error", "text")

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		enabled bool
	}{
		{"no key", func(*config.Config) {}, false},
		{"placeholder key", func(c *config.Config) { c.AzureOpenAIAPIKey = verdict.PlaceholderAPIKey }, false},
		{"public api", func(c *config.Config) { c.AzureOpenAIAPIKey = "sk-test" }, true},
		{"azure endpoint", func(c *config.Config) {
			c.AzureOpenAIAPIKey = "key"
			c.AzureOpenAIEndpoint = "https://contoso.openai.azure.com/"
		}, true},
		{"insecure endpoint in production", func(c *config.Config) {
			c.Env = "production"
			c.AzureOpenAIAPIKey = "key"
			c.AzureOpenAIEndpoint = "http://contoso.openai.azure.com/"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			assert.Equal(t, tt.enabled, buildNarrator(cfg, logger).ServiceEnabled())
		})
	}
}

func TestMaskDSN(t *testing.T) {
	masked := maskDSN("postgres://app:secret@db:5432/finshield")
	assert.NotContains(t, masked, "secret")
	assert.Contains(t, masked, "app:")
	assert.Contains(t, masked, "@db:5432/finshield")
	assert.Equal(t, "redis://localhost:6379/0", maskDSN("redis://localhost:6379/0"))
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestRunStopsOnContextCancel(t *testing.T) {
	s := newTestServer(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, s.ready.Load, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, s.ready.Load())
}
