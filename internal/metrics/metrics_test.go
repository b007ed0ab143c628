package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusBucket(tt.code), "statusBucket(%d)", tt.code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	// Gauges are always exported.
	assert.Contains(t, w.Body.String(), "finshield_active_websocket_clients")

	AnalysesTotal.WithLabelValues("BLOCKED").Inc()

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(w.Body.String(), "finshield_analyses_total"))
}

func TestMiddleware_RecordsMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	counter := HTTPRequestsTotal.WithLabelValues("GET", "/test", "2xx")
	before := counterValue(t, counter)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, before+1, counterValue(t, counter))
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestRecordPoolStats(t *testing.T) {
	RecordPoolStats("test_backend", PoolStats{Open: 7, Idle: 3, InUse: 4, Waits: 11, WaitDuration: 1500 * time.Millisecond})

	assert.Equal(t, 7.0, gaugeValue(t, StorePoolConnections.WithLabelValues("test_backend", "open")))
	assert.Equal(t, 3.0, gaugeValue(t, StorePoolConnections.WithLabelValues("test_backend", "idle")))
	assert.Equal(t, 4.0, gaugeValue(t, StorePoolConnections.WithLabelValues("test_backend", "in_use")))
	assert.Equal(t, 11.0, gaugeValue(t, StorePoolWaits.WithLabelValues("test_backend")))
	assert.Equal(t, 1.5, gaugeValue(t, StorePoolWaitSeconds.WithLabelValues("test_backend")))
}

func TestCollectPoolStats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 8)
	done := make(chan struct{})
	go func() {
		CollectPoolStats(ctx, "collector_test", func() PoolStats {
			select {
			case calls <- struct{}{}:
			default:
			}
			return PoolStats{Open: 2}
		}, 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("collector never sampled")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
	assert.Equal(t, 2.0, gaugeValue(t, StorePoolConnections.WithLabelValues("collector_test", "open")))
}
