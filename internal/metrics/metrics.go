// Package metrics provides Prometheus instrumentation for the FINSHIELD service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finshield"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AnalysesTotal counts completed risk analyses by decision.
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total risk analyses by decision.",
		},
		[]string{"decision"},
	)

	// RiskScore observes the distribution of aggregate risk scores.
	RiskScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "risk_score",
		Help:      "Aggregate risk score per analysis.",
		Buckets:   []float64{0, 10, 20, 40, 60, 80, 90, 100},
	})

	// BotDetectionsTotal counts analyses flagged as automated.
	BotDetectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bot_detections_total",
		Help:      "Total analyses where a hard automation signal fired.",
	})

	// FactorTriggersTotal counts non-normal factor evaluations.
	FactorTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "factor_triggers_total",
			Help:      "Factor evaluations with warning or critical status.",
		},
		[]string{"factor", "status"},
	)

	// NarrationsTotal counts verdict narrations by source (service, template, fallback).
	NarrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narrations_total",
			Help:      "Verdict narrations by source.",
		},
		[]string{"source"},
	)

	// NarrationDuration observes narrative service latency.
	NarrationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "narration_duration_seconds",
		Help:      "Narrative service call duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
	})

	// CircuitState reports each circuit's state (0 closed, 1 open, 2 half-open).
	CircuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "circuitbreaker",
		Name:      "state",
		Help:      "Circuit state: 0 closed, 1 open, 2 half-open.",
	}, []string{"circuit"})

	// CircuitTransitionsTotal counts circuit state changes.
	CircuitTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "circuitbreaker",
		Name:      "state_transitions_total",
		Help:      "Circuit breaker state transitions by circuit, from-state, and to-state.",
	}, []string{"circuit", "from_state", "to_state"})

	// HistoryWritesTotal counts log store writes by result (inserted, duplicate, error).
	HistoryWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_writes_total",
			Help:      "Audit log writes by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "rate_limited_total",
		Help: "Requests rejected with 429 by the per-client rate limiter.",
	})

	// StorePoolConnections tracks store pool connections by backend and state (open, idle, in_use).
	StorePoolConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store_pool",
		Name:      "connections",
		Help:      "Audit log store pool connections by state.",
	}, []string{"backend", "state"})

	// StorePoolWaits tracks how often callers waited on (or timed out of) the pool.
	StorePoolWaits = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store_pool",
		Name:      "waits_total",
		Help:      "Cumulative pool waits (postgres) or pool timeouts (redis).",
	}, []string{"backend"})

	// StorePoolWaitSeconds tracks cumulative time spent waiting for a connection.
	StorePoolWaitSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store_pool",
		Name:      "wait_seconds_total",
		Help:      "Cumulative time waited for a pool connection.",
	}, []string{"backend"})

	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AnalysesTotal,
		RiskScore,
		BotDetectionsTotal,
		FactorTriggersTotal,
		NarrationsTotal,
		NarrationDuration,
		CircuitState,
		CircuitTransitionsTotal,
		HistoryWritesTotal,
		ActiveWebSocketClients,
		RateLimitedTotal,
		StorePoolConnections,
		StorePoolWaits,
		StorePoolWaitSeconds,
		GoroutineCount,
	)
}

// PoolStats is a snapshot of a store connection pool.
type PoolStats struct {
	Open         int
	Idle         int
	InUse        int
	Waits        int64
	WaitDuration time.Duration
}

// SQLPoolStats adapts database/sql pool statistics.
func SQLPoolStats(db *sql.DB) func() PoolStats {
	return func() PoolStats {
		st := db.Stats()
		return PoolStats{
			Open:         st.OpenConnections,
			Idle:         st.Idle,
			InUse:        st.InUse,
			Waits:        st.WaitCount,
			WaitDuration: st.WaitDuration,
		}
	}
}

// RecordPoolStats publishes one snapshot for backend.
func RecordPoolStats(backend string, st PoolStats) {
	StorePoolConnections.WithLabelValues(backend, "open").Set(float64(st.Open))
	StorePoolConnections.WithLabelValues(backend, "idle").Set(float64(st.Idle))
	StorePoolConnections.WithLabelValues(backend, "in_use").Set(float64(st.InUse))
	StorePoolWaits.WithLabelValues(backend).Set(float64(st.Waits))
	StorePoolWaitSeconds.WithLabelValues(backend).Set(st.WaitDuration.Seconds())
}

// CollectPoolStats samples the pool and the goroutine count every interval
// until ctx is done.
func CollectPoolStats(ctx context.Context, backend string, stats func() PoolStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			RecordPoolStats(backend, stats())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern keeps cardinality bounded
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
