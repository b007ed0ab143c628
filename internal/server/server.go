// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/rohann-max/FINSHIELD/internal/analysis"
	"github.com/rohann-max/FINSHIELD/internal/circuitbreaker"
	"github.com/rohann-max/FINSHIELD/internal/config"
	"github.com/rohann-max/FINSHIELD/internal/health"
	"github.com/rohann-max/FINSHIELD/internal/history"
	"github.com/rohann-max/FINSHIELD/internal/idgen"
	"github.com/rohann-max/FINSHIELD/internal/logging"
	"github.com/rohann-max/FINSHIELD/internal/metrics"
	"github.com/rohann-max/FINSHIELD/internal/ratelimit"
	"github.com/rohann-max/FINSHIELD/internal/realtime"
	"github.com/rohann-max/FINSHIELD/internal/risk"
	"github.com/rohann-max/FINSHIELD/internal/security"
	"github.com/rohann-max/FINSHIELD/internal/traces"
	"github.com/rohann-max/FINSHIELD/internal/validation"
	"github.com/rohann-max/FINSHIELD/internal/verdict"
)

// Version is reported by the health endpoint. Set by cmd/server from ldflags.
var Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	engine       *risk.Engine
	narrator     *verdict.Narrator
	store        history.Store
	analysis     *analysis.Service
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	poolStats    func() metrics.PoolStats // nil for stores without a connection pool
	closers      []io.Closer
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTracing  func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore sets the audit log store instead of building one from config
func WithStore(store history.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithNarrator sets the verdict narrator instead of building one from config
func WithNarrator(n *verdict.Narrator) Option {
	return func(s *Server) {
		s.narrator = n
	}
}

// WithEngine sets the risk engine instead of building one from config
func WithEngine(e *risk.Engine) Option {
	return func(s *Server) {
		s.engine = e
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	// Apply options first (may set store/narrator/engine/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if s.engine == nil {
		engine, err := buildEngine(cfg)
		if err != nil {
			return nil, err
		}
		s.engine = engine
	}

	if s.store == nil {
		if err := s.openStore(ctx); err != nil {
			s.closeAll()
			return nil, err
		}
	}

	if s.narrator == nil {
		s.narrator = buildNarrator(cfg, s.logger)
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger, cfg.CORSOrigins...)

	s.analysis = analysis.NewService(s.engine, s.narrator, s.store, s.logger).WithEvents(s.realtimeHub)

	s.health = health.NewRegistry(2 * time.Second)
	s.health.Register("store", health.PingChecker(s.store))
	s.health.RegisterOptional("narration", s.narrationCheck)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func buildEngine(cfg *config.Config) (*risk.Engine, error) {
	if cfg.ThresholdsFile == "" {
		return risk.NewEngine(), nil
	}
	t, err := risk.LoadThresholds(cfg.ThresholdsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load risk thresholds: %w", err)
	}
	return risk.NewEngineWithThresholds(t)
}

// openStore builds the audit log backend selected by STORE_BACKEND
func (s *Server) openStore(ctx context.Context) error {
	switch s.cfg.StoreBackend {
	case config.StorePostgres:
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		s.poolStats = metrics.SQLPoolStats(db)
		s.closers = append(s.closers, db)

		store := history.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate transaction log store", "error", err)
		}
		s.store = store
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))

	case config.StoreBadger:
		store, err := history.OpenBadgerStore(history.BadgerConfig{Dir: s.cfg.BadgerDir, Logger: s.logger})
		if err != nil {
			return err
		}
		s.store = store
		s.closers = append(s.closers, store)
		s.logger.Info("using Badger storage", "dir", s.cfg.BadgerDir)

	case config.StoreRedis:
		store, err := history.NewRedisStore(s.cfg.RedisURL)
		if err != nil {
			return err
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.store = store
		s.poolStats = store.PoolStats
		s.closers = append(s.closers, store)
		s.logger.Info("using Redis storage", "url", maskDSN(s.cfg.RedisURL))

	default:
		s.store = history.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}
	return nil
}

// buildNarrator wires the narrative service when a credential is present.
// Any problem leaves the narrator on the template path.
func buildNarrator(cfg *config.Config, logger *slog.Logger) *verdict.Narrator {
	opts := []verdict.Option{
		verdict.WithTimeout(cfg.NarrationTimeout),
		verdict.WithLogger(logger),
	}

	oa := verdict.OpenAIConfig{
		APIKey:     cfg.AzureOpenAIAPIKey,
		Endpoint:   cfg.AzureOpenAIEndpoint,
		Model:      cfg.AzureOpenAIDeployment,
		APIVersion: cfg.AzureOpenAIAPIVersion,
	}
	if !oa.Configured() {
		logger.Info("narrative service not configured, using template verdicts")
		return verdict.NewNarrator(opts...)
	}
	if oa.Endpoint != "" {
		if err := security.ValidateServiceEndpoint(oa.Endpoint, cfg.IsDevelopment()); err != nil {
			logger.Warn("narrative service endpoint rejected, using template verdicts", "error", err)
			return verdict.NewNarrator(opts...)
		}
	}

	summarizer, err := verdict.NewOpenAISummarizer(oa)
	if err != nil {
		logger.Warn("narrative service unavailable, using template verdicts", "error", err)
		return verdict.NewNarrator(opts...)
	}
	logger.Info("narrative service enabled", "model", oa.Model, "azure", oa.Endpoint != "")
	return verdict.NewNarrator(append(opts, verdict.WithSummarizer(summarizer))...)
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request ID first so every later log line carries it
	s.router.Use(s.requestIDMiddleware())

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))

	// Request size limit
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := validation.SanitizeIdentifier(c.GetHeader("X-Request-ID"), 64)
		if requestID == "" {
			requestID = idgen.RequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// loggingMiddleware logs one line per request. Probe and scrape endpoints
// log at debug so they do not drown out analyses.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		case quietPath(c.FullPath()):
			level = slog.LevelDebug
		}

		ctx := c.Request.Context()
		logging.L(ctx).Log(ctx, level, "request completed",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"bytes_out", c.Writer.Size(),
			"client_ip", c.ClientIP(),
		)
	}
}

func quietPath(route string) bool {
	switch route {
	case "/health", "/health/live", "/health/ready", "/metrics":
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for the live analysis feed
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	api := s.router.Group("/api")
	if s.cfg.RateLimitRPM > 0 {
		rl := ratelimit.DefaultConfig()
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
		rl.BurstSize = min(rl.BurstSize, s.cfg.RateLimitRPM)
		s.rateLimiter = ratelimit.New(rl)
		api.Use(s.rateLimiter.Middleware())
	}
	api.GET("", s.infoHandler)
	analysis.NewHandler(s.analysis).RegisterRoutes(api)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.health.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		switch {
		case !st.Healthy && (st.Critical || st.Detail == ""):
			checks[st.Name] = "unhealthy"
		case st.Detail != "":
			checks[st.Name] = st.Detail
		default:
			checks[st.Name] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// narrationCheck reports which path verdicts take. It is optional: a tripped
// narrative service only means template verdicts.
func (s *Server) narrationCheck(_ context.Context) health.Status {
	if !s.narrator.ServiceEnabled() {
		return health.Status{Healthy: true, Detail: "template"}
	}
	state := s.narrator.BreakerState()
	if state == circuitbreaker.StateOpen {
		return health.Status{Healthy: false, Detail: "template (circuit open)"}
	}
	return health.Status{Healthy: true, Detail: "service (circuit " + state.String() + ")"}
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":      "finshield",
		"version":   Version,
		"store":     s.cfg.StoreBackend,
		"narration": s.narrator.ServiceEnabled(),
		"factors":   risk.FactorIDs(),
		"endpoints": []string{"POST /api/analyze", "GET /api/history", "GET /ws", "GET /health", "GET /metrics"},
		"websocket": s.realtimeHub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	stopTracing, err := traces.Init(runCtx, traces.Config{
		Endpoint:    s.cfg.OTLPEndpoint,
		Insecure:    s.cfg.OTLPInsecure,
		Version:     Version,
		Env:         s.cfg.Env,
		SampleRatio: s.cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.stopTracing = stopTracing
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Narration is bounded by NARRATION_TIMEOUT; leave room for it
		WriteTimeout: s.cfg.NarrationTimeout + 20*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"store", s.cfg.StoreBackend,
			"narration", s.narrator.ServiceEnabled(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Sample connection pool stats
	if s.poolStats != nil {
		go metrics.CollectPoolStats(runCtx, s.cfg.StoreBackend, s.poolStats, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		s.Close()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	s.Close()
	s.logger.Info("server stopped")
	return shutdownErr
}

// Close releases background goroutines and storage without touching the
// HTTP listener. Used directly by tests.
func (s *Server) Close() {
	// Cancel the context for all background goroutines (hub, stats collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	s.closeAll()
}

func (s *Server) closeAll() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Error("storage close error", "error", err)
		}
	}
	s.closers = nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
