// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/axmarket/repengine/internal/admin"
	"github.com/axmarket/repengine/internal/auth"
	"github.com/axmarket/repengine/internal/badges"
	"github.com/axmarket/repengine/internal/config"
	"github.com/axmarket/repengine/internal/expiry"
	"github.com/axmarket/repengine/internal/health"
	"github.com/axmarket/repengine/internal/idgen"
	"github.com/axmarket/repengine/internal/logging"
	"github.com/axmarket/repengine/internal/metrics"
	"github.com/axmarket/repengine/internal/ratelimit"
	"github.com/axmarket/repengine/internal/reputation"
	"github.com/axmarket/repengine/internal/scoring"
	"github.com/axmarket/repengine/internal/security"
	"github.com/axmarket/repengine/internal/signals"
	"github.com/axmarket/repengine/internal/validation"
)

// Version is reported by the health endpoint.
var Version = "dev"

const (
	defaultDrainDelay = 5 * time.Second
	dbPingTimeout     = 2 * time.Second
	dbStatsInterval   = 15 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	backend      reputation.Backend
	signaler     reputation.Signaler
	emitter      *signals.Emitter // nil when prompts are log-only
	dispatcher   *signals.Dispatcher
	service      *reputation.Service
	sweeper      *expiry.Sweeper
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	drainDelay   time.Duration
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// WithBackend sets the storage backend, bypassing DATABASE_URL (for testing)
func WithBackend(b reputation.Backend) Option {
	return func(s *Server) {
		s.backend = b
	}
}

// WithSignaler sets the review-prompt signaler, bypassing REVIEW_PROMPT_URL
func WithSignaler(sig reputation.Signaler) Option {
	return func(s *Server) {
		s.signaler = sig
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// sending traffic.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: defaultDrainDelay,
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.setupStorage(); err != nil {
		return nil, err
	}

	calc := scoring.NewCalculator()
	if cfg.ScoringProfile != "" {
		sc, err := scoring.LoadConfig(cfg.ScoringProfile)
		if err != nil {
			return nil, fmt.Errorf("failed to load scoring profile: %w", err)
		}
		calc = scoring.NewCalculatorWithConfig(sc)
		s.logger.Info("scoring profile loaded", "path", cfg.ScoringProfile)
	}

	if err := s.setupSignals(); err != nil {
		return nil, err
	}

	svc, err := reputation.NewService(reputation.StoresFrom(s.backend), calc, badges.Default(),
		reputation.WithSignaler(s.signaler),
		reputation.WithLogger(s.logger),
		reputation.WithRetry(cfg.MaxTxAttempts, cfg.TxRetryDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reputation service: %w", err)
	}
	s.service = svc
	s.sweeper = expiry.NewSweeper(svc, cfg.ExpirySweepInterval, s.logger)

	if cfg.IngestSecret == "" {
		s.logger.Warn("INGEST_SECRET not set, event ingestion is unauthenticated")
	}
	if cfg.AdminSecret == "" {
		s.logger.Warn("ADMIN_SECRET not set, admin routes are unauthenticated")
	}

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

// setupStorage uses Postgres if DATABASE_URL is set, otherwise in-memory.
func (s *Server) setupStorage() error {
	if s.backend != nil {
		return nil
	}
	if s.cfg.DatabaseURL == "" {
		s.backend = reputation.NewMemoryStore()
		s.logger.Warn("DATABASE_URL not set, using in-memory store (data is lost on restart)")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	store := reputation.NewPostgresStore(db)
	s.db = db
	s.backend = store
	s.health.Register("postgres", health.PingCheck("postgres", store, dbPingTimeout))
	s.logger.Info("connected to PostgreSQL", "dsn", maskDSN(s.cfg.DatabaseURL))
	return nil
}

// setupSignals delivers review prompts over HTTP when an endpoint is
// configured and logs them otherwise.
func (s *Server) setupSignals() error {
	if s.signaler != nil {
		return nil
	}
	if s.cfg.ReviewPromptURL == "" {
		s.signaler = signals.NewLogSignaler(s.logger)
		s.logger.Info("review prompts are log-only (no REVIEW_PROMPT_URL set)")
		return nil
	}

	if s.cfg.IsProduction() {
		if err := security.ValidateEndpointURL(s.cfg.ReviewPromptURL, true); err != nil {
			return fmt.Errorf("invalid REVIEW_PROMPT_URL: %w", err)
		}
	}

	sc := signals.Config{URL: s.cfg.ReviewPromptURL, Secret: s.cfg.ReviewPromptSecret}
	s.dispatcher = signals.NewDispatcher(sc)
	s.emitter = signals.NewEmitter(s.dispatcher, sc, s.logger)
	s.signaler = s.emitter
	s.logger.Info("review prompts enabled", "url", s.cfg.ReviewPromptURL, "signed", sc.Secret != "")
	return nil
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || !validation.IsValidID(requestID) {
			requestID = idgen.RequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}

		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		case path == "/metrics" || path == "/health/live" || path == "/health/ready":
			logger.Debug("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
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

	h := reputation.NewHandler(s.service)
	v1 := s.router.Group("/v1")

	// Public reads: CORS and per-IP rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	public := v1.Group("",
		security.CORSMiddleware([]string{"*"}),
		s.rateLimiter.Middleware(),
		validation.IDParamMiddleware("id"),
	)
	h.RegisterRoutes(public)

	// Event ingestion from the trigger infrastructure
	ingest := v1.Group("", auth.RequireIngest(s.cfg.IngestSecret))
	h.RegisterIngestRoutes(ingest)

	adminGroup := v1.Group("/admin", auth.RequireAdmin(s.cfg.AdminSecret), validation.IDParamMiddleware("id"))
	h.RegisterAdminRoutes(adminGroup)

	ops := admin.NewHandler().WithSweeper(s.sweeper)
	if s.dispatcher != nil {
		breaker := s.dispatcher.Breaker()
		ops.WithBreaker(func(key string) string { return breaker.State(key).String() }, s.cfg.ReviewPromptURL)
	}
	ops.RegisterRoutes(adminGroup)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
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
	if ok, checks := s.health.CheckAll(c.Request.Context()); !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background workers, and blocks until a
// shutdown signal, ctx cancellation or a listener error.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           otelhttp.NewHandler(s.router, "repengine.http"),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Review prompt delivery outlives runCtx so Shutdown can drain the queue.
	if s.emitter != nil {
		s.emitter.Start(context.WithoutCancel(runCtx))
	}

	go s.sweeper.Start(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, dbStatsInterval)
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
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

	var shutdownErr error
	if s.httpSrv != nil {
		// Give load balancers time to stop sending traffic
		time.Sleep(s.drainDelay)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// No more events arrive; stop the workers that act on them.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.sweeper.Stop()
	s.logger.Info("expiry sweeper stopped")

	if s.emitter != nil {
		s.emitter.Stop()
		s.logger.Info("review prompt queue drained")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Service returns the reputation service.
func (s *Server) Service() *reputation.Service {
	return s.service
}
