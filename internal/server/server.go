// Package server wires the settlement engine together: HTTP API,
// storage, the auto-release sweeper, and real-time streaming.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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
	_ "github.com/lib/pq"

	"github.com/autorenta/settlement/internal/booking"
	"github.com/autorenta/settlement/internal/config"
	"github.com/autorenta/settlement/internal/contract"
	"github.com/autorenta/settlement/internal/insurance"
	"github.com/autorenta/settlement/internal/logging"
	"github.com/autorenta/settlement/internal/metrics"
	"github.com/autorenta/settlement/internal/payments"
	"github.com/autorenta/settlement/internal/ratelimit"
	"github.com/autorenta/settlement/internal/realtime"
	"github.com/autorenta/settlement/internal/security"
	"github.com/autorenta/settlement/internal/traces"
	"github.com/autorenta/settlement/internal/validation"
	"github.com/autorenta/settlement/internal/wallet"
)

// Server is the settlement engine HTTP server
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	router  *gin.Engine
	httpSrv *http.Server
	db      *sql.DB

	wallet    *wallet.Service
	contracts *contract.Service
	insurance *insurance.Service
	bookings  *booking.Service

	activator insurance.Activator
	capturer  payments.Capturer

	hub         *realtime.Hub
	sweeper     *booking.Sweeper
	rateLimiter *ratelimit.Limiter

	traceShutdown func(context.Context) error
	cancelRunCtx  context.CancelFunc

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

// WithActivator overrides the insurance activator (used in tests and
// when wiring a real provider integration).
func WithActivator(a insurance.Activator) Option {
	return func(s *Server) {
		s.activator = a
	}
}

// WithCapturer overrides the card capturer.
func WithCapturer(c payments.Capturer) Option {
	return func(s *Server) {
		s.capturer = c
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	// Apply options first (may set logger/activator/capturer)
	for _, opt := range opts {
		opt(s)
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Rate limiter is shared: per-IP buckets at the HTTP layer, burst
	// protection per account inside the wallet service.
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimitRPM,
		BurstSize:         cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
	})

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		walletStore   wallet.Store
		contractStore contract.Store
		issueStore    insurance.IssueStore
		bookingStore  booking.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		walletStore = wallet.NewPostgresStore(db)
		contractStore = contract.NewPostgresStore(db)
		issueStore = insurance.NewPostgresIssueStore(db)
		bookingStore = booking.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		walletStore = wallet.NewMemoryStore()
		contractStore = contract.NewMemoryStore()
		issueStore = insurance.NewMemoryIssueStore()
		bookingStore = booking.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.wallet = wallet.NewService(walletStore,
		wallet.WithLimiter(s.rateLimiter),
		wallet.WithLockWait(cfg.LockWaitTimeout),
	)
	s.contracts = contract.NewService(contractStore, cfg.ContractWindow)

	if s.activator == nil {
		s.activator = loggingActivator(s.logger)
		s.logger.Info("insurance activation in log-only mode (no provider configured)")
	}
	s.insurance = insurance.NewService(s.activator, issueStore, cfg.InsuranceAttempts, cfg.InsuranceBackoff)

	s.hub = realtime.NewHub(s.logger)
	s.insurance.WithNotifier(s.hub)

	if s.capturer == nil {
		if cfg.StripeSecretKey != "" {
			// Circuit-break captures so a struggling provider fails fast.
			s.capturer = payments.NewGuardedCapturer(
				payments.NewStripeCapturer(cfg.StripeSecretKey), 5, 30*time.Second)
			s.logger.Info("card capture enabled (stripe)")
		} else {
			s.capturer = payments.NewMemoryCapturer()
			s.logger.Info("card capture in test mode (no STRIPE_SECRET_KEY set)")
		}
	}

	s.bookings = booking.NewService(bookingStore, s.wallet, s.contracts, s.insurance, cfg.SettlementWindow).
		WithCapturer(s.capturer).
		WithNotifier(s.hub)
	s.sweeper = booking.NewSweeper(s.bookings, bookingStore, cfg.SweepInterval, s.logger)

	s.healthy.Store(true)

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// loggingActivator stands in for a real insurance provider integration.
// It records the activation so the rest of the flow is exercised end to
// end; swap in a provider-backed Activator via WithActivator.
func loggingActivator(logger *slog.Logger) insurance.ActivatorFunc {
	return func(ctx context.Context, bookingID string) error {
		logger.Info("insurance policy activated", "booking_id", bookingID)
		return nil
	}
}

// maskDSN hides the password in a connection string for logging
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
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

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
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

	// WebSocket for real-time booking lifecycle streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// V1 API group
	v1 := s.router.Group("/v1")

	wallet.NewHandler(s.wallet).RegisterRoutes(v1)
	contract.NewHandler(s.contracts).RegisterRoutes(v1)
	insurance.NewHandler(s.insurance).RegisterRoutes(v1)
	booking.NewHandler(s.bookings).RegisterRoutes(v1)
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
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "in-memory"
	}

	if s.sweeper.Running() {
		checks["sweeper"] = "running"
	} else {
		checks["sweeper"] = "stopped"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if checks["database"] == "unhealthy" {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
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
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Distributed tracing (no-op when no OTLP endpoint configured)
	traceShutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.traceShutdown = traceShutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"settlement_window", s.cfg.SettlementWindow.String(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Start auto-release sweeper
	go s.sweeper.Start(runCtx)

	// Collect DB pool stats for Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

	select {
	case err := <-errChan:
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

	// Cancel the context for all background goroutines (hub, sweeper)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop auto-release sweeper
	if s.sweeper != nil {
		s.sweeper.Stop()
		s.logger.Info("auto-release sweeper stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush pending trace spans
	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
