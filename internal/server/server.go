// Package server sets up the HTTP server with all routes
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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/fleetmaster/fleetmaster/internal/access"
	"github.com/fleetmaster/fleetmaster/internal/account"
	"github.com/fleetmaster/fleetmaster/internal/arrears"
	"github.com/fleetmaster/fleetmaster/internal/auth"
	"github.com/fleetmaster/fleetmaster/internal/config"
	"github.com/fleetmaster/fleetmaster/internal/gateway"
	"github.com/fleetmaster/fleetmaster/internal/health"
	"github.com/fleetmaster/fleetmaster/internal/ledger"
	"github.com/fleetmaster/fleetmaster/internal/license"
	"github.com/fleetmaster/fleetmaster/internal/logging"
	"github.com/fleetmaster/fleetmaster/internal/metrics"
	"github.com/fleetmaster/fleetmaster/internal/notify"
	"github.com/fleetmaster/fleetmaster/internal/plan"
	"github.com/fleetmaster/fleetmaster/internal/ratelimit"
	"github.com/fleetmaster/fleetmaster/internal/security"
	"github.com/fleetmaster/fleetmaster/internal/subscription"
	"github.com/fleetmaster/fleetmaster/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	db          *sql.DB // nil if using in-memory
	tokens      *auth.Tokens
	accounts    *account.Service
	subs        subscription.Store
	fulfillment *subscription.Fulfillment
	ledgerStore ledger.Store
	overrides   license.OverrideStore
	keys        license.KeyStore
	redeemer    *license.Redeemer
	checkout    *gateway.Checkout
	reconciler  *gateway.Reconciler
	arrears     *arrears.Engine
	arrearStore arrears.Store
	fleet       fleetDirectory
	notifier    *notify.Service
	rateLimiter *ratelimit.Limiter
	checksReg   *health.Registry
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	cancelRun   context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// fleetDirectory is the writable view of the vehicle rent lookup. The
// wider fleet product owns vehicle CRUD; this service only needs the
// expected rent per vehicle, seeded through the admin endpoint.
type fleetDirectory interface {
	arrears.VehicleDirectory
	Set(ctx context.Context, vehicleID string, expectedRent int64) error
}

// memoryFleet adapts the in-memory vehicle directory to fleetDirectory.
type memoryFleet struct {
	*arrears.MemoryVehicles
}

func (m memoryFleet) Set(ctx context.Context, vehicleID string, expectedRent int64) error {
	m.MemoryVehicles.Set(vehicleID, expectedRent)
	return nil
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
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
		s.accounts = account.NewService(account.NewPostgresStore(db))
		s.subs = subscription.NewPostgresStore(db)
		s.ledgerStore = ledger.NewPostgresStore(db)
		s.overrides = license.NewPostgresOverrideStore(db)
		s.keys = license.NewPostgresKeyStore(db)
		s.arrearStore = arrears.NewPostgresStore(db)
		s.fleet = arrears.NewPostgresVehicles(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.accounts = account.NewService(account.NewMemoryStore())
		s.subs = subscription.NewMemoryStore()
		s.ledgerStore = ledger.NewMemoryStore()
		s.overrides = license.NewMemoryOverrideStore()
		s.keys = license.NewMemoryKeyStore()
		s.arrearStore = arrears.NewMemoryStore()
		s.fleet = memoryFleet{arrears.NewMemoryVehicles()}
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Notifications: SMTP when configured, otherwise log-only
	var mailer notify.Mailer
	if cfg.SMTPHost != "" {
		mailer = notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPSender)
		s.logger.Info("SMTP notifications enabled", "host", cfg.SMTPHost)
	}
	s.notifier = notify.NewService(mailer, cfg.OperatorEmail, s.logger)

	// Sessions
	s.tokens = auth.NewTokens(cfg.SessionSecret, cfg.SessionTTL)

	// Billing pipeline
	s.fulfillment = subscription.NewFulfillment(s.subs, s.logger)
	signer := gateway.NewSigner(cfg.GatewayIntegritySecret, cfg.GatewayEventsSecret)
	s.checkout = gateway.NewCheckout(s.ledgerStore, s.subs, signer, cfg.GatewayPublicKey, cfg.Currency, cfg.GatewayRedirectURL, s.logger)
	s.reconciler = gateway.NewReconciler(s.ledgerStore, s.fulfillment, s.notifier, signer, cfg.Currency, s.logger)

	// Licensing
	s.redeemer = license.NewRedeemer(s.keys, s.subs, s.fulfillment, s.logger)

	// Arrears
	s.arrears = arrears.NewEngine(s.arrearStore, s.fleet, s.logger)

	// Health checks
	s.checksReg = health.NewRegistry()
	if s.db != nil {
		s.checksReg.Register("database", health.DatabaseChecker(s.db))
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS: locked down in production, open elsewhere for local clients
	origins := []string{"*"}
	if s.cfg.IsProduction() {
		origins = []string{"https://app.fleetmaster.co", "https://fleetmaster.co"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         ratelimit.DefaultConfig().BurstSize,
	})
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

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	resolver := &statusResolver{overrides: s.overrides, subs: s.subs, now: time.Now}
	accountHandler := account.NewHandler(s.accounts, s.tokens, resolver, s.notifier, s.logger)
	gatewayHandler := gateway.NewHandler(s.checkout, s.reconciler, s.ledgerStore, s.logger)
	licenseHandler := license.NewHandler(s.overrides, s.keys, s.redeemer, s.logger)
	arrearsHandler := arrears.NewHandler(s.arrears, s.arrearStore, s.logger)

	// PUBLIC ROUTES (no session required)
	accountHandler.RegisterPublicRoutes(v1)

	// Webhook intake: authenticated by the event checksum, not a session
	gatewayHandler.RegisterWebhookRoutes(v1)

	// PROTECTED ROUTES (require session token)
	protected := v1.Group("")
	protected.Use(auth.RequireSession(s.tokens))
	{
		accountHandler.RegisterRoutes(protected)
		gatewayHandler.RegisterRoutes(protected)
		licenseHandler.RegisterRoutes(protected)
		arrearsHandler.RegisterRoutes(protected)
	}

	// ADMIN ROUTES (X-Admin-Secret header)
	admin := v1.Group("")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	{
		licenseHandler.RegisterAdminRoutes(admin)
		admin.POST("/admin/vehicles", s.setVehicleRent)
	}
}

// -----------------------------------------------------------------------------
// Access resolution
// -----------------------------------------------------------------------------

// statusResolver derives a tenant's access decision from the override
// and subscription stores. Both lookups tolerate not-found; any other
// store error aborts the evaluation.
type statusResolver struct {
	overrides license.OverrideStore
	subs      subscription.Store
	now       func() time.Time
}

func (r *statusResolver) Resolve(ctx context.Context, t *account.Tenant) (access.AccountStatus, error) {
	now := r.now()
	in := access.Input{
		Role:      t.Role,
		Confirmed: t.Confirmed,
		CreatedAt: t.CreatedAt,
	}

	switch o, err := r.overrides.LatestActive(ctx, t.ID, now); {
	case err == nil:
		in.Override = &access.Grant{Plan: o.Plan, ExpiresAt: o.ExpiresAt}
	case !errors.Is(err, license.ErrOverrideNotFound):
		return access.AccountStatus{}, fmt.Errorf("resolve override: %w", err)
	}

	switch sub, err := r.subs.ActiveForTenant(ctx, t.ID, now); {
	case err == nil:
		in.Subscription = &access.Paid{Plan: sub.Plan, DueAt: sub.DueAt}
	case !errors.Is(err, subscription.ErrNotFound):
		return access.AccountStatus{}, fmt.Errorf("resolve subscription: %w", err)
	}

	return access.Evaluate(in, now), nil
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse is the /health payload
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checksReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":     "fleetmaster-billing",
		"version":  "0.1.0",
		"currency": s.cfg.Currency,
		"plans":    plan.Names(),
	})
}

type vehicleRentRequest struct {
	VehicleID    string `json:"vehicleId" binding:"required"`
	ExpectedRent int64  `json:"expectedRent" binding:"required,gt=0"`
}

// setVehicleRent handles POST /v1/admin/vehicles. The fleet product owns
// vehicle CRUD; this endpoint only seeds the rent figure the arrears
// engine compares payments against.
func (s *Server) setVehicleRent(c *gin.Context) {
	var req vehicleRentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if err := s.fleet.Set(c.Request.Context(), req.VehicleID, req.ExpectedRent); err != nil {
		logging.L(c.Request.Context()).Error("failed to set vehicle rent", "error", err, "vehicle", req.VehicleID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to store vehicle rent",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vehicleId":    req.VehicleID,
		"expectedRent": req.ExpectedRent,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

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

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Export connection pool gauges
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

	if s.cancelRun != nil {
		s.cancelRun()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
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
