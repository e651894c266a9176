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

	"github.com/rentwise/riskd/internal/auth"
	"github.com/rentwise/riskd/internal/booking"
	"github.com/rentwise/riskd/internal/compliance"
	"github.com/rentwise/riskd/internal/config"
	"github.com/rentwise/riskd/internal/enforcement"
	"github.com/rentwise/riskd/internal/health"
	"github.com/rentwise/riskd/internal/logging"
	"github.com/rentwise/riskd/internal/metrics"
	"github.com/rentwise/riskd/internal/profile"
	"github.com/rentwise/riskd/internal/ratelimit"
	"github.com/rentwise/riskd/internal/realtime"
	"github.com/rentwise/riskd/internal/security"
	"github.com/rentwise/riskd/internal/stats"
	"github.com/rentwise/riskd/internal/validation"
	"github.com/rentwise/riskd/internal/violation"
	"github.com/rentwise/riskd/migrations"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	version      string
	authMgr      *auth.Manager
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	profiles    *profile.Service
	bookings    *booking.Service
	violations  *violation.Service
	enforcement *enforcement.Service
	compliance  *compliance.Service
	stats       *stats.Service

	ready atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by the health endpoints.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// stores groups one backend's stores.
type stores struct {
	profiles    profile.Store
	bookings    booking.Store
	violations  violation.Store
	enforcement enforcement.Store
	compliance  compliance.Store
}

func memoryStores() stores {
	return stores{
		profiles:    profile.NewMemoryStore(),
		bookings:    booking.NewMemoryStore(),
		violations:  violation.NewMemoryStore(),
		enforcement: enforcement.NewMemoryStore(),
		compliance:  compliance.NewMemoryStore(),
	}
}

func postgresStores(db *sql.DB) stores {
	return stores{
		profiles:    profile.NewPostgresStore(db),
		bookings:    booking.NewPostgresStore(db),
		violations:  violation.NewPostgresStore(db),
		enforcement: enforcement.NewPostgresStore(db),
		compliance:  compliance.NewPostgresStore(db),
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		version: "dev",
		logger:  logging.New(cfg.LogLevel, cfg.LogFormat),
		health:  health.NewRegistry(2 * time.Second),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	var st stores
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.AutoMigrate {
			if err := migrations.Up(ctx, db); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to migrate database: %w", err)
			}
			s.logger.Info("database migrations applied")
		}

		s.db = db
		st = postgresStores(db)
		s.health.Register("postgres", health.PingChecker("postgres", db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		st = memoryStores()
		s.health.Register("storage", health.Static("storage", "in-memory"))
		s.logger.Info("using in-memory storage (data will not persist)")
	}
	s.health.Register("server", s.readyCheck)

	s.authMgr = auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer)
	s.realtimeHub = realtime.NewHub(s.logger)
	events := &eventPublisher{hub: s.realtimeHub, logger: s.logger}

	s.profiles = profile.NewService(st.profiles, profile.Config{
		BulkMaxItems:        cfg.BulkMaxItems,
		BulkWorkers:         cfg.BulkWorkers,
		AllowSlugCategories: cfg.AllowSlugCategories,
	}).WithEvents(events)
	s.bookings = booking.NewService(st.bookings, cfg.AllowSlugCategories)
	s.violations = violation.NewService(st.violations, s.bookings).WithEvents(events)
	s.enforcement = enforcement.NewService(st.enforcement, s.violations).WithEvents(events)
	s.compliance = compliance.NewService(st.compliance, s.profiles, s.bookings, s.violations, compliance.Config{
		Dedupe:              cfg.DedupeEnforcement,
		BulkMaxItems:        cfg.BulkMaxItems,
		BulkWorkers:         cfg.BulkWorkers,
		AllowSlugCategories: cfg.AllowSlugCategories,
	}).WithEvents(events)
	s.stats = stats.NewService(s.profiles, s.violations, s.enforcement, s.compliance)
	events.violations = s.violations

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

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

func (s *Server) readyCheck(context.Context) health.Status {
	if !s.ready.Load() {
		return health.Status{Name: "server", Healthy: false, Detail: "not accepting traffic"}
	}
	return health.Status{Name: "server", Healthy: true}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
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

	s.router.Use(security.HeadersMiddleware(s.cfg.IsProduction()))
	s.router.Use(security.CORSMiddleware(security.ParseOrigins(s.cfg.CORSOrigins)))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize, validation.MaxBulkRequestSize))
	s.router.Use(s.requestIDMiddleware())

	// Tokens are verified before rate limiting so limits are per user.
	s.router.Use(auth.Middleware(s.authMgr))
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig(s.cfg.RateLimitRPM))
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
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

// wsTokenMiddleware lets browser clients pass the bearer token as ?token=
// since they cannot set headers on a WebSocket upgrade.
func (s *Server) wsTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := auth.GetPrincipal(c); !ok {
			if token := c.Query("token"); token != "" {
				if p, err := s.authMgr.Verify(token); err == nil {
					c.Set(auth.ContextKeyPrincipal, p)
				}
			}
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	health.NewHandler(s.health, s.version).RegisterRoutes(s.router)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/ws", s.wsTokenMiddleware(), auth.RequireAuth(), func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// Every v1 route requires a token; role gates live in each handler.
	v1 := s.router.Group("/v1")
	v1.Use(auth.RequireAuth())
	{
		(&auth.Handler{}).RegisterRoutes(v1)
		profile.NewHandler(s.profiles).RegisterRoutes(v1)
		booking.NewHandler(s.bookings).RegisterRoutes(v1)
		violation.NewHandler(s.violations).RegisterRoutes(v1)
		enforcement.NewHandler(s.enforcement).RegisterRoutes(v1)
		compliance.NewHandler(s.compliance).RegisterRoutes(v1)
		stats.NewHandler(s.stats).RegisterRoutes(v1)

		v1.GET("/realtime/stats", auth.RequireRole(auth.Admins...), func(c *gin.Context) {
			c.JSON(http.StatusOK, s.realtimeHub.Stats())
		})
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
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
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// AuthManager returns the token manager, for issuing tokens in tests.
func (s *Server) AuthManager() *auth.Manager {
	return s.authMgr
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
