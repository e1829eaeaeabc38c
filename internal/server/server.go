// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/sentinelpay/triage/internal/actions"
	"github.com/sentinelpay/triage/internal/circuitbreaker"
	"github.com/sentinelpay/triage/internal/compliance"
	"github.com/sentinelpay/triage/internal/config"
	"github.com/sentinelpay/triage/internal/health"
	"github.com/sentinelpay/triage/internal/idempotency"
	"github.com/sentinelpay/triage/internal/keystore"
	"github.com/sentinelpay/triage/internal/knowledge"
	"github.com/sentinelpay/triage/internal/ledger"
	"github.com/sentinelpay/triage/internal/logging"
	"github.com/sentinelpay/triage/internal/metrics"
	"github.com/sentinelpay/triage/internal/ratelimit"
	"github.com/sentinelpay/triage/internal/realtime"
	"github.com/sentinelpay/triage/internal/risk"
	"github.com/sentinelpay/triage/internal/security"
	"github.com/sentinelpay/triage/internal/threat"
	"github.com/sentinelpay/triage/internal/traces"
	"github.com/sentinelpay/triage/internal/triage"
	"github.com/sentinelpay/triage/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	ledgerStore ledger.Store
	policyStore compliance.Store
	riskStore   risk.Store
	keys        keystore.Store
	memKeys     *keystore.MemoryStore // nil when Redis is configured
	redisClient *redis.Client
	db          *sql.DB // nil if using in-memory

	triageService *triage.Service
	actionService *actions.Service
	sessions      *triage.SessionStore
	hub           *realtime.Hub
	rateLimiter   *ratelimit.Limiter
	healthReg     *health.Registry

	router  *gin.Engine
	httpSrv *http.Server
	logger  *slog.Logger

	shutdownTraces func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

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

// WithLedgerStore injects a ledger store (for testing)
func WithLedgerStore(store ledger.Store) Option {
	return func(s *Server) {
		s.ledgerStore = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set stores/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

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
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		if s.ledgerStore == nil {
			ledgerStore := ledger.NewPostgresStore(db)
			if err := ledgerStore.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate ledger store", "error", err)
			}
			s.ledgerStore = ledgerStore
		}

		policyStore := compliance.NewPostgresStore(db)
		if err := policyStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate policy store", "error", err)
		}
		s.policyStore = policyStore

		riskStore := risk.NewPostgresStore(db)
		if err := riskStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate risk store", "error", err)
		}
		s.riskStore = riskStore
	} else {
		if s.ledgerStore == nil {
			mem := ledger.NewMemoryStore()
			mem.SeedDemo()
			s.ledgerStore = mem
		}
		s.policyStore = compliance.NewMemoryStore()
		s.riskStore = risk.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Seed the default policy set. Idempotent: existing policies are kept.
	if err := compliance.Seed(ctx, s.policyStore); err != nil {
		s.logger.Warn("failed to seed policies", "error", err)
	}

	// Shared keyed state (circuit breakers, rate limit buckets, idempotency
	// records): Redis when configured, in-process otherwise.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redisClient = redis.NewClient(opt)
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.keys = keystore.NewRedisStore(s.redisClient, "triage:")
		s.logger.Info("using Redis for shared state")
	} else {
		s.memKeys = keystore.NewMemoryStore()
		s.keys = s.memKeys
		s.logger.Info("using in-memory shared state")
	}

	// Knowledge base search: Qdrant when configured, keyword fallback otherwise.
	var searcher knowledge.Searcher
	if cfg.QdrantURL != "" {
		qs, err := knowledge.NewQdrantSearcher(knowledge.QdrantConfig{
			URL:        cfg.QdrantURL,
			Collection: cfg.QdrantCollection,
			APIKey:     cfg.QdrantAPIKey,
		})
		if err != nil {
			s.logger.Warn("failed to connect to Qdrant, using keyword search", "error", err)
			searcher = knowledge.NewMemorySearcher(nil)
		} else {
			searcher = qs
			s.logger.Info("knowledge base search enabled", "collection", cfg.QdrantCollection)
		}
	} else {
		searcher = knowledge.NewMemorySearcher(nil)
		s.logger.Info("knowledge base search enabled (keyword)")
	}

	// Card freezes go through Stripe Issuing when a key is configured.
	var freezer actions.CardFreezer
	if cfg.StripeAPIKey != "" {
		freezer = actions.NewStripeFreezer(cfg.StripeAPIKey)
		s.logger.Info("card freezes enabled (Stripe Issuing)")
	}

	breaker := circuitbreaker.New(s.keys, circuitbreaker.DefaultConfig(), s.logger)
	s.rateLimiter = ratelimit.New(s.keys, ratelimit.Config{
		Capacity:   cfg.RateLimitCapacity,
		RefillRate: cfg.RateLimitRefillPS,
		Window:     cfg.RateLimitWindow,
	}, s.logger)
	idem := idempotency.New(s.keys, s.logger)

	s.hub = realtime.NewHub(s.logger)
	s.sessions = triage.NewSessionStore()

	s.triageService = triage.NewService(
		triage.Config{
			MaxConcurrentSessions: cfg.MaxConcurrentSessions,
			StepTimeout:           cfg.StepTimeout,
			FlowTimeout:           cfg.FlowTimeout,
		},
		s.ledgerStore,
		risk.NewEngine(s.riskStore),
		compliance.NewEngine(s.policyStore, s.logger),
		threat.NewScreen(),
		searcher,
		nil, // default template summarizer
		breaker,
		s.sessions,
		s.hub,
		s.logger,
	)
	s.actionService = actions.NewService(freezer, s.ledgerStore, s.logger)

	s.registerHealthChecks()

	// Tracing (no-op when no OTLP endpoint is configured)
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
		shutdownTraces = func(context.Context) error { return nil }
	}
	s.shutdownTraces = shutdownTraces

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes(idem)

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

func (s *Server) registerHealthChecks() {
	s.healthReg.Register("sessions", func(context.Context) health.Status {
		return health.Status{
			Name:    "sessions",
			Healthy: true,
			Detail:  fmt.Sprintf("%d sessions in store", s.sessions.Size()),
		}
	})

	s.healthReg.Register("policies", func(ctx context.Context) health.Status {
		if _, err := s.policyStore.ListActive(ctx); err != nil {
			return health.Status{Name: "policies", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "policies", Healthy: true}
	})

	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	if s.redisClient != nil {
		s.healthReg.Register("redis", func(ctx context.Context) health.Status {
			if err := s.redisClient.Ping(ctx).Err(); err != nil {
				return health.Status{Name: "redis", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "redis", Healthy: true}
		})
	}
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

	// CORS
	s.router.Use(security.CORSMiddleware(s.cfg.CORSAllowedOrigins))

	// Request size limit
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

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

func (s *Server) setupRoutes(idem *idempotency.Coordinator) {
	// Health & metrics endpoints
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/", s.infoHandler)

	// V1 API group, rate limited per (session, endpoint)
	v1 := s.router.Group("/v1")
	v1.Use(s.rateLimiter.Middleware())

	triageHandler := triage.NewHandler(s.triageService, s.hub, s.logger)
	triageHandler.RegisterRoutes(v1)

	actionHandler := actions.NewHandler(s.actionService, idem, s.logger)
	actionHandler.RegisterRoutes(v1)

	compliance.NewHandler(s.policyStore).RegisterRoutes(v1)
	risk.NewHandler(s.riskStore).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "sentinel-triage",
		"description": "Fraud triage pipeline orchestrator",
		"version":     "0.1.0",
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

	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": statuses})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": statuses})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
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

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Evict terminal sessions after the retention window
	go s.sessions.StartRetentionSweep(runCtx, s.cfg.SessionRetention, s.logger)

	// Expired keystore entries are swept only in memory mode; Redis handles
	// TTLs natively.
	if s.memKeys != nil {
		go s.runKeySweep(runCtx)
	}

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

func (s *Server) runKeySweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.memKeys.Sweep(); removed > 0 {
				s.logger.Debug("swept expired keystore entries", "removed", removed)
			}
		}
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweepers)
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

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	// Close Redis connection
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
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

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
