// Package server wires the settlement platform together and serves it
// over HTTP.
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
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

	"github.com/llLeco/parametric-ecosphere-sub000/internal/attestation"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/cession"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/config"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/health"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/ledgerpub"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/logging"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/metrics"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/oracle"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/payout"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/pipeline"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/policy"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/pool"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/ratelimit"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/realtime"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/retry"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/traces"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/trigger"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and the settlement services.
type Server struct {
	cfg *config.Config

	oracles      *oracle.Registry
	engine       *attestation.Engine
	attTimer     *attestation.Timer
	policies     *policy.Service
	policyTimer  *policy.Timer
	pools        *pool.Ledger
	reconciler   *pool.Reconciler
	triggers     *trigger.Service
	triggerTimer *trigger.Timer
	orchestrator *payout.Orchestrator
	scheduler    *payout.Scheduler
	cessions     *cession.Service
	pipeline     *pipeline.Pipeline
	publisher    ledgerpub.Publisher
	watcher      *ledgerpub.FinalityWatcher
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry

	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc
	tracesCleanup func(context.Context) error

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

// WithPublisher sets a custom ledger publisher (for testing).
func WithPublisher(p ledgerpub.Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Ledger gateway. The in-process publisher stands in for the real
	// consensus ledger; confirmations accrue on a simulated clock.
	if s.publisher == nil {
		pub := ledgerpub.NewMemoryPublisher()
		pub.ConfirmationsPerSecond = 1000
		s.publisher = pub
	}
	s.watcher = ledgerpub.NewFinalityWatcher(
		s.publisher, cfg.FinalityConfirmations, cfg.FinalityPollInterval, s.logger)

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		oracleStore  oracle.Store
		sourceStore  oracle.DataSourceStore
		attStore     attestation.Store
		policyStore  policy.Store
		poolStore    pool.Store
		triggerStore trigger.Store
		payoutStore  payout.Store
		cessionStore cession.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// The database is often still coming up when we are; give it a
		// few seconds before giving up.
		pingCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err = retry.Do(pingCtx, 5, time.Second, func() error {
			return db.PingContext(pingCtx)
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		oracles := oracle.NewPostgresStore(db)
		attestations := attestation.NewPostgresStore(db)
		policies := policy.NewPostgresStore(db)
		pools := pool.NewPostgresStore(db)
		triggers := trigger.NewPostgresStore(db)
		payouts := payout.NewPostgresStore(db)
		cessions := cession.NewPostgresStore(db)
		for name, m := range map[string]migrator{
			"oracle": oracles, "attestation": attestations, "policy": policies,
			"pool": pools, "trigger": triggers, "payout": payouts, "cession": cessions,
		} {
			if err := m.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate store", "store", name, "error", err)
			}
		}
		oracleStore = oracles
		sourceStore = oracles
		attStore = attestations
		policyStore = policies
		poolStore = pools
		triggerStore = triggers
		payoutStore = payouts
		cessionStore = cessions
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		oracleMem := oracle.NewMemoryStore()
		oracleStore = oracleMem
		sourceStore = oracleMem
		attStore = attestation.NewMemoryStore()
		policyStore = policy.NewMemoryStore()
		poolStore = pool.NewMemoryStore()
		triggerStore = trigger.NewMemoryStore()
		payoutStore = payout.NewMemoryStore()
		cessionStore = cession.NewMemoryStore()
	}

	// Oracle registry and consensus engine
	s.oracles = oracle.NewRegistry(oracleStore).
		WithDataSources(sourceStore).
		WithLogger(s.logger)
	s.engine = attestation.NewEngine(attStore, s.oracles, oracle.FormatVerifier{}, attestation.EngineConfig{
		RequiredSignatures: cfg.RequiredSignatures,
		WeightThreshold:    cfg.WeightThreshold,
		OutlierZScore:      cfg.OutlierZScore,
		TTL:                cfg.AttestationTTL,
		SlashingFraction:   cfg.SlashingFraction,
	}).WithLogger(s.logger)
	s.attTimer = attestation.NewTimer(s.engine, attStore, s.logger)

	// Risk pools
	s.pools = pool.NewLedger(poolStore).WithLogger(s.logger).WithPublisher(s.publisher)
	s.reconciler = pool.NewReconciler(poolStore, s.logger)

	// Policies. Premium pool shares flow straight into the risk pool.
	s.policies = policy.NewService(policyStore).
		WithLogger(s.logger).
		WithPoolCreditor(&poolCreditorAdapter{s.pools}).
		WithPublisher(s.publisher)
	s.policyTimer = policy.NewTimer(s.policies, policyStore, s.logger)

	// Triggers
	s.triggers = trigger.NewService(triggerStore, s.policies, cfg.TriggerTTL).
		WithLogger(s.logger).
		WithAttestationOpener(s.engine).
		WithPublisher(s.publisher)
	s.triggerTimer = trigger.NewTimer(triggerStore, s.logger)

	// Payout orchestration
	s.orchestrator = payout.NewOrchestrator(payoutStore, s.pools, s.policies, s.publisher, payout.Config{
		MaxRetries:        cfg.MaxRetries,
		RetryBaseDelay:    cfg.RetryBaseDelay,
		BackoffMultiplier: cfg.BackoffMultiplier,
	}).WithLogger(s.logger).WithFinalityWatcher(s.watcher)
	s.scheduler = payout.NewScheduler(s.orchestrator, payoutStore, cfg.RetrySweepInterval, s.logger)

	// Cessions
	s.cessions = cession.NewService(cessionStore).
		WithLogger(s.logger).
		WithPublisher(s.publisher)
	s.orchestrator.WithCessionDesk(s.cessions)

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	// The pipeline closes the loop: consensus -> trigger -> payout -> policy.
	s.pipeline = pipeline.New(s.triggers, s.policies, s.orchestrator).
		WithLogger(s.logger).
		WithHub(s.realtimeHub)
	s.engine.WithSink(s.pipeline)
	s.cessions.WithFundingSink(s.pipeline)
	s.orchestrator.WithCompletionHook(s.pipeline.PayoutCompleted)

	s.registerHealthChecks()

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

type migrator interface {
	Migrate(ctx context.Context) error
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

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig(s.cfg.RateLimitRPS))
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

// adminMiddleware guards mutating routes with the shared admin secret.
// Without a configured secret only development mode lets requests pass.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsDevelopment() {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "ADMIN_SECRET is not configured",
			})
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret",
			})
			return
		}

		c.Next()
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

	// WebSocket for real-time settlement events
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	v1.Use(validation.IDParamMiddleware())

	oracleHandler := oracle.NewHandler(s.oracles)
	attestationHandler := attestation.NewHandler(s.engine)
	policyHandler := policy.NewHandler(s.policies)
	poolHandler := pool.NewHandler(s.pools)
	triggerHandler := trigger.NewHandler(s.triggers)
	payoutHandler := payout.NewHandler(s.orchestrator)
	cessionHandler := cession.NewHandler(s.cessions)

	// PUBLIC ROUTES. Reads are open. Oracle submissions authenticate
	// through their signatures; event reports stay open because every
	// claimed measurement is independently attested before anything moves.
	oracleHandler.RegisterRoutes(v1)
	attestationHandler.RegisterRoutes(v1)
	policyHandler.RegisterRoutes(v1)
	poolHandler.RegisterRoutes(v1)
	triggerHandler.RegisterRoutes(v1)
	payoutHandler.RegisterRoutes(v1)
	cessionHandler.RegisterRoutes(v1)

	// PROTECTED ROUTES (platform operators and the reinsurance desk)
	admin := v1.Group("")
	admin.Use(s.adminMiddleware())
	{
		oracleHandler.RegisterProtectedRoutes(admin)
		policyHandler.RegisterProtectedRoutes(admin)
		poolHandler.RegisterProtectedRoutes(admin)
		payoutHandler.RegisterProtectedRoutes(admin)
		cessionHandler.RegisterProtectedRoutes(admin)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		db := s.db
		s.checks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	s.checks.Register("ledger", func(ctx context.Context) health.Status {
		// A publish round-trip would cost a real transaction; checking an
		// unknown ID exercises the connection without one.
		_, err := s.publisher.Confirmations(ctx, "tx_healthcheck")
		if err != nil && !errors.Is(err, ledgerpub.ErrUnknownTransaction) {
			return health.Status{Name: "ledger", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "ledger", Healthy: true}
	})
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

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
		"name":        "Ecosphere",
		"description": "Parametric insurance settlement platform",
		"version":     "0.1.0",
		"consensus": gin.H{
			"requiredSignatures": s.cfg.RequiredSignatures,
			"weightThreshold":    s.cfg.WeightThreshold,
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	if s.cfg.OTLPEndpoint != "" {
		cleanup, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("failed to initialize tracing", "error", err)
		} else {
			s.tracesCleanup = cleanup
		}
	}

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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Background loops: realtime hub, expiry timers, retry scheduler,
	// pool reconciliation, ledger finality tracking, runtime metrics.
	go s.realtimeHub.Run(runCtx)
	go s.attTimer.Start(runCtx)
	go s.policyTimer.Start(runCtx)
	go s.triggerTimer.Start(runCtx)
	go s.scheduler.Start(runCtx)
	go s.reconciler.Start(runCtx)
	go s.watcher.Start(runCtx)
	go metrics.CollectRuntime(runCtx, s.db, 15*time.Second)

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

	// Cancel the context for all background goroutines
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

	s.attTimer.Stop()
	s.policyTimer.Stop()
	s.triggerTimer.Stop()
	s.scheduler.Stop()
	s.reconciler.Stop()
	s.watcher.Stop()
	s.logger.Info("background loops stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.tracesCleanup != nil {
		if err := s.tracesCleanup(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// poolCreditorAdapter narrows pool.Ledger to policy.PoolCreditor.
type poolCreditorAdapter struct {
	pools *pool.Ledger
}

func (a *poolCreditorAdapter) Credit(ctx context.Context, poolID string, amount int64) error {
	_, err := a.pools.Credit(ctx, poolID, amount)
	return err
}
