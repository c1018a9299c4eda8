package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/ventureflow/api/handlers"
	"github.com/BaSui01/ventureflow/config"
	"github.com/BaSui01/ventureflow/internal/database"
	"github.com/BaSui01/ventureflow/internal/metrics"
	"github.com/BaSui01/ventureflow/internal/quota"
	"github.com/BaSui01/ventureflow/internal/server"
	"github.com/BaSui01/ventureflow/pipeline"
	"github.com/BaSui01/ventureflow/store"
)

// Server wires the pipeline, persistence, and HTTP surfaces together and
// owns their lifecycle.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	pool     *database.Pool
	store    *store.Store
	limiter  quota.Limiter
	registry *pipeline.Registry
	bus      *pipeline.Bus
	runner   *pipeline.Runner

	collector *metrics.Collector

	httpManager    *server.Manager
	metricsManager *server.Manager

	rateLimiterCancel context.CancelFunc
	statsStop         chan struct{}
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		statsStop: make(chan struct{}),
	}

	s.collector = metrics.NewCollector("ventureflow", logger)

	pool, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s.pool = pool
	s.store = store.New(pool.DB(), logger)

	quotaCfg := quota.Config{
		Limit:  cfg.Pipeline.QuotaLimit,
		Window: cfg.Pipeline.QuotaWindow,
	}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.limiter = quota.NewRedisLimiter(client, quotaCfg, logger)
		logger.Info("quota limiter using redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		s.limiter = quota.NewMemoryLimiter(quotaCfg)
		logger.Info("quota limiter using in-process windows")
	}

	s.bus = pipeline.NewBus(logger)
	s.registry = pipeline.NewRegistry(logger)
	client := pipeline.NewClient(cfg.Pipeline, logger)
	recorder := pipeline.NewRecorder(s.store, s.collector, logger)
	s.runner = pipeline.NewRunner(client, recorder, s.store, s.registry, s.bus, s.collector, cfg.Pipeline.Budget, logger)

	return s, nil
}

// Start brings up the API and metrics listeners. It returns once both
// are accepting connections.
func (s *Server) Start() error {
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	go s.reportDBStats()

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort))
	return nil
}

func (s *Server) startHTTPServer() error {
	healthHandler := handlers.NewHealthHandler(s.logger, Version)
	healthHandler.RegisterCheck(handlers.HealthCheckFunc{
		CheckName: "database",
		Fn:        s.pool.Ping,
	})

	validatorHandler := handlers.NewValidatorHandler(
		s.store, s.runner, s.limiter,
		s.cfg.Pipeline.InputMinChars, s.cfg.Pipeline.InputMaxChars,
		s.logger)
	eventsHandler := handlers.NewEventsHandler(s.store, s.bus, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", healthHandler.HandleReady)
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"version":    Version,
			"build_time": BuildTime,
			"git_commit": GitCommit,
		})
	})

	mux.HandleFunc("POST /api/v1/validator/sessions", validatorHandler.HandleStart)
	mux.HandleFunc("GET /api/v1/validator/sessions/{id}", validatorHandler.HandleStatus)
	mux.HandleFunc("GET /api/v1/validator/sessions/{id}/events", eventsHandler.HandleEvents)
	mux.HandleFunc("GET /api/v1/validator/reports/{id}", validatorHandler.HandleReport)

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		MetricsMiddleware(s.collector),
		OTelTracing("ventureflow"),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// reportDBStats feeds connection pool gauges until shutdown.
func (s *Server) reportDBStats() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.statsStop:
			return
		case <-ticker.C:
			stats := s.pool.Stats()
			s.collector.UpdateDBStats(stats.OpenConnections, stats.Idle)
		}
	}
}

// WaitForSignal blocks until the process receives a termination signal
// or a listener fails.
func (s *Server) WaitForSignal() {
	s.httpManager.WaitForSignal()
}

// Shutdown tears the service down in dependency order: stop accepting
// requests, mark still-running sessions failed, then release backends.
// The registry sweep must happen while the database is still open.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	close(s.statsStop)

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	// In-flight pipelines die with the process; flip their sessions to
	// failed so pollers see a terminal state instead of hanging.
	if n := s.registry.Sweep(ctx, "service shut down before pipeline finished"); n > 0 {
		s.logger.Warn("orphaned sessions marked failed", zap.Int("count", n))
	}

	if err := s.limiter.Close(); err != nil {
		s.logger.Error("quota limiter close error", zap.Error(err))
	}
	if err := s.pool.Close(); err != nil {
		s.logger.Error("database close error", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}
