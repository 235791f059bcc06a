package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	apihttp "github.com/nocodo/nocodo/backend/internal/api/http"
	"github.com/nocodo/nocodo/backend/internal/api/middleware"
	"github.com/nocodo/nocodo/backend/internal/api/ws"
	"github.com/nocodo/nocodo/backend/internal/domain/permission"
	"github.com/nocodo/nocodo/backend/internal/domain/tools"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/config"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/events"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/logging"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/monitoring"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/store"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/tracing"
	"github.com/nocodo/nocodo/backend/internal/providers/bash"
	"github.com/nocodo/nocodo/backend/internal/providers/process"
	"github.com/nocodo/nocodo/backend/internal/providers/terminal"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	config     *config.Config
	logger     *logging.Logger
	router     *gin.Engine
	httpServer *http.Server

	tools     *tools.Registry
	policy    *permission.Policy
	sessions  *terminal.Manager
	executor  *bash.Executor
	store     store.Store
	publisher events.Publisher
	tracer    *tracing.Tracer
	metrics   *monitoring.Metrics
}

// New builds every component from cfg. The tool registry and permission
// policy are loaded here once; failing to load either is fatal.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger.Info("Initializing nocodo server",
		zap.String("addr", cfg.Addr()),
		zap.String("project_root", cfg.Workspace.ProjectRoot),
		zap.String("store", cfg.Store.Driver))

	policy, err := loadPolicy(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	registry, err := loadTools(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded tool registry and permission policy",
		zap.Strings("tools", registry.Names()),
		zap.Int("rules", len(policy.Rules())))

	spawner, err := process.NewSpawner(cfg.Workspace.ProjectRoot,
		process.WithGracePeriod(cfg.Executor.KillGrace),
		process.WithLogger(logger.Named("process").Logger))
	if err != nil {
		return nil, fmt.Errorf("invalid project root: %w", err)
	}

	// Own registry so several servers can coexist in one process.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetricsWithRegistry(promRegistry)

	st, err := store.Open(ctx, store.Config{
		Driver: cfg.Store.Driver,
		DSN:    cfg.Store.DSN,
		Memory: store.MemoryConfig{
			TranscriptCap: cfg.Terminal.TranscriptCap,
			MaxSessions:   cfg.Store.MemorySessions,
		},
	}, logger.Named("store").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	publisher := newPublisher(cfg.Events, logger)
	tracer := tracing.New("nocodo", logger.Named("trace").Logger)

	executor := bash.New(spawner, policy, bash.Config{
		Shell:          cfg.Executor.Shell,
		DefaultTimeout: cfg.Executor.DefaultTimeout,
		MaxTimeout:     cfg.Executor.MaxTimeout,
		MaxOutputBytes: cfg.Executor.MaxOutputBytes,
		KillGrace:      cfg.Executor.KillGrace,
	},
		bash.WithLogger(logger.Named("bash").Logger),
		bash.WithMetrics(metrics),
		bash.WithPublisher(publisher))

	sessions := terminal.NewManager(spawner, registry, policy, terminal.Config{
		TranscriptCap: cfg.Terminal.TranscriptCap,
		IdleTimeout:   cfg.Terminal.IdleTimeout,
		Retention:     cfg.Terminal.Retention,
		SinkQueue:     cfg.Terminal.SinkQueue,
		KillGrace:     cfg.Executor.KillGrace,
	},
		terminal.WithLogger(logger.Named("terminal").Logger),
		terminal.WithMetrics(metrics),
		terminal.WithStore(st),
		terminal.WithPublisher(publisher))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst))
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(apihttp.Deps{
		Sessions: sessions,
		Executor: executor,
		Tools:    registry,
		Metrics:  metrics,
		Gatherer: promRegistry,
		Logger:   logger.Named("http").Logger,
	})
	handlers.Register(router)

	gateway := ws.NewGateway(sessions, ws.DefaultConfig(),
		ws.WithLogger(logger.Named("ws").Logger),
		ws.WithMetrics(metrics))
	router.GET("/ws/sessions/:id", gateway.HandleSession)

	logger.Info("Server initialized successfully")

	return &Server{
		config: cfg,
		logger: logger,
		router: router,
		httpServer: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		tools:     registry,
		policy:    policy,
		sessions:  sessions,
		executor:  executor,
		store:     st,
		publisher: publisher,
		tracer:    tracer,
		metrics:   metrics,
	}, nil
}

func loadPolicy(ws config.WorkspaceConfig) (*permission.Policy, error) {
	opts := []permission.Option{permission.WithSensitiveDirProtection(ws.ProtectSensitiveDirs)}
	if len(ws.AllowedDirs) > 0 {
		opts = append(opts, permission.WithAllowedDirs(ws.AllowedDirs...))
	}
	if ws.PolicyFile == "" {
		return permission.Default(opts...), nil
	}
	policy, err := permission.LoadFile(ws.PolicyFile, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load permission policy: %w", err)
	}
	return policy, nil
}

func loadTools(ws config.WorkspaceConfig) (*tools.Registry, error) {
	if ws.ToolsFile == "" {
		return tools.Default(), nil
	}
	registry, err := tools.LoadFile(ws.ToolsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool registry: %w", err)
	}
	return registry, nil
}

// newPublisher connects to NATS when configured. The event bus is optional,
// so a failed connection only costs the events.
func newPublisher(cfg config.EventsConfig, logger *logging.Logger) events.Publisher {
	if cfg.NATSURL == "" {
		return events.Nop{}
	}
	pub, err := events.NewNATSPublisher(events.NATSConfig{
		URL:           cfg.NATSURL,
		SubjectPrefix: cfg.SubjectPrefix,
		ClientName:    cfg.ClientName,
		MaxReconnects: cfg.MaxReconnects,
	}, logger.Named("events").Logger)
	if err != nil {
		logger.Warn("Failed to connect to NATS, lifecycle events disabled",
			zap.String("url", cfg.NATSURL),
			zap.Error(err))
		return events.Nop{}
	}
	logger.Info("Publishing lifecycle events", zap.String("url", cfg.NATSURL))
	return pub
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, terminates running sessions and
// releases the store and event bus.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.sessions.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	if err := s.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("event bus close: %w", err))
	}
	s.tracer.Close()

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Shutdown finished with errors", zap.Error(err))
		return err
	}
	s.logger.Info("Shutdown complete")
	_ = s.logger.Sync()
	return nil
}
