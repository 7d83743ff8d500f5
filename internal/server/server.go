// Package server wires the supervisor together and exposes it over HTTP.
package server

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/overseer-dev/overseer/internal/api/http"
	"github.com/overseer-dev/overseer/internal/api/middleware"
	"github.com/overseer-dev/overseer/internal/config"
	"github.com/overseer-dev/overseer/internal/engine"
	"github.com/overseer-dev/overseer/internal/events"
	"github.com/overseer-dev/overseer/internal/logging"
	"github.com/overseer-dev/overseer/internal/monitoring"
	"github.com/overseer-dev/overseer/internal/phase"
	"github.com/overseer-dev/overseer/internal/provider"
	"github.com/overseer-dev/overseer/internal/scheduler"
	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/term"
	"github.com/overseer-dev/overseer/internal/tools"
	"github.com/overseer-dev/overseer/internal/ws"
)

// Server is the assembled supervisor.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	router  *gin.Engine
	http    *http.Server
	manager *session.Manager
	runner  *term.Runner
	sched   *scheduler.Scheduler
	hub     *events.Hub
	health  *provider.HealthRegistry
	metrics *monitoring.Metrics
}

// New assembles the supervisor from configuration.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	metrics := monitoring.NewMetrics()
	hub := events.NewHub()

	registry := tools.Builtin()
	if cfg.Analysis.ToolsFile != "" {
		if err := tools.LoadFile(registry, cfg.Analysis.ToolsFile); err != nil {
			return nil, err
		}
		logger.Info("loaded tool definitions", zap.String("file", cfg.Analysis.ToolsFile))
	}

	store, err := provider.LoadStore(cfg.Analysis.ProvidersFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		// No provider file: heuristics still work, AI escalation reports
		// itself unconfigured.
		logger.Warn("provider file not found, running heuristics only",
			zap.String("file", cfg.Analysis.ProvidersFile))
		store, _ = provider.NewStore(nil)
	}

	health := provider.NewHealthRegistry(provider.HealthSettings{
		DegradedAfter: cfg.Analysis.DegradedAfter,
		FailedAfter:   cfg.Analysis.FailedAfter,
		BackoffBase:   cfg.Analysis.BackoffBase,
		BackoffMax:    cfg.Analysis.BackoffMax,
		OnStateChange: func(name string, from, to provider.Status) {
			logger.Warn("provider state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.SetProviderState(name, int(to))
			hub.Publish(events.Event{
				Type: events.TypeProviderState,
				Payload: map[string]string{
					"provider": name,
					"from":     from.String(),
					"to":       to.String(),
				},
			})
		},
	})

	manager := session.NewManager()
	runner := term.NewRunner(logger)

	eng := engine.New(engine.Config{
		Registry:    registry,
		Store:       store,
		Health:      health,
		RecentLines: cfg.Capture.RecentLines,
		Failover:    cfg.Analysis.Failover,
		Logger:      logger,
		Metrics:     metrics,
	})

	sched := scheduler.New(scheduler.Config{
		MinInterval: cfg.Scheduler.MinInterval,
		MaxInterval: cfg.Scheduler.MaxInterval,
		ReturnDelay: cfg.Scheduler.ReturnDelay,
		Logger:      logger,
		Metrics:     metrics,
		OnDecision: func(sessionID string, res *phase.Result) {
			hub.Publish(events.Event{
				Type:      events.TypeDecision,
				SessionID: sessionID,
				Payload:   res,
			})
		},
		OnAwaitingConfirmation: func(sessionID string, res *phase.Result) {
			hub.Publish(events.Event{
				Type:      events.TypeAwaitingConfirmation,
				SessionID: sessionID,
				Payload:   res,
			})
		},
	}, eng, runner)

	// A process exiting on its own ends supervision for its session.
	runner.OnExit = func(sessionID string) {
		sched.Stop(sessionID)
		manager.Delete(sessionID)
		metrics.SetSessionsActive(manager.Count())
		hub.Publish(events.Event{Type: events.TypeSessionClosed, SessionID: sessionID})
		logger.Info("session process exited", zap.String("session", sessionID))
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID(logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.Server.RateLimitRPS,
		Burst:             cfg.Server.RateLimitBurst,
	}))

	handlers := apihttp.NewHandlers(manager, runner, sched, eng, store, health, hub, logger, metrics, cfg.Capture.BufferSize)
	wsHandler := ws.NewHandler(runner, hub, logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Session lifecycle
	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)
	router.DELETE("/sessions/:id", handlers.DeleteSession)

	// Session interaction
	router.GET("/sessions/:id/output", handlers.GetOutput)
	router.POST("/sessions/:id/input", handlers.SendInput)
	router.POST("/sessions/:id/resize", handlers.Resize)
	router.POST("/sessions/:id/auto-action", handlers.SetAutoAction)

	// Analysis and confirmation
	router.POST("/sessions/:id/analyze", handlers.Analyze)
	router.GET("/sessions/:id/pending", handlers.GetPending)
	router.POST("/sessions/:id/approve", handlers.Approve)
	router.POST("/sessions/:id/reject", handlers.Reject)

	// Providers
	router.GET("/providers", handlers.ListProviders)
	router.POST("/providers/:name/reset", handlers.ResetProvider)

	// Streaming
	router.GET("/stream", wsHandler.StreamEvents)
	router.GET("/sessions/:id/stream", wsHandler.StreamOutput)

	return &Server{
		cfg:     cfg,
		logger:  logger,
		router:  router,
		manager: manager,
		runner:  runner,
		sched:   sched,
		hub:     hub,
		health:  health,
		metrics: metrics,
	}, nil
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("supervisor listening", zap.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop supervision before cutting off the transport.
	for _, info := range s.manager.List() {
		s.sched.Stop(info.ID)
		s.runner.Kill(info.ID)
	}
	return s.http.Shutdown(shutdownCtx)
}
