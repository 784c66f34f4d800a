package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/codeexec/public-terminals/internal/api/http"
	"github.com/codeexec/public-terminals/internal/api/middleware"
	"github.com/codeexec/public-terminals/internal/infrastructure/config"
	"github.com/codeexec/public-terminals/internal/infrastructure/logging"
	"github.com/codeexec/public-terminals/internal/infrastructure/monitoring"
	"github.com/codeexec/public-terminals/internal/platform"
	"github.com/codeexec/public-terminals/internal/terminal"
)

// Server owns every long-lived component of the orchestrator.
type Server struct {
	cfg     *config.Config
	log     *logging.Logger
	store   terminal.Store
	manager *terminal.Manager
	sweeper *terminal.Sweeper
	metrics *monitoring.Metrics

	httpSrv     *http.Server
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New builds the full dependency graph from configuration.
func New(cfg *config.Config, log *logging.Logger) (*Server, error) {
	store, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	adapter, err := platform.New(cfg.Platform, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	metrics := monitoring.New()
	manager := terminal.NewManager(store, adapter, cfg, log, metrics)
	sweeper := terminal.NewSweeper(manager, adapter, cfg, log, metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.AllowOrigins))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}
	router.Use(metrics.Middleware())

	handlers := apihttp.NewHandlers(manager, cfg.Server.CallbackSecret, log)
	registerRoutes(router, handlers, metrics)

	return &Server{
		cfg:     cfg,
		log:     log.Named("server"),
		store:   store,
		manager: manager,
		sweeper: sweeper,
		metrics: metrics,
		httpSrv: &http.Server{
			Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		sweepDone: make(chan struct{}),
	}, nil
}

func registerRoutes(router *gin.Engine, h *apihttp.Handlers, metrics *monitoring.Metrics) {
	router.GET("/health", h.Health)
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1")
	v1.POST("/terminals", h.CreateTerminal)
	v1.GET("/terminals", h.ListTerminals)
	v1.GET("/terminals/:id", h.GetTerminal)
	v1.GET("/terminals/:id/status", h.GetTerminalStatus)
	v1.DELETE("/terminals/:id", h.DeleteTerminal)

	callbacks := v1.Group("/callbacks")
	callbacks.POST("/tunnel", h.TunnelCallback)
	callbacks.POST("/status", h.StatusCallback)
	callbacks.POST("/health", h.HealthCallback)
	callbacks.POST("/stats", h.StatsCallback)
	callbacks.POST("/idle", h.IdleCallback)
}

func openStore(cfg config.StoreConfig) (terminal.Store, error) {
	switch cfg.Driver {
	case "memory":
		return terminal.NewMemoryStore(), nil
	case "sqlite":
		return terminal.OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Run starts the sweeper and serves HTTP until the listener fails or Close
// is called.
func (s *Server) Run() error {
	sweepCtx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	go func() {
		defer close(s.sweepDone)
		s.sweeper.Run(sweepCtx)
	}()

	s.log.Info("listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts everything down in dependency order: stop accepting requests,
// stop the sweeper, drain provisioning workers, release the store.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown incomplete", zap.Error(err))
	}

	if s.sweepCancel != nil {
		s.sweepCancel()
		<-s.sweepDone
	}
	s.manager.Close()

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
