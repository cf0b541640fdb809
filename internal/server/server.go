package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/codefence/codefence/internal/api/http"
	"github.com/codefence/codefence/internal/api/middleware"
	"github.com/codefence/codefence/internal/chat"
	"github.com/codefence/codefence/internal/classify"
	"github.com/codefence/codefence/internal/deps"
	"github.com/codefence/codefence/internal/infrastructure/config"
	"github.com/codefence/codefence/internal/infrastructure/logging"
	"github.com/codefence/codefence/internal/infrastructure/monitoring"
	"github.com/codefence/codefence/internal/processor"
	"github.com/codefence/codefence/internal/repair"
	"github.com/codefence/codefence/internal/router"
	"github.com/codefence/codefence/internal/sandbox"
	"github.com/codefence/codefence/internal/ws"
)

// Server owns every long-lived component and the HTTP frontend.
type Server struct {
	cfg    *config.Config
	logger *logging.Logger

	engine  *gin.Engine
	httpSrv *http.Server

	router       *router.Router
	pool         *sandbox.Pool
	repairEngine *repair.Engine
}

// New builds a fully wired server from configuration.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewDefault()
	}

	metrics := monitoring.NewMetrics()
	store := chat.NewMemoryStore()
	bus := chat.NewBus()

	// Dependency bundles.
	registry := deps.Builtin()
	manifestPath := filepath.Join(cfg.Bundles.Dir, cfg.Bundles.Manifest)
	if data, err := os.ReadFile(manifestPath); err == nil {
		if err := registry.ApplyManifest(data); err != nil {
			return nil, fmt.Errorf("server: apply bundle manifest: %w", err)
		}
		logger.Info("bundle manifest applied", zap.String("path", manifestPath))
	}
	bundleStore, err := deps.NewStore(cfg.Bundles.Dir)
	if err != nil {
		return nil, fmt.Errorf("server: index bundle dir: %w", err)
	}
	resolver := deps.NewResolver(registry, bundleStore, logger)

	// Sandbox pool.
	sandboxCfg := sandbox.Config{
		ExecTimeout:     cfg.Sandbox.ExecTimeout,
		SettleDelay:     cfg.Sandbox.SettleDelay,
		FallbackDelay:   cfg.Sandbox.FallbackDelay,
		NoOutputTimeout: cfg.Sandbox.NoOutputTimeout,
		ResizeDebounce:  50 * time.Millisecond,
		EnableConsole:   true,
	}
	pool, err := sandbox.NewPool(sandboxCfg, cfg.Sandbox.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("server: build sandbox pool: %w", err)
	}

	// Router.
	rt := router.New(router.Config{
		HeightCeiling: cfg.Sandbox.HeightCeiling,
		HeightPadding: cfg.Sandbox.HeightPadding,
		QueueSize:     256,
	}, logger, metrics, chat.NewLogInjector(logger))

	// Processor.
	proc := processor.New(processor.Config{
		Classifier: classify.Config{MinSignals: cfg.Classifier.MinSignals},
		Sandbox:    sandboxCfg,
	}, logger, metrics, resolver, rt, pool, store)
	proc.Bind(bus)

	// Repair loop.
	completer := repair.NewHTTPCompleter(cfg.Repair.Endpoint, cfg.Repair.Timeout)
	repairEngine := repair.NewEngine(
		repair.Config{Enabled: cfg.Repair.Enabled},
		store, completer, rt, proc.Reprocess, metrics, logger,
	)
	rt.OnRepairable(repairEngine.Handle)
	proc.SetRearm(repairEngine)

	heal := func(ctx context.Context, messageID string) error {
		reqs := rt.FailedFrames(messageID)
		if len(reqs) == 0 {
			return errors.New("no failed frames for message")
		}
		for _, req := range reqs {
			repairEngine.Heal(ctx, req)
		}
		return nil
	}

	// Event feed.
	wsHandler := ws.NewHandler(logger, metrics, ws.HealFunc(heal), rt.Emit)
	rt.OnUpdate(wsHandler.Broadcast)

	// HTTP frontend.
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(monitoring.Middleware(metrics))
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		engine.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(logger, metrics, rt, store, bus, registry, bundleStore, pool, apihttp.HealFunc(heal))

	engine.GET("/", handlers.Root)
	engine.GET("/health", handlers.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	engine.POST("/messages/:id", handlers.SubmitMessage)
	engine.GET("/messages/:id/session", handlers.GetSession)
	engine.DELETE("/messages/:id", handlers.CloseMessage)
	engine.POST("/messages/:id/heal", handlers.Heal)

	engine.GET("/sessions", handlers.ListSessions)
	engine.POST("/sessions/reset", handlers.ResetSessions)

	engine.GET("/bundles", handlers.ListBundles)
	engine.GET("/bundles/:alias", handlers.GetBundle)

	engine.GET("/stream", wsHandler.HandleConnection)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	return &Server{
		cfg:    cfg,
		logger: logger,
		engine: engine,
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		router:       rt,
		pool:         pool,
		repairEngine: repairEngine,
	}, nil
}

// Run starts the dispatch goroutine and serves HTTP until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	routerCtx, cancelRouter := context.WithCancel(context.Background())
	defer cancelRouter()
	go s.router.Run(routerCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}

	cancelRouter()
	if err := s.pool.Close(); err != nil {
		s.logger.Warn("pool close", zap.Error(err))
	}
	return nil
}
