package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/injectcore/internal/api/http"
	"github.com/GriffinCanCode/injectcore/internal/api/middleware"
	"github.com/GriffinCanCode/injectcore/internal/api/ws"
	"github.com/GriffinCanCode/injectcore/internal/app"
	"github.com/GriffinCanCode/injectcore/internal/diagnostics"
	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/script"
	"github.com/GriffinCanCode/injectcore/internal/script/loader"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	manager *app.Manager
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// New creates a server from cfg
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	platform, err := host.ParsePlatform(cfg.Platform.Generation, cfg.Platform.Family)
	if err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	logger.Info("initializing injectcore server",
		zap.String("port", cfg.Server.Port),
		zap.Stringer("platform", platform))

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("injectcore", logger.Component("tracing"))

	library := script.NewLibrary()
	if cfg.Server.ScriptsDir != "" {
		res, err := loader.Load(ctx, cfg.Server.ScriptsDir, loader.Options{Logger: logger.Logger})
		if err != nil {
			tracer.Close()
			return nil, fmt.Errorf("load scripts: %w", err)
		}
		library = res.Library
		logger.Info("scripts loaded",
			zap.String("dir", cfg.Server.ScriptsDir),
			zap.Int("installed", library.Len()),
			zap.Int("skipped", len(res.Skipped)))
	}

	diag := diagnostics.NewService(diagnostics.Options{
		Catalog:         library,
		DedupeTTL:       cfg.Diagnostics.DedupeTTL,
		MaxEntries:      cfg.Diagnostics.MaxEntries,
		MaxFingerprints: cfg.Diagnostics.MaxFingerprints,
		Metrics:         metrics,
		Logger:          logger.Logger,
	})
	breaker := resilience.New("issue-reports", resilience.Settings{
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	manager := app.NewManager(app.Options{
		Platform:    platform,
		Library:     library,
		Diagnostics: diag,
		Breaker:     breaker,
		Tardy:       cfg.Tardy,
		Executor:    cfg.Executor,
		HintsSize:   cfg.Hints.CacheSize,
		MaxRuns:     cfg.Server.MaxNavigations,
		Metrics:     metrics,
		Logger:      logger.Logger,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowOrigins...)))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst))
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
		if n := cfg.RateLimit.GlobalRPS; n > 0 {
			router.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{RequestsPerSecond: n, Burst: n}))
		}
	}

	apihttp.NewHandlers(manager, tracer, metrics, logger.Logger).Register(router)
	router.GET("/v1/diagnostics/stream", ws.NewHandler(manager, metrics, logger.Logger).HandleConnection)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("server initialized")
	return &Server{
		router:  router,
		http:    &http.Server{Addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port), Handler: router},
		manager: manager,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Handler returns the router, for embedding and tests
func (s *Server) Handler() http.Handler { return s.router }

// Manager returns the navigation manager
func (s *Server) Manager() *app.Manager { return s.manager }

// Run starts the HTTP server and blocks until it stops. It returns nil after
// Close.
func (s *Server) Run() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server and abandons every navigation
func (s *Server) Close() error {
	s.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.http.Shutdown(ctx)
	if err != nil {
		s.logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	for _, r := range s.manager.List() {
		s.manager.Close(ctx, r.ID)
	}
	s.tracer.Close()
	_ = s.logger.Sync()

	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
