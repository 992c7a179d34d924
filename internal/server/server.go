package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/leslieo2/go-template-reload/internal/config"
	"github.com/leslieo2/go-template-reload/internal/constants"
	"github.com/leslieo2/go-template-reload/internal/hotreload"
	"github.com/leslieo2/go-template-reload/internal/observability"
	"github.com/leslieo2/go-template-reload/internal/render"
	"github.com/leslieo2/go-template-reload/internal/security"
	"github.com/leslieo2/go-template-reload/internal/server/middleware"
	"github.com/leslieo2/go-template-reload/internal/templates"
)

// Version is reported by /health.
var Version = "dev"

// TickerFunc starts a ticker firing every d. The returned function stops it.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type Server struct {
	config        *config.Config
	server        *http.Server
	metricsServer *http.Server

	// Live reload
	manager  *hotreload.Manager
	reloader *templates.AutoReloader
	pipeline *render.Pipeline

	proxy       *middleware.Proxy
	rateLimiter *security.RateLimiter

	newTicker   TickerFunc
	openStreams atomic.Int64

	// Observability
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	startTime time.Time

	stopOnce sync.Once
}

func New(cfg *config.Config) (*Server, error) {
	logger, err := observability.NewLogger(cfg.Observability.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return NewWithLogger(cfg, logger)
}

// NewWithLogger builds a server around an existing logger. Nothing listens
// and nothing is watched until Run is called.
func NewWithLogger(cfg *config.Config, logger *observability.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetrics()
		if err := metrics.Register(); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	tracer, err := observability.NewTracer(cfg.Observability.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	manager, err := hotreload.NewManager(cfg.Templates.Root, logger, metrics)
	if err != nil {
		return nil, &templates.SetupError{Op: "watch", Path: cfg.Templates.Root, Err: err}
	}

	reloader := templates.NewAutoReloader(manager.Root(),
		templates.WithLogger(logger),
		templates.WithMetrics(metrics),
		templates.WithTracer(tracer),
	)
	if err := manager.AddListener("templates", reloader.OnChange); err != nil {
		return nil, fmt.Errorf("failed to register template listener: %w", err)
	}

	pipeline := render.NewPipeline(reloader, render.Options{
		LiveReload: cfg.Templates.Development && cfg.LiveReload.Enabled,
		Endpoint:   cfg.LiveReload.Path,
		Retry:      cfg.LiveReload.Retry,
	}, logger, metrics, tracer)

	var proxy *middleware.Proxy
	if cfg.Proxy.Enabled {
		proxy, err = middleware.NewProxy(cfg.Proxy, logger)
		if err != nil {
			return nil, err
		}
	}

	return &Server{
		config:      cfg,
		manager:     manager,
		reloader:    reloader,
		pipeline:    pipeline,
		proxy:       proxy,
		rateLimiter: security.NewRateLimiter(cfg.Security.RateLimit, logger),
		newTicker:   realTicker,
		logger:      logger.WithComponent("server"),
		metrics:     metrics,
		tracer:      tracer,
		startTime:   time.Now(),
	}, nil
}

// Handler returns the complete handler: routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+constants.PathHealth, s.healthHandler)
	mux.HandleFunc("GET "+constants.PathReady, s.readinessHandler)
	if s.metrics != nil && s.config.Server.MetricsPort == "" {
		mux.Handle("GET "+s.config.Observability.Metrics.Path, s.metrics.Handler())
	}

	if s.config.LiveReload.Enabled {
		mux.Handle("GET "+s.config.LiveReload.Path, s.rateLimiter.Middleware(http.HandlerFunc(s.liveReloadHandler)))
	}

	mux.HandleFunc("/", s.pageHandler)

	return s.applyMiddleware(mux)
}

// applyMiddleware applies the middleware chain in reverse order.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	handler = middleware.SecurityHeadersMiddleware(s.config.Security.Headers)(handler)

	if s.config.Security.CORS.Enabled {
		handler = middleware.NewCORSMiddleware(s.config.Security.CORS).Handler(handler)
	}

	handler = middleware.RequestSizeLimitMiddleware(s.config.Server.MaxRequestSize)(handler)
	handler = middleware.LoggingMiddleware(s.logger.Logger, s.metrics)(handler)

	return handler
}

// Run starts watching the template root, serves HTTP and shuts everything
// down once ctx is done. A watch registration failure or templates that do
// not compile are returned as a *templates.SetupError before anything listens.
func (s *Server) Run(ctx context.Context) error {
	if err := s.manager.Start(); err != nil {
		return &templates.SetupError{Op: "watch", Path: s.manager.Root(), Err: err}
	}

	// The first snapshot must compile before anything listens.
	env, err := s.reloader.Acquire(ctx)
	if err != nil {
		_ = s.stopLiveReload(context.WithoutCancel(ctx))
		return &templates.SetupError{Op: "compile", Path: s.manager.Root(), Err: err}
	}
	s.logger.Info("Templates loaded", zap.Int("templates", env.Len()), zap.String("root", env.Root()))

	listener, err := net.Listen("tcp", s.config.GetServerAddress())
	if err != nil {
		_ = s.stopLiveReload(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to listen on %s: %w", s.config.GetServerAddress(), err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.config.Server.ReadTimeout,
		ReadHeaderTimeout: constants.ServerReadHeaderTimeout,
		IdleTimeout:       s.config.Server.IdleTimeout,
		MaxHeaderBytes:    1 << 20, // 1MB max header size
	}

	errCh := make(chan error, 2)

	if s.metrics != nil && s.config.Server.MetricsPort != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(s.config.Observability.Metrics.Path, s.metrics.Handler())
		s.metricsServer = &http.Server{
			Addr:              s.config.GetMetricsAddress(),
			Handler:           metricsMux,
			ReadHeaderTimeout: constants.ServerReadHeaderTimeout,
		}
		s.logger.Info("Starting metrics server",
			zap.String("address", s.metricsServer.Addr),
		)
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	s.logger.Info("Starting server",
		zap.String("address", listener.Addr().String()),
		zap.String("templates", s.manager.Root()),
		zap.Bool("live_reload", s.config.LiveReload.Enabled),
		zap.Bool("tls", s.config.TLS.Enabled),
	)
	s.metrics.SetHealthStatus(true)

	go func() {
		var err error
		if s.config.TLS.Enabled {
			err = s.server.ServeTLS(listener, s.config.TLS.CertFile, s.config.TLS.KeyFile)
		} else {
			err = s.server.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		s.logger.Error("Server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// Shutdown closes every live reload stream, then stops the HTTP servers
// in parallel and finally the tracer.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	s.metrics.SetHealthStatus(false)

	errs := make([]error, 0, 4)

	// Streams never finish on their own, so they must be released before
	// http.Server.Shutdown waits for active connections.
	if err := s.stopLiveReload(ctx); err != nil {
		s.logger.Error("Failed to stop live reload", zap.Error(err))
		errs = append(errs, fmt.Errorf("live reload shutdown: %w", err))
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	if s.metricsServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logger.Info("Shutting down metrics server...")
			if err := s.metricsServer.Shutdown(ctx); err != nil {
				s.logger.Error("Failed to shutdown metrics server", zap.Error(err))
				errChan <- fmt.Errorf("metrics server shutdown: %w", err)
			}
		}()
	}

	if s.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logger.Info("Shutting down main server...")
			if err := s.server.Shutdown(ctx); err != nil {
				s.logger.Error("Failed to shutdown main server", zap.Error(err))
				errChan <- fmt.Errorf("main server shutdown: %w", err)
			}
		}()
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		errs = append(errs, err)
	}
	if err := s.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}
	_ = s.logger.Sync()
	return errors.Join(errs...)
}

// stopLiveReload stops the watcher and closes every stream. Only the
// first call does any work.
func (s *Server) stopLiveReload(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		err = s.manager.Shutdown(ctx)
		s.rateLimiter.Close()
	})
	return err
}
