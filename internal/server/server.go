package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gamereview/apiserver/config"
	"github.com/gamereview/apiserver/internal/handlers"
	"github.com/gamereview/apiserver/internal/metrics"
	"github.com/gamereview/apiserver/internal/ratelimit"
)

const loginRatePrefix = "login"

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	app        *App
	limiter    *ratelimit.RedisCounter
	logger     *slog.Logger
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	app, err := Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var (
		counter    *ratelimit.RedisCounter
		loginLimit func(http.Handler) http.Handler
	)
	if cfg.Redis.Addr != "" && cfg.Redis.LoginPerMinute > 0 {
		counter, err = ratelimit.NewRedisCounter(ctx, cfg.Redis)
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		loginLimit = ratelimit.NewLimiter(counter, loginRatePrefix, cfg.Redis.LoginPerMinute, logger).Middleware
	}

	router := NewRouter(app, loginLimit, logger)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		app:        app,
		limiter:    counter,
		logger:     logger,
	}, nil
}

// NewRouter mounts every route on a fresh chi router. loginLimit may be nil.
func NewRouter(app *App, loginLimit func(http.Handler) http.Handler, logger *slog.Logger) *chi.Mux {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		handlers.RequestLogger(logger),
		metrics.Middleware,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", metrics.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, app.Accounts, loginLimit, logger)
	})
	router.Route("/token", func(r chi.Router) {
		handlers.TokenRouter(r, app.Accounts, loginLimit, logger)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, app.Accounts, app.Reviews, logger)
	})
	router.Route("/games", func(r chi.Router) {
		handlers.GameRouter(r, app.Games, logger)
	})
	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then closes the backing connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.limiter != nil {
		err = errors.Join(err, s.limiter.Close())
	}
	return errors.Join(err, s.app.Close())
}
