// Package server provides the HTTP API for basho.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/basho/internal/config"
	"github.com/hyperjump/basho/internal/search"
)

// Server is the HTTP server for the basho API.
type Server struct {
	engine  *search.Engine
	config  *config.Config
	logger  *zap.Logger
	uploads *rate.Limiter
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(engine *search.Engine, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:  engine,
		config:  cfg,
		logger:  logger,
		uploads: rate.NewLimiter(rate.Limit(cfg.Server.UploadRate), max(cfg.Server.UploadBurst, 1)),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed and instrumented API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.config.Server.RequestTimeout))

	r.Group(func(r chi.Router) {
		r.Use(s.limitUploads)
		r.Post("/api/v1/process-video", s.handleProcessVideo)
		r.Post("/api/v1/search", s.handleSearch)
	})
	r.Post("/api/v1/index/rebuild", s.handleRebuild)
	r.Get("/api/v1/scenes", s.handleFindScenes)
	r.Get("/api/v1/scenes/{id}", s.handleGetScene)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)

	return otelhttp.NewHandler(r, "basho")
}

// Start starts the HTTP server and blocks until it stops. After Stop it returns
// http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) limitUploads(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.uploads.Allow() {
			s.respondError(w, http.StatusTooManyRequests, "too many uploads, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}
