// Package server exposes the dispatch service over HTTP.
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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/polyglot-dispatch/internal/config"
)

type Server struct {
	Router  *chi.Mux
	Port    int
	logger  *slog.Logger
	httpSrv *http.Server
}

// New builds the router. cfg.RequestTimeout bounds every request, streams
// included.
func New(cfg config.ServerConfig, svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "poly-dispatch")
	})

	h := &handlers{svc: svc, logger: logger}
	r.Get("/healthz", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", h.generate)
		r.Post("/generate/stream", h.generateStream)
		r.Get("/providers", h.providers)
		r.Get("/providers/resolve", h.resolve)
	})

	return &Server{
		Router: r,
		Port:   cfg.Port,
		logger: logger,
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
