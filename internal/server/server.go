// Package server provides HTTP routing and lifecycle management for the
// rapport API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/scrypster/rapport/internal/config"
	"github.com/scrypster/rapport/internal/engine"
	"github.com/scrypster/rapport/web/handlers"
)

// securityHeaders adds security headers to all HTTP responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// requestTimeout bounds each request's context. Handlers map the resulting
// deadline error to 504 themselves.
func requestTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRouter builds the route table. /health and /ws are unauthenticated;
// everything under /api requires a token in production mode.
func NewRouter(cfg config.ServerConfig, api *handlers.APIHandlers, hub *handlers.WebSocketHub, logger *log.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handlers.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	r.Get("/health", api.Health)
	r.Handle("/ws", hub)

	r.Route("/api", func(r chi.Router) {
		r.Use(handlers.RequireAuth(cfg))
		if cfg.RateLimit > 0 {
			r.Use(handlers.NewRateLimiter(cfg.RateLimit, 0).Middleware)
		}
		if cfg.RequestTimeout > 0 {
			r.Use(requestTimeout(cfg.RequestTimeout))
		}

		r.Post("/analyze", api.Analyze)
		r.Post("/generate", api.Generate)
		r.Post("/compare", api.Compare)
		r.Post("/transform", api.Transform)
		r.Get("/personalities", api.ListPersonalities)

		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/memory", api.GetMemory)
			r.Get("/stats", api.GetStats)
			r.Get("/history", api.GetHistory)
		})
	})

	return r
}

// Server owns the HTTP listener, the websocket hub and the service lifecycle.
type Server struct {
	cfg    config.ServerConfig
	svc    *engine.Service
	hub    *handlers.WebSocketHub
	http   *http.Server
	logger *log.Logger
	errc   chan error
}

// New creates a Server for svc. Memory updates are pushed to websocket
// subscribers.
func New(cfg config.ServerConfig, svc *engine.Service, logger *log.Logger) *Server {
	hub := handlers.NewWebSocketHub(logger, "localhost:*", "127.0.0.1:*")
	svc.OnMemoryUpdated(hub.PublishMemoryUpdate)

	api := handlers.NewAPIHandlers(svc, logger)
	return &Server{
		cfg: cfg,
		svc: svc,
		hub: hub,
		http: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           NewRouter(cfg, api, hub, logger),
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
		errc:   make(chan error, 1),
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start starts the service workers, the hub and the listener. It returns
// the actual address being listened on, which differs from the configured
// one when the port is 0.
func (s *Server) Start(ctx context.Context) (string, error) {
	if err := s.svc.Start(ctx); err != nil {
		return "", err
	}

	listener, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		_ = s.svc.Shutdown(ctx)
		return "", fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}

	go s.hub.Run()
	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- err
		}
		close(s.errc)
	}()

	addr := listener.Addr().String()
	s.logger.Info("server listening", "addr", addr, "mode", s.cfg.Mode)
	return addr, nil
}

// Err delivers a serve failure, and is closed once the listener stops.
func (s *Server) Err() <-chan error {
	return s.errc
}

// Shutdown stops accepting requests, waits for in-flight ones, closes
// websocket clients and drains the activity log.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.http.Shutdown(ctx)
	s.hub.Stop()
	svcErr := s.svc.Shutdown(ctx)
	return errors.Join(httpErr, svcErr)
}
