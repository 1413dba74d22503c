// Package server exposes the ops HTTP surface for daemon mode: health,
// handshake state, last cycle stats, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/zxnxzf/rebalancer/internal/metrics"
	"github.com/zxnxzf/rebalancer/internal/modules/handshake"
	"github.com/zxnxzf/rebalancer/internal/services"
)

// Config holds server configuration
type Config struct {
	Port    int
	Log     zerolog.Logger
	Store   *handshake.Store
	Metrics *metrics.Registry
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	store  *handshake.Store
	log    zerolog.Logger

	mu        sync.RWMutex
	lastStats *services.CycleStats
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		store:  cfg.Store,
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes(cfg.Metrics)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(m *metrics.Registry) {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", m.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/stats", s.handleStats)
	})
}

// SetLastStats publishes the most recent cycle result to the API.
func (s *Server) SetLastStats(stats services.CycleStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStats = &stats
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
