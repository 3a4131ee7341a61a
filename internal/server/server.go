// Package server exposes the routing engine over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/cajuassist/router/internal/engine"
)

// Config holds server configuration.
type Config struct {
	Addr     string // listen address, e.g. ":8080"
	AllowAll bool   // allow all CORS origins (dev mode)
}

// Server is the HTTP front of the routing engine.
type Server struct {
	cfg        Config
	engine     *engine.Engine
	router     chi.Router
	httpServer *http.Server
	log        *logrus.Entry
}

// New creates a server around an assembled engine.
func New(cfg Config, eng *engine.Engine) *Server {
	s := &Server{
		cfg:    cfg,
		engine: eng,
		log:    logrus.WithField("component", "server"),
	}
	s.router = s.buildRouter()
	return s
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/route", s.handleRoute)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Post("/close", s.handleCloseSession)
			r.Get("/context", s.handleSessionContext)
		})

		r.Route("/metrics", func(r chi.Router) {
			r.Get("/classification", s.handleClassificationMetrics)
			r.Get("/agents/{id}", s.handleAgentMetrics)
			r.Get("/sessions", s.handleSessionMetrics)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/cache-stats", s.handleCacheStats)
			r.Post("/clear-cache", s.handleClearCache)
		})

		r.Route("/experiments", func(r chi.Router) {
			r.Post("/", s.handleCreateExperiment)
			r.Get("/{id}", s.handleGetExperiment)
			r.Get("/{id}/analysis", s.handleExperimentAnalysis)
			r.Post("/{id}/stop", s.handleStopExperiment)
			r.Post("/{id}/results", s.handleRecordResult)
			r.Get("/{id}/results", s.handleListResults)
		})
	})

	return r
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on the configured address.
func (s *Server) Start() error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.log.WithField("addr", addr).Info("router server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
