// Package http exposes the decision engine over a JSON REST API.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/courtline/policycore/internal/engine"
	"github.com/courtline/policycore/internal/metrics"
)

// Server hosts the REST API for decisions, outcomes, hard-stop control,
// and policy management.
type Server struct {
	router *mux.Router
	server *http.Server
	engine *engine.Engine
	logger zerolog.Logger
}

func NewServer(addr string, eng *engine.Engine, m *metrics.Registry, logger zerolog.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		engine: eng,
		logger: logger.With().Str("component", "http_server").Logger(),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})).Methods("GET")

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/decisions/evaluate", s.handleEvaluate).Methods("POST")
	v1.HandleFunc("/decisions/{traceID}", s.handleDecisionTrail).Methods("GET")
	v1.HandleFunc("/outcomes", s.handleIngestOutcome).Methods("POST")
	v1.HandleFunc("/hardstop", s.handleHardStopState).Methods("GET")
	v1.HandleFunc("/hardstop/reset", s.handleResetHardStop).Methods("POST")
	v1.HandleFunc("/policy", s.handleGetPolicy).Methods("GET")
	v1.HandleFunc("/policy", s.handleUpdatePolicy).Methods("PUT")
	v1.HandleFunc("/policy/restore", s.handleRestorePolicy).Methods("POST")
	v1.HandleFunc("/policy/versions", s.handleListVersions).Methods("GET")
	v1.HandleFunc("/breakers", s.handleBreakerStatus).Methods("GET")

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving requests until the listener closes
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}
