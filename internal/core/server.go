// Package core provides the API chassis for the Miraqua irrigation service.
// It builds the chi router and enforces cross-cutting concerns (request IDs,
// structured logging, security headers, error envelopes) before requests
// reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"miraqua/internal/config"
	"miraqua/internal/db"
)

// MetricsCollector records API telemetry. Implementations publish request
// latency and count metrics to CloudWatch or equivalent backends.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server encapsulates the dependencies of the HTTP API, allowing injection
// during testing and distinct wiring per environment.
type Server struct {
	Config       *config.Config
	Repos        *db.Registry
	Logger       *slog.Logger
	Validator    *Validator
	Metrics      MetricsCollector
	HealthProbes []HealthProbe

	// V1RouteRegistrars register domain handler routes under /v1. Populated
	// by the application entry point to avoid import cycles between core and
	// the handler packages.
	V1RouteRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer initializes dependencies and prepares the server for route
// mounting. The caller mounts routes via MountRoutes after registering
// handlers; the separation lets tests customize route registration.
func NewServer(cfg *config.Config, repos *db.Registry, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if repos == nil {
		return nil, fmt.Errorf("repository registry must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Repos:     repos,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}

	return s, nil
}

// Handler returns the router as an http.Handler for http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	if s.Repos != nil {
		s.Repos.Close()
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
