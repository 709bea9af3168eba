// Package core provides the API chassis: a chi router with the cross-cutting
// middleware chain (recovery, request ids, logging, CORS, compression,
// metrics) and the authorization gate every protected route passes through.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"obrador/internal/config"
)

// MetricsCollector records API telemetry. The production implementation
// writes latency and count metrics to CloudWatch.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a handler group onto the v1 router. Registrars are
// populated by the application entry point to avoid import cycles between
// core and handler packages.
type RouteRegistrar func(r chi.Router)

// Server bundles the router with the dependencies shared by all handlers.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector
	Gate      *Gate

	// V1RouteRegistrars are mounted under /v1 by MountRoutes.
	V1RouteRegistrars []RouteRegistrar

	// HealthProbes are checked concurrently by the /health endpoint.
	HealthProbes []HealthProbe

	router *chi.Mux
	closer func() error
}

// NewServer validates the critical dependencies and prepares the router.
// The caller mounts routes afterwards via MountRoutes; the separation lets
// tests customize route registration.
func NewServer(
	cfg *config.Config,
	gate *Gate,
	logger *slog.Logger,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if gate == nil {
		return nil, fmt.Errorf("gate must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Gate:      gate,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}

	return s, nil
}

// OnShutdown registers a cleanup function (database pool close) invoked by
// Shutdown.
func (s *Server) OnShutdown(fn func() error) {
	s.closer = fn
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if s.closer != nil {
		if err := s.closer(); err != nil {
			s.Logger.Error("error closing server resources", "error", err)
			return fmt.Errorf("closing server resources: %w", err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
