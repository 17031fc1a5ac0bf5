// Package controller wires the HTTP API of the scheduler.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Azure/sap-automation-qa/internal/controller/handlers"
	"github.com/Azure/sap-automation-qa/internal/controller/middleware"
)

const apiPrefix = "/api/v1"

// Options configures the server. A nil Metrics handler leaves /metrics unrouted.
type Options struct {
	Addr           string
	APIToken       string
	RateLimit      float64
	RateLimitBurst int
	Metrics        http.Handler
	Logger         *slog.Logger
}

// Server is the HTTP server for the scheduler API.
type Server struct {
	httpServer *http.Server
}

// New creates a new server routing /api/v1 to h.
func New(opts Options, h *handlers.Handlers) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authMW := middleware.RequireToken(opts.APIToken)
	rateMW := middleware.NewRateLimiter(middleware.WithLimit(opts.RateLimit, opts.RateLimitBurst)).Middleware()

	api := http.NewServeMux()

	// Probes stay open for orchestrators
	api.HandleFunc("GET "+apiPrefix+"/healthz", h.Healthz)
	api.HandleFunc("GET "+apiPrefix+"/readyz", h.Readyz)

	protected := http.NewServeMux()
	protected.HandleFunc("GET "+apiPrefix+"/workspaces", h.ListWorkspaces)
	protected.HandleFunc("GET "+apiPrefix+"/workspaces/{id}", h.GetWorkspace)

	protected.HandleFunc("POST "+apiPrefix+"/jobs", h.CreateJob)
	protected.HandleFunc("GET "+apiPrefix+"/jobs", h.ListJobs)
	protected.HandleFunc("GET "+apiPrefix+"/jobs/{id}", h.GetJob)
	protected.HandleFunc("GET "+apiPrefix+"/jobs/{id}/log", h.GetJobLog)
	protected.HandleFunc("GET "+apiPrefix+"/jobs/{id}/events", h.GetJobEvents)
	protected.HandleFunc("POST "+apiPrefix+"/jobs/{id}/cancel", h.CancelJob)

	protected.HandleFunc("POST "+apiPrefix+"/schedules", h.CreateSchedule)
	protected.HandleFunc("GET "+apiPrefix+"/schedules", h.ListSchedules)
	protected.HandleFunc("GET "+apiPrefix+"/schedules/{id}", h.GetSchedule)
	protected.HandleFunc("PATCH "+apiPrefix+"/schedules/{id}", h.UpdateSchedule)
	protected.HandleFunc("DELETE "+apiPrefix+"/schedules/{id}", h.DeleteSchedule)
	protected.HandleFunc("POST "+apiPrefix+"/schedules/{id}/trigger", h.TriggerSchedule)
	protected.HandleFunc("GET "+apiPrefix+"/schedules/{id}/jobs", h.GetScheduleJobs)
	protected.HandleFunc("GET "+apiPrefix+"/schedules/{id}/events", h.GetScheduleEvents)

	api.Handle(apiPrefix+"/", rateMW(authMW(protected)))

	mux := http.NewServeMux()
	mux.Handle(apiPrefix+"/", middleware.RequestID(logger, apiPrefix+"/healthz", apiPrefix+"/readyz")(api))
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: time.Minute,
		},
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
