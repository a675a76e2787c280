// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"meshplane/internal/controller/handlers"
	"meshplane/internal/controller/middleware"
)

// Options configures the controller's HTTP surface.
type Options struct {
	// InternalSecret guards /internal routes. Empty disables them.
	InternalSecret string

	// Per-user request rate on the public API. Zero means unlimited.
	RateLimit      float64
	RateLimitBurst int

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(addr string, engine handlers.Engine, opts Options, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      NewHandler(engine, opts, logger),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// NewHandler builds the routed handler. It is exposed so tests can serve it
// with httptest.
func NewHandler(engine handlers.Engine, opts Options, logger *slog.Logger) http.Handler {
	h := handlers.New(engine, logger)
	limiter := middleware.NewRateLimiter(
		middleware.WithRate(opts.RateLimit),
		middleware.WithBurst(opts.RateLimitBurst),
	)
	public := func(fn http.HandlerFunc) http.Handler {
		return middleware.Identify(limiter.Middleware()(fn))
	}
	internalMW := middleware.RequireInternalAuth(opts.InternalSecret)

	mux := http.NewServeMux()

	// Probes
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	// Nodes
	mux.Handle("POST /nodes/register", public(h.RegisterNode))
	mux.Handle("GET /nodes", public(h.ListNodes))
	mux.Handle("GET /nodes/{id}", public(h.GetNode))
	mux.Handle("POST /nodes/{id}/heartbeat", public(h.Heartbeat))
	mux.Handle("GET /nodes/{id}/metrics", public(h.GetNodeMetrics))
	mux.Handle("GET /nodes/{id}/reputation", public(h.GetReputation))

	// Jobs
	mux.Handle("POST /jobs", public(h.CreateJob))
	mux.Handle("POST /finetune", public(h.CreateFinetuneJob))
	mux.Handle("GET /jobs/{id}", public(h.GetJob))
	mux.Handle("POST /jobs/{id}/retry", public(h.RetryJob))
	mux.Handle("GET /jobs/{id}/metrics", public(h.GetJobMetrics))

	// Monitoring
	mux.Handle("GET /stats", public(h.GetStats))
	mux.Handle("GET /health", public(h.GetHealth))

	// Internal endpoints
	// These are called by out-of-process executors reporting results.
	mux.Handle("PUT /internal/jobs/{id}/result", internalMW(http.HandlerFunc(h.InternalUpdateResult)))

	return middleware.RequestID(middleware.Trace(mux))
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
