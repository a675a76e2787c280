// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"meshplane/internal/engine"
	"meshplane/internal/jobs"
	"meshplane/internal/logger"
	"meshplane/internal/nodes"
	"meshplane/internal/store"
	"meshplane/pkg/api"
)

// Engine is the subset of engine.Engine the handlers call.
type Engine interface {
	Ping(ctx context.Context) error

	RegisterNode(ctx context.Context, p nodes.RegisterParams) (*store.Node, error)
	Heartbeat(ctx context.Context, nodeID string) (bool, error)
	GetNode(ctx context.Context, nodeID string) (*store.Node, error)
	ListNodes(ctx context.Context) ([]store.Node, error)
	ListLiveNodes(ctx context.Context) ([]store.Node, error)
	GetNodeMetrics(ctx context.Context, nodeID string) (*engine.NodeMetrics, error)
	ReputationHistory(ctx context.Context, nodeID string, limit int) ([]store.ReputationEntry, error)

	CreateJob(ctx context.Context, p jobs.CreateParams) (*store.Job, error)
	GetJob(ctx context.Context, jobID string) (*store.Job, error)
	RetryJob(ctx context.Context, jobID string) (bool, error)
	GetJobMetrics(ctx context.Context, jobID string) (*engine.JobMetrics, error)
	Transition(ctx context.Context, jobID string, to store.JobStatus, opts jobs.TransitionOptions) (*store.Job, error)

	SystemStats(ctx context.Context) (*store.SystemStats, error)
	Health(ctx context.Context) (*engine.Health, error)
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	engine Engine
	logger *slog.Logger
}

// New creates a new Handlers instance backed by the engine.
func New(e Engine, logger *slog.Logger) *Handlers {
	return &Handlers{engine: e, logger: logger}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// engineError maps an engine error to a status code. notFound is the message
// used for store.ErrNotFound.
func (h *Handlers) engineError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.httpError(w, notFound, http.StatusNotFound)
	case errors.Is(err, jobs.ErrInvalidTransition), errors.Is(err, store.ErrConflict):
		h.respondJson(w, http.StatusConflict, api.ErrorResponse{
			Error:   "Conflicting job state",
			Code:    strconv.Itoa(http.StatusConflict),
			Details: err.Error(),
		})
	case errors.Is(err, jobs.ErrInvalidJob), errors.Is(err, nodes.ErrInvalidNode):
		h.httpError(w, err.Error(), http.StatusBadRequest)
	default:
		logger.FromContext(r.Context(), h.logger).Error("request failed", "path", r.URL.Path, "error", err)
		h.httpError(w, "Internal server error", http.StatusInternalServerError)
	}
}
