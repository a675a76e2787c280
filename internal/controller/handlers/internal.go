package handlers

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"meshplane/internal/jobs"
	"meshplane/internal/store"
	"meshplane/pkg/api"
)

// maxDurationSeconds is the longest duration that still fits a time.Duration.
const maxDurationSeconds = float64(math.MaxInt64) / float64(time.Second)

// InternalUpdateResult handles PUT /internal/jobs/{id}/result.
// It is called by out-of-process executors when a job finishes.
func (h *Handlers) InternalUpdateResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	var req api.JobResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	to := store.JobStatus(req.Status)
	if to != store.JobStatusCompleted && to != store.JobStatusFailed {
		h.httpError(w, "Status must be completed or failed", http.StatusBadRequest)
		return
	}
	if req.DurationSeconds != nil && *req.DurationSeconds < 0 {
		h.httpError(w, "duration_seconds must be >= 0", http.StatusBadRequest)
		return
	}
	if req.DurationSeconds != nil && *req.DurationSeconds >= maxDurationSeconds {
		h.httpError(w, "duration_seconds is too large", http.StatusBadRequest)
		return
	}
	if req.Cost != nil && *req.Cost < 0 {
		h.httpError(w, "cost must be >= 0", http.StatusBadRequest)
		return
	}

	opts := jobs.TransitionOptions{ErrorMessage: req.ErrorMessage, Cost: req.Cost}
	if req.DurationSeconds != nil {
		d := time.Duration(*req.DurationSeconds * float64(time.Second))
		opts.Duration = &d
	}

	job, err := h.engine.Transition(r.Context(), jobID, to, opts)
	if err != nil {
		h.engineError(w, r, err, "Job not found")
		return
	}
	h.respondJson(w, http.StatusOK, toJobResponse(job))
}
