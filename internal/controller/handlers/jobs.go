package handlers

import (
	"encoding/json"
	"net/http"

	"meshplane/internal/controller/middleware"
	"meshplane/internal/jobs"
	"meshplane/internal/store"
	"meshplane/pkg/api"
)

// DefaultUserID owns jobs submitted without any caller identity.
const DefaultUserID = "default_user"

// CreateJob handles POST /jobs.
// The job is allocated and dispatched right away when a node is free,
// otherwise it is returned pending and the sweeper picks it up.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	h.createJob(w, r, "")
}

// CreateFinetuneJob handles POST /finetune, a shorthand for a finetune job.
func (h *Handlers) CreateFinetuneJob(w http.ResponseWriter, r *http.Request) {
	h.createJob(w, r, "finetune")
}

func (h *Handlers) createJob(w http.ResponseWriter, r *http.Request, jobType string) {
	ctx := r.Context()

	var req api.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if jobType == "" {
		jobType = req.JobType
	}

	// The X-User-ID header wins over the body.
	userID, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		userID = req.UserID
	}
	if userID == "" {
		userID = DefaultUserID
	}

	job, err := h.engine.CreateJob(ctx, jobs.CreateParams{
		UserID:   userID,
		JobType:  jobType,
		Model:    req.Model,
		Dataset:  req.Dataset,
		Budget:   req.Budget,
		Speed:    req.Speed,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.engineError(w, r, err, "Job not found")
		return
	}
	h.respondJson(w, http.StatusOK, toJobResponse(job))
}

// GetJob handles GET /jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.engineError(w, r, err, "Job not found")
		return
	}
	h.respondJson(w, http.StatusOK, toJobResponse(job))
}

// RetryJob handles POST /jobs/{id}/retry. Only failed jobs can be retried.
func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := r.PathValue("id")

	ok, err := h.engine.RetryJob(ctx, jobID)
	if err != nil {
		h.engineError(w, r, err, "Job not found")
		return
	}
	if !ok {
		h.httpError(w, "Job cannot be retried", http.StatusBadRequest)
		return
	}

	// The retry may already have allocated the job.
	status := string(store.JobStatusPending)
	if job, err := h.engine.GetJob(ctx, jobID); err == nil {
		status = string(job.Status)
	}
	h.respondJson(w, http.StatusOK, api.RetryJobResponse{JobID: jobID, Status: status})
}

// GetJobMetrics handles GET /jobs/{id}/metrics.
func (h *Handlers) GetJobMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.GetJobMetrics(r.Context(), r.PathValue("id"))
	if err != nil {
		h.engineError(w, r, err, "Job not found")
		return
	}

	resp := api.JobMetricsResponse{
		JobID:        m.Job.JobID,
		Status:       string(m.Job.Status),
		Model:        m.Job.Model,
		Budget:       m.Job.Budget,
		Cost:         m.Job.Cost,
		AssignedNode: m.Job.AssignedNode,
		Tasks: api.TaskCounts{
			Total:     m.Tasks.Total,
			Completed: m.Tasks.Completed,
			Failed:    m.Tasks.Failed,
		},
		CreatedAt:   m.Job.CreatedAt,
		StartedAt:   m.Job.StartedAt,
		CompletedAt: m.Job.CompletedAt,
	}
	if m.Duration != nil {
		secs := m.Duration.Seconds()
		resp.DurationSeconds = &secs
	}
	h.respondJson(w, http.StatusOK, resp)
}

func toJobResponse(j *store.Job) api.JobResponse {
	return api.JobResponse{
		JobID:        j.JobID,
		UserID:       j.UserID,
		JobType:      j.JobType,
		Status:       string(j.Status),
		Model:        j.Model,
		Dataset:      j.Dataset,
		Budget:       j.Budget,
		Speed:        j.Speed,
		AssignedNode: j.AssignedNode,
		Cost:         j.Cost,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}
