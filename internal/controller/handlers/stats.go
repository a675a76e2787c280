package handlers

import (
	"net/http"
	"time"

	"meshplane/internal/engine"
	"meshplane/internal/logger"
	"meshplane/pkg/api"
)

// GetStats handles GET /stats.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.SystemStats(r.Context())
	if err != nil {
		h.engineError(w, r, err, "Not found")
		return
	}

	h.respondJson(w, http.StatusOK, api.SystemStatsResponse{
		Nodes: api.NodeStats{
			Total:               stats.NodeCount,
			AverageReputation:   stats.AverageReputation,
			AverageComputeScore: stats.AverageComputeScore,
		},
		Jobs:      toJobCounts(stats.JobCounts),
		Revenue:   api.RevenueStats{Total: stats.TotalRevenue},
		Timestamp: time.Now().UTC(),
	})
}

// GetHealth handles GET /health. A degraded mesh still answers 200; the
// body carries the status and the issues found. A failed check is reported
// as unhealthy with 503.
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.engine.Health(r.Context())
	if err != nil {
		logger.FromContext(r.Context(), h.logger).Error("health check failed", "error", err)
		h.respondJson(w, http.StatusServiceUnavailable, api.HealthResponse{
			Status:    engine.HealthUnhealthy,
			Issues:    []string{"Health check failed"},
			Timestamp: time.Now().UTC(),
		})
		return
	}

	h.respondJson(w, http.StatusOK, api.HealthResponse{
		Status:      health.Status,
		ActiveNodes: health.ActiveNodes,
		Issues:      health.Issues,
		Timestamp:   health.CheckedAt,
	})
}
