// Package api contains shared JSON request/response structs.
// This package is shared between the CLI, the node agent and the controller.
package api

import "time"

// RegisterNodeRequest is the request body for registering a node.
type RegisterNodeRequest struct {
	NodeID       string         `json:"node_id"`
	Host         string         `json:"host"`
	Port         int            `json:"port"`
	GPUMemory    int            `json:"gpu_memory"`
	ComputeScore float64        `json:"compute_score"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NodeResponse represents a node in API responses.
type NodeResponse struct {
	NodeID        string         `json:"node_id"`
	Host          string         `json:"host"`
	Port          int            `json:"port"`
	GPUMemory     int            `json:"gpu_memory"`
	ComputeScore  float64        `json:"compute_score"`
	Reputation    float64        `json:"reputation"`
	Status        string         `json:"status"`
	RegisteredAt  time.Time      `json:"registered_at"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ListNodesResponse is the response body for GET /nodes.
type ListNodesResponse struct {
	Nodes []NodeResponse `json:"nodes"`
	Count int            `json:"count"`
}

// HeartbeatResponse is the response body for a node heartbeat.
type HeartbeatResponse struct {
	NodeID string `json:"node_id"`
	Status string `json:"status"`
}

// CreateJobRequest is the request body for submitting a job.
// POST /finetune fills JobType itself.
type CreateJobRequest struct {
	UserID   string         `json:"user_id,omitempty"`
	JobType  string         `json:"job_type,omitempty"`
	Model    string         `json:"model"`
	Dataset  *string        `json:"dataset,omitempty"`
	Budget   *float64       `json:"max_budget,omitempty"`
	Speed    string         `json:"speed,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// JobResponse represents a job in API responses.
type JobResponse struct {
	JobID        string     `json:"job_id"`
	UserID       string     `json:"user_id"`
	JobType      string     `json:"job_type"`
	Status       string     `json:"status"`
	Model        string     `json:"model"`
	Dataset      *string    `json:"dataset"`
	Budget       *float64   `json:"budget"`
	Speed        string     `json:"speed"`
	AssignedNode *string    `json:"assigned_node"`
	Cost         float64    `json:"cost"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// RetryJobResponse is the response body for POST /jobs/{id}/retry.
type RetryJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobResultRequest is sent by an executor when a job finishes.
type JobResultRequest struct {
	Status          string   `json:"status"` // completed or failed
	ErrorMessage    string   `json:"error_message,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	Cost            *float64 `json:"cost,omitempty"`
}

// JobCounts holds job totals by status.
type JobCounts struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// TaskCounts holds execution attempt totals.
type TaskCounts struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// NodeMetricsResponse is the response body for GET /nodes/{id}/metrics.
type NodeMetricsResponse struct {
	NodeID        string    `json:"node_id"`
	Status        string    `json:"status"`
	GPUMemory     int       `json:"gpu_memory"`
	ComputeScore  float64   `json:"compute_score"`
	Reputation    float64   `json:"reputation"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Jobs          JobCounts `json:"jobs"`
	Earnings      float64   `json:"earnings"`
	TotalCost     float64   `json:"total_cost"`
}

// JobMetricsResponse is the response body for GET /jobs/{id}/metrics.
type JobMetricsResponse struct {
	JobID           string     `json:"job_id"`
	Status          string     `json:"status"`
	Model           string     `json:"model"`
	Budget          *float64   `json:"budget"`
	Cost            float64    `json:"cost"`
	AssignedNode    *string    `json:"assigned_node"`
	DurationSeconds *float64   `json:"duration_seconds"`
	Tasks           TaskCounts `json:"tasks"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// NodeStats is the node section of SystemStatsResponse.
type NodeStats struct {
	Total               int64   `json:"total"`
	AverageReputation   float64 `json:"average_reputation"`
	AverageComputeScore float64 `json:"average_compute_score"`
}

// RevenueStats is the revenue section of SystemStatsResponse.
type RevenueStats struct {
	Total float64 `json:"total"`
}

// SystemStatsResponse is the response body for GET /stats.
type SystemStatsResponse struct {
	Nodes     NodeStats    `json:"nodes"`
	Jobs      JobCounts    `json:"jobs"`
	Revenue   RevenueStats `json:"revenue"`
	Timestamp time.Time    `json:"timestamp"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status      string    `json:"status"`
	ActiveNodes int       `json:"active_nodes"`
	Issues      []string  `json:"issues"`
	Timestamp   time.Time `json:"timestamp"`
}

// ReputationEntry is one reputation change.
type ReputationEntry struct {
	JobID     *string   `json:"job_id"`
	Change    float64   `json:"change"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// ReputationHistoryResponse is the response body for GET /nodes/{id}/reputation.
type ReputationHistoryResponse struct {
	NodeID     string            `json:"node_id"`
	Reputation float64           `json:"reputation"`
	History    []ReputationEntry `json:"history"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
