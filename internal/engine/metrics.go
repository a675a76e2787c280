package engine

import (
	"context"
	"time"

	"meshplane/internal/store"
)

// MinHealthyReputation is the average reputation below which the mesh is degraded.
const MinHealthyReputation = 0.3

const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy" // the check itself failed
)

// NodeMetrics summarises one node and the jobs it has run.
type NodeMetrics struct {
	Node      store.Node
	Jobs      store.JobCounts
	Earnings  float64
	TotalCost float64
}

// JobMetrics summarises one job and its execution attempts.
type JobMetrics struct {
	Job      store.Job
	Tasks    store.TaskCounts
	Duration *time.Duration // Nil until the job has started
}

// Health is the mesh health summary.
type Health struct {
	Status      string
	ActiveNodes int
	Issues      []string
	CheckedAt   time.Time
}

// GetNodeMetrics returns node metrics or store.ErrNotFound.
func (e *Engine) GetNodeMetrics(ctx context.Context, nodeID string) (*NodeMetrics, error) {
	node, err := e.directory.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	stats, err := e.store.NodeJobStats(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	return &NodeMetrics{
		Node:      *node,
		Jobs:      stats.Jobs,
		Earnings:  stats.Earnings,
		TotalCost: stats.TotalCost,
	}, nil
}

// GetJobMetrics returns job metrics or store.ErrNotFound. The duration of a
// running job is measured up to now.
func (e *Engine) GetJobMetrics(ctx context.Context, jobID string) (*JobMetrics, error) {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.store.CountTasks(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}

	m := &JobMetrics{Job: *job, Tasks: *tasks}
	if job.StartedAt != nil {
		end := e.clock.Now()
		if job.CompletedAt != nil {
			end = *job.CompletedAt
		}
		d := end.Sub(*job.StartedAt)
		m.Duration = &d
	}
	return m, nil
}

// SystemStats returns mesh-wide aggregates.
func (e *Engine) SystemStats(ctx context.Context) (*store.SystemStats, error) {
	return e.store.SystemStats(ctx)
}

// Health reports degraded when no node is live or the average reputation of
// registered nodes is low.
func (e *Engine) Health(ctx context.Context) (*Health, error) {
	live, err := e.directory.ListLive(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := e.store.SystemStats(ctx)
	if err != nil {
		return nil, err
	}

	h := &Health{
		Status:      HealthHealthy,
		ActiveNodes: len(live),
		Issues:      []string{},
		CheckedAt:   e.clock.Now(),
	}
	if len(live) == 0 {
		h.Status = HealthDegraded
		h.Issues = append(h.Issues, "No active nodes available")
	}
	if stats.NodeCount > 0 && stats.AverageReputation < MinHealthyReputation {
		h.Status = HealthDegraded
		h.Issues = append(h.Issues, "Low average node reputation")
	}
	return h, nil
}

// LiveNodeCount reports the number of live nodes for the metrics gauge.
func (e *Engine) LiveNodeCount(ctx context.Context) (int64, error) {
	live, err := e.directory.ListLive(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(live)), nil
}

// PendingJobCount reports the number of pending jobs for the metrics gauge.
func (e *Engine) PendingJobCount(ctx context.Context) (int64, error) {
	stats, err := e.store.SystemStats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.JobCounts.Pending, nil
}
