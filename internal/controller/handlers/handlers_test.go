package handlers

import (
	"context"
	"io"
	"log/slog"
	"time"

	"meshplane/internal/engine"
	"meshplane/internal/jobs"
	"meshplane/internal/nodes"
	"meshplane/internal/store"
)

var testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Mock Engine
type mockEngine struct {
	pingErr error

	// Node Hooks
	registerNodeErr   error
	heartbeatOK       bool
	heartbeatErr      error
	getNodeResp       *store.Node
	getNodeErr        error
	listNodesResp     []store.Node
	listLiveNodesResp []store.Node
	listNodesErr      error
	nodeMetricsResp   *engine.NodeMetrics
	nodeMetricsErr    error
	historyResp       []store.ReputationEntry
	historyErr        error

	// Job Hooks
	createJobErr    error
	getJobResp      *store.Job
	getJobErr       error
	retryOK         bool
	retryErr        error
	jobMetricsResp  *engine.JobMetrics
	jobMetricsErr   error
	transitionResp  *store.Job
	transitionErr   error
	systemStatsResp *store.SystemStats
	systemStatsErr  error
	healthResp      *engine.Health
	healthErr       error

	// Spies (to verify arguments passed by handlers)
	capturedRegister   nodes.RegisterParams
	capturedCreate     jobs.CreateParams
	capturedID         string
	capturedLimit      int
	capturedTransition store.JobStatus
	capturedOpts       jobs.TransitionOptions
	listLiveCalled     bool
}

func (m *mockEngine) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockEngine) RegisterNode(ctx context.Context, p nodes.RegisterParams) (*store.Node, error) {
	m.capturedRegister = p
	if m.registerNodeErr != nil {
		return nil, m.registerNodeErr
	}
	return &store.Node{
		NodeID:        p.NodeID,
		Host:          p.Host,
		Port:          p.Port,
		GPUMemoryGB:   p.GPUMemoryGB,
		ComputeScore:  p.ComputeScore,
		Reputation:    nodes.InitialReputation,
		Status:        store.NodeStatusActive,
		LastHeartbeat: testTime,
		RegisteredAt:  testTime,
		Metadata:      p.Metadata,
	}, nil
}

func (m *mockEngine) Heartbeat(ctx context.Context, nodeID string) (bool, error) {
	m.capturedID = nodeID
	return m.heartbeatOK, m.heartbeatErr
}

func (m *mockEngine) GetNode(ctx context.Context, nodeID string) (*store.Node, error) {
	m.capturedID = nodeID
	return m.getNodeResp, m.getNodeErr
}

func (m *mockEngine) ListNodes(ctx context.Context) ([]store.Node, error) {
	return m.listNodesResp, m.listNodesErr
}

func (m *mockEngine) ListLiveNodes(ctx context.Context) ([]store.Node, error) {
	m.listLiveCalled = true
	return m.listLiveNodesResp, m.listNodesErr
}

func (m *mockEngine) GetNodeMetrics(ctx context.Context, nodeID string) (*engine.NodeMetrics, error) {
	m.capturedID = nodeID
	return m.nodeMetricsResp, m.nodeMetricsErr
}

func (m *mockEngine) ReputationHistory(ctx context.Context, nodeID string, limit int) ([]store.ReputationEntry, error) {
	m.capturedLimit = limit
	return m.historyResp, m.historyErr
}

func (m *mockEngine) CreateJob(ctx context.Context, p jobs.CreateParams) (*store.Job, error) {
	m.capturedCreate = p
	if m.createJobErr != nil {
		return nil, m.createJobErr
	}
	return &store.Job{
		JobID:     "job_1",
		UserID:    p.UserID,
		JobType:   p.JobType,
		Model:     p.Model,
		Dataset:   p.Dataset,
		Budget:    p.Budget,
		Speed:     p.Speed,
		Status:    store.JobStatusPending,
		CreatedAt: testTime,
	}, nil
}

func (m *mockEngine) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	m.capturedID = jobID
	return m.getJobResp, m.getJobErr
}

func (m *mockEngine) RetryJob(ctx context.Context, jobID string) (bool, error) {
	m.capturedID = jobID
	return m.retryOK, m.retryErr
}

func (m *mockEngine) GetJobMetrics(ctx context.Context, jobID string) (*engine.JobMetrics, error) {
	m.capturedID = jobID
	return m.jobMetricsResp, m.jobMetricsErr
}

func (m *mockEngine) Transition(ctx context.Context, jobID string, to store.JobStatus, opts jobs.TransitionOptions) (*store.Job, error) {
	m.capturedID = jobID
	m.capturedTransition = to
	m.capturedOpts = opts
	return m.transitionResp, m.transitionErr
}

func (m *mockEngine) SystemStats(ctx context.Context) (*store.SystemStats, error) {
	return m.systemStatsResp, m.systemStatsErr
}

func (m *mockEngine) Health(ctx context.Context) (*engine.Health, error) {
	return m.healthResp, m.healthErr
}
