package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meshplane/pkg/api"
	"meshplane/pkg/client"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockNodeAPI implements NodeAPI for testing.
type MockNodeAPI struct {
	mu sync.Mutex

	RegisterFunc  func(n int) error // n is the 1-based call number
	HeartbeatFunc func(n int) error

	Registrations []api.RegisterNodeRequest
	Heartbeats    int
}

func (m *MockNodeAPI) RegisterNode(ctx context.Context, req api.RegisterNodeRequest) (*api.NodeResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Registrations = append(m.Registrations, req)
	if m.RegisterFunc != nil {
		if err := m.RegisterFunc(len(m.Registrations)); err != nil {
			return nil, err
		}
	}
	return &api.NodeResponse{NodeID: req.NodeID, Status: "active", Reputation: 0.5}, nil
}

func (m *MockNodeAPI) Heartbeat(ctx context.Context, nodeID string) (*api.HeartbeatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Heartbeats++
	if m.HeartbeatFunc != nil {
		if err := m.HeartbeatFunc(m.Heartbeats); err != nil {
			return nil, err
		}
	}
	return &api.HeartbeatResponse{NodeID: nodeID, Status: "ok"}, nil
}

func (m *MockNodeAPI) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Registrations), m.Heartbeats
}

func fastConfig() AgentConfig {
	return AgentConfig{
		NodeID:            "node-1",
		Host:              "10.0.0.7",
		Port:              8081,
		GPUMemoryGB:       24,
		ComputeScore:      8.5,
		HeartbeatInterval: 10 * time.Millisecond,
		RetryInterval:     time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func runAgent(t *testing.T, a *Agent) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-a.Done():
		case <-time.After(time.Second):
			t.Error("agent did not stop")
		}
	})
	return cancel
}

// Test: New() Function
func TestNew_Defaults(t *testing.T) {
	agent := New(&MockNodeAPI{}, AgentConfig{NodeID: "node-1"}, testLogger())

	if agent.config.HeartbeatInterval != time.Minute {
		t.Errorf("expected default heartbeat interval=1m, got %v", agent.config.HeartbeatInterval)
	}
	if agent.config.RetryInterval != time.Second {
		t.Errorf("expected default retry interval=1s, got %v", agent.config.RetryInterval)
	}
	if agent.config.MaxBackoff != 30*time.Second {
		t.Errorf("expected default max backoff=30s, got %v", agent.config.MaxBackoff)
	}
	if agent.Done() == nil {
		t.Error("expected done channel to be initialized")
	}
}

func TestNew_BackoffCappedByHeartbeatInterval(t *testing.T) {
	agent := New(&MockNodeAPI{}, AgentConfig{
		NodeID:            "node-1",
		HeartbeatInterval: 5 * time.Second,
		RetryInterval:     10 * time.Second,
		MaxBackoff:        time.Minute,
	}, testLogger())

	if agent.config.MaxBackoff != 5*time.Second {
		t.Errorf("expected max backoff capped at 5s, got %v", agent.config.MaxBackoff)
	}
	if agent.config.RetryInterval != 5*time.Second {
		t.Errorf("expected retry interval capped at 5s, got %v", agent.config.RetryInterval)
	}
}

func TestRun_RegistersThenHeartbeats(t *testing.T) {
	mock := &MockNodeAPI{}
	agent := New(mock, fastConfig(), testLogger())
	runAgent(t, agent)

	waitFor(t, func() bool {
		_, hb := mock.counts()
		return hb >= 3
	})

	regs, _ := mock.counts()
	if regs != 1 {
		t.Errorf("expected a single registration, got %d", regs)
	}
	req := mock.Registrations[0]
	if req.NodeID != "node-1" || req.Host != "10.0.0.7" || req.Port != 8081 || req.GPUMemory != 24 || req.ComputeScore != 8.5 {
		t.Errorf("unexpected registration: %+v", req)
	}
	if !agent.Healthy() {
		t.Error("expected agent to be healthy")
	}
}

func TestRun_RetriesFailedRegistration(t *testing.T) {
	mock := &MockNodeAPI{
		RegisterFunc: func(n int) error {
			if n <= 2 {
				return errors.New("connection refused")
			}
			return nil
		},
	}
	agent := New(mock, fastConfig(), testLogger())
	runAgent(t, agent)

	waitFor(t, func() bool {
		_, hb := mock.counts()
		return hb >= 1
	})

	regs, _ := mock.counts()
	if regs != 3 {
		t.Errorf("expected 3 registration attempts, got %d", regs)
	}
}

func TestRun_ReRegistersWhenNodeUnknown(t *testing.T) {
	mock := &MockNodeAPI{
		HeartbeatFunc: func(n int) error {
			if n == 2 {
				return &client.APIError{StatusCode: http.StatusNotFound, Message: "Node not found"}
			}
			return nil
		},
	}
	agent := New(mock, fastConfig(), testLogger())
	runAgent(t, agent)

	waitFor(t, func() bool {
		regs, hb := mock.counts()
		return regs >= 2 && hb >= 3
	})
}

func TestRun_HeartbeatErrorKeepsRegistration(t *testing.T) {
	mock := &MockNodeAPI{
		HeartbeatFunc: func(n int) error {
			if n == 1 {
				return &client.APIError{StatusCode: http.StatusInternalServerError, Message: "db down"}
			}
			return nil
		},
	}
	agent := New(mock, fastConfig(), testLogger())
	runAgent(t, agent)

	waitFor(t, func() bool {
		_, hb := mock.counts()
		return hb >= 3
	})

	regs, _ := mock.counts()
	if regs != 1 {
		t.Errorf("expected no re-registration after a 500, got %d registrations", regs)
	}
}

func TestRun_GracefulShutdown(t *testing.T) {
	agent := New(&MockNodeAPI{}, fastConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- agent.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	select {
	case <-agent.Done():
	default:
		t.Error("expected done channel to be closed")
	}
}

func TestRun_AgainstHTTPController(t *testing.T) {
	var registrations, heartbeats atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /nodes/register", func(w http.ResponseWriter, r *http.Request) {
		registrations.Add(1)
		var req api.RegisterNodeRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(api.NodeResponse{NodeID: req.NodeID, Status: "active"})
	})
	mux.HandleFunc("POST /nodes/{id}/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "node-1" {
			t.Errorf("heartbeat for %q", r.PathValue("id"))
		}
		heartbeats.Add(1)
		json.NewEncoder(w).Encode(api.HeartbeatResponse{NodeID: "node-1", Status: "ok"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	agent := New(client.New(server.URL, ""), fastConfig(), testLogger())
	runAgent(t, agent)

	waitFor(t, func() bool { return heartbeats.Load() >= 2 })
	if registrations.Load() != 1 {
		t.Errorf("expected 1 registration, got %d", registrations.Load())
	}
}
