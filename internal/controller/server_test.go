package controller

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meshplane/internal/clock"
	"meshplane/internal/engine"
	"meshplane/internal/store/storetest"
	"meshplane/pkg/api"
)

const testSecret = "internal-secret"

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *clock.Fake) {
	t.Helper()
	c := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	e, err := engine.New(storetest.New(t), c, engine.Config{}, storetest.Logger())
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	srv := httptest.NewServer(NewHandler(e, opts, storetest.Logger()))
	t.Cleanup(srv.Close)
	return srv, c
}

func do(t *testing.T, method, url string, body any, header map[string]string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestServer_JobRoundTrip(t *testing.T) {
	srv, c := newTestServer(t, Options{InternalSecret: testSecret})

	resp := do(t, http.MethodPost, srv.URL+"/nodes/register", api.RegisterNodeRequest{
		NodeID: "node-1", Host: "10.0.0.1", Port: 8081, GPUMemory: 24, ComputeScore: 8,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register: got status %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, srv.URL+"/finetune", api.CreateJobRequest{Model: "llama-3-8b", Speed: "fast"},
		map[string]string{"X-User-ID": "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finetune: got status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
	var job api.JobResponse
	decode(t, resp, &job)
	if job.Status != "running" || job.AssignedNode == nil || *job.AssignedNode != "node-1" || job.UserID != "alice" {
		t.Fatalf("unexpected job: %+v", job)
	}

	var node api.NodeResponse
	decode(t, do(t, http.MethodGet, srv.URL+"/nodes/node-1", nil, nil), &node)
	if node.Status != "busy" {
		t.Errorf("node status = %s, want busy", node.Status)
	}

	// Result callbacks need the shared secret.
	result := api.JobResultRequest{Status: "completed"}
	if resp := do(t, http.MethodPut, srv.URL+"/internal/jobs/"+job.JobID+"/result", result, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated result: got status %d, want 401", resp.StatusCode)
	}

	c.Advance(time.Minute)
	auth := map[string]string{"Authorization": "Bearer " + testSecret}
	resp = do(t, http.MethodPut, srv.URL+"/internal/jobs/"+job.JobID+"/result", result, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("result: got status %d", resp.StatusCode)
	}

	decode(t, do(t, http.MethodGet, srv.URL+"/jobs/"+job.JobID, nil, nil), &job)
	if job.Status != "completed" || job.Cost != 0.1 {
		t.Errorf("job after result = %+v, want completed at cost 0.1", job)
	}

	// A second report loses against the terminal state.
	if resp := do(t, http.MethodPut, srv.URL+"/internal/jobs/"+job.JobID+"/result", result, auth); resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate result: got status %d, want 409", resp.StatusCode)
	}
	if resp := do(t, http.MethodPost, srv.URL+"/jobs/"+job.JobID+"/retry", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("retry completed job: got status %d, want 400", resp.StatusCode)
	}

	var metrics api.NodeMetricsResponse
	decode(t, do(t, http.MethodGet, srv.URL+"/nodes/node-1/metrics", nil, nil), &metrics)
	if metrics.Status != "active" || metrics.Jobs.Completed != 1 || metrics.Earnings != 0.1 || math.Abs(metrics.Reputation-0.51) > 1e-9 {
		t.Errorf("unexpected node metrics: %+v", metrics)
	}

	var history api.ReputationHistoryResponse
	decode(t, do(t, http.MethodGet, srv.URL+"/nodes/node-1/reputation", nil, nil), &history)
	if len(history.History) != 1 || history.History[0].JobID == nil || *history.History[0].JobID != job.JobID {
		t.Errorf("unexpected history: %+v", history)
	}

	var stats api.SystemStatsResponse
	decode(t, do(t, http.MethodGet, srv.URL+"/stats", nil, nil), &stats)
	if stats.Nodes.Total != 1 || stats.Jobs.Completed != 1 || stats.Revenue.Total != 0.1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	var health api.HealthResponse
	decode(t, do(t, http.MethodGet, srv.URL+"/health", nil, nil), &health)
	if health.Status != "healthy" || health.ActiveNodes != 1 {
		t.Errorf("unexpected health: %+v", health)
	}
}

func TestServer_FailedJobRetry(t *testing.T) {
	srv, _ := newTestServer(t, Options{InternalSecret: testSecret})
	auth := map[string]string{"Authorization": "Bearer " + testSecret}

	do(t, http.MethodPost, srv.URL+"/nodes/register", api.RegisterNodeRequest{NodeID: "node-1", GPUMemory: 24, ComputeScore: 5}, nil)

	var job api.JobResponse
	decode(t, do(t, http.MethodPost, srv.URL+"/jobs", api.CreateJobRequest{JobType: "inference", Model: "m"}, nil), &job)
	if job.UserID != "default_user" {
		t.Errorf("user id = %q, want default_user", job.UserID)
	}

	resp := do(t, http.MethodPut, srv.URL+"/internal/jobs/"+job.JobID+"/result",
		api.JobResultRequest{Status: "failed", ErrorMessage: "CUDA out of memory"}, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("result: got status %d", resp.StatusCode)
	}

	var retried api.RetryJobResponse
	resp = do(t, http.MethodPost, srv.URL+"/jobs/"+job.JobID+"/retry", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry: got status %d", resp.StatusCode)
	}
	decode(t, resp, &retried)
	if retried.Status != "running" {
		t.Errorf("retried status = %s, want running", retried.Status)
	}

	var metrics api.JobMetricsResponse
	decode(t, do(t, http.MethodGet, srv.URL+"/jobs/"+job.JobID+"/metrics", nil, nil), &metrics)
	if metrics.Tasks.Total != 2 || metrics.Tasks.Failed != 1 {
		t.Errorf("task counts = %+v, want 2 total / 1 failed", metrics.Tasks)
	}
}

func TestServer_ErrorsAndProbes(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"liveness", http.MethodGet, "/healthz", nil, http.StatusOK},
		{"readiness", http.MethodGet, "/readyz", nil, http.StatusOK},
		{"metrics disabled", http.MethodGet, "/metrics", nil, http.StatusNotFound},
		{"unknown job", http.MethodGet, "/jobs/job_missing", nil, http.StatusNotFound},
		{"unknown node", http.MethodGet, "/nodes/ghost", nil, http.StatusNotFound},
		{"unknown node heartbeat", http.MethodPost, "/nodes/ghost/heartbeat", nil, http.StatusNotFound},
		{"missing model", http.MethodPost, "/jobs", api.CreateJobRequest{JobType: "x"}, http.StatusBadRequest},
		{"internal disabled", http.MethodPut, "/internal/jobs/job_1/result", api.JobResultRequest{Status: "completed"}, http.StatusServiceUnavailable},
		{"wrong method", http.MethodDelete, "/jobs/job_1", nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, srv.URL+tt.path, tt.body, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("got status %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	var health api.HealthResponse
	decode(t, do(t, http.MethodGet, srv.URL+"/health", nil, nil), &health)
	if health.Status != "degraded" || len(health.Issues) != 1 {
		t.Errorf("empty mesh health = %+v, want degraded with one issue", health)
	}
}

func TestServer_RateLimitedPerUser(t *testing.T) {
	srv, _ := newTestServer(t, Options{RateLimit: 1, RateLimitBurst: 1})

	alice := map[string]string{"X-User-ID": "alice"}
	if resp := do(t, http.MethodGet, srv.URL+"/stats", nil, alice); resp.StatusCode != http.StatusOK {
		t.Fatalf("first request: got status %d", resp.StatusCode)
	}
	resp := do(t, http.MethodGet, srv.URL+"/stats", nil, alice)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second request: got status %d, want 429", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/stats", nil, map[string]string{"X-User-ID": "bob"}); resp.StatusCode != http.StatusOK {
		t.Errorf("other user: got status %d, want 200", resp.StatusCode)
	}

	// Probes are not rate limited.
	for range 3 {
		if resp := do(t, http.MethodGet, srv.URL+"/healthz", nil, alice); resp.StatusCode != http.StatusOK {
			t.Errorf("probe: got status %d", resp.StatusCode)
		}
	}
}

func TestServer_MetricsHandler(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "meshplane_nodes_live 0\n")
	})
	srv, _ := newTestServer(t, Options{MetricsHandler: metrics})

	resp := do(t, http.MethodGet, srv.URL+"/metrics", nil, nil)
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "meshplane_nodes_live") {
		t.Errorf("metrics body = %q", body)
	}
}
