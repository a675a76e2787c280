package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	// Clear any existing env vars
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if err.Error() != "database_url is required (env: DATABASE_URL)" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://mesh.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 6161 {
		t.Errorf("expected HTTPPort 6161, got %d", cfg.HTTPPort)
	}
	if cfg.LivenessWindow != 5*time.Minute {
		t.Errorf("expected LivenessWindow 5m, got %v", cfg.LivenessWindow)
	}
	if cfg.JobTimeout != time.Hour {
		t.Errorf("expected JobTimeout 1h, got %v", cfg.JobTimeout)
	}
	if cfg.RatePerMinute != 0.10 {
		t.Errorf("expected RatePerMinute 0.10, got %v", cfg.RatePerMinute)
	}
	if cfg.CandidateLimit != 5 {
		t.Errorf("expected CandidateLimit 5, got %d", cfg.CandidateLimit)
	}
	if cfg.CheapOrder != "reputation_asc" {
		t.Errorf("expected CheapOrder reputation_asc, got %s", cfg.CheapOrder)
	}
	if cfg.Dispatcher != "queued" {
		t.Errorf("expected Dispatcher queued, got %s", cfg.Dispatcher)
	}
	if cfg.Runtime != "simulate" {
		t.Errorf("expected Runtime simulate, got %s", cfg.Runtime)
	}
	if cfg.TaskImage != "python:3.11-slim" {
		t.Errorf("expected TaskImage python:3.11-slim, got %s", cfg.TaskImage)
	}
	if cfg.OTELEndpoint != "localhost:4317" {
		t.Errorf("expected OTELEndpoint localhost:4317, got %s", cfg.OTELEndpoint)
	}
	if cfg.HeartbeatInterval != time.Minute {
		t.Errorf("expected HeartbeatInterval 1m, got %v", cfg.HeartbeatInterval)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://custom/db")
	t.Setenv("PORT", "9999")
	t.Setenv("LIVENESS_WINDOW", "2m")
	t.Setenv("RATE_PER_MINUTE", "0.25")
	t.Setenv("CHEAP_ORDER", "reputation_desc")
	t.Setenv("DISPATCHER", "inline")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("RUNTIME", "docker")
	t.Setenv("CONTROLLER_URL", "http://custom:8080")
	t.Setenv("NODE_ID", "gpu-box-1")
	t.Setenv("NODE_GPU_MEMORY_GB", "80")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.LivenessWindow != 2*time.Minute {
		t.Errorf("expected LivenessWindow 2m, got %v", cfg.LivenessWindow)
	}
	if cfg.RatePerMinute != 0.25 {
		t.Errorf("expected RatePerMinute 0.25, got %v", cfg.RatePerMinute)
	}
	if cfg.CheapOrder != "reputation_desc" {
		t.Errorf("expected CheapOrder reputation_desc, got %s", cfg.CheapOrder)
	}
	if cfg.Dispatcher != "inline" {
		t.Errorf("expected Dispatcher inline, got %s", cfg.Dispatcher)
	}
	if cfg.WorkerConcurrency != 8 {
		t.Errorf("expected WorkerConcurrency 8, got %d", cfg.WorkerConcurrency)
	}
	if cfg.Runtime != "docker" {
		t.Errorf("expected Runtime docker, got %s", cfg.Runtime)
	}
	if cfg.ControllerURL != "http://custom:8080" {
		t.Errorf("expected ControllerURL http://custom:8080, got %s", cfg.ControllerURL)
	}
	if cfg.NodeID != "gpu-box-1" || cfg.NodeGPUMemoryGB != 80 {
		t.Errorf("unexpected node settings: %s %d", cfg.NodeID, cfg.NodeGPUMemoryGB)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		env   string
		value string
	}{
		{"RUNTIME", "invalid"},
		{"DISPATCHER", "carrier-pigeon"},
		{"CHEAP_ORDER", "random"},
		{"RATE_PER_MINUTE", "-1"},
		{"JOB_TIMEOUT", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "sqlite://mesh.db")
			t.Setenv(tt.env, tt.value)

			if _, err := Load(""); err == nil {
				t.Errorf("expected error for %s=%s", tt.env, tt.value)
			}
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshplane.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://config-file/db"
http_port: 7777
worker_concurrency: 10
runtime: kubernetes
k8s_namespace: mesh
job_timeout: 30m
`)

	// Clear env vars that would override
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("WORKER_CONCURRENCY", "")
	t.Setenv("RUNTIME", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://config-file/db" {
		t.Errorf("expected DatabaseURL from config file, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 7777 {
		t.Errorf("expected HTTPPort 7777, got %d", cfg.HTTPPort)
	}
	if cfg.WorkerConcurrency != 10 {
		t.Errorf("expected WorkerConcurrency 10, got %d", cfg.WorkerConcurrency)
	}
	if cfg.Runtime != "kubernetes" || cfg.K8sNamespace != "mesh" {
		t.Errorf("expected kubernetes runtime in mesh, got %s/%s", cfg.Runtime, cfg.K8sNamespace)
	}
	if cfg.JobTimeout != 30*time.Minute {
		t.Errorf("expected JobTimeout 30m, got %v", cfg.JobTimeout)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://from-file/db"
http_port: 7777
`)

	// Set env var to override config file
	t.Setenv("DATABASE_URL", "postgres://from-env/db")
	t.Setenv("PORT", "8888")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://from-env/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 8888 {
		t.Errorf("expected HTTPPort 8888 from env, got %d", cfg.HTTPPort)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://mesh.db")

	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent config file")
	}
}

func TestLoadAgent_NoDatabaseNeeded(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("NODE_ID", "gpu-box-1")
	t.Setenv("NODE_GPU_MEMORY_GB", "48")
	t.Setenv("NODE_COMPUTE_SCORE", "9.5")
	t.Setenv("HEARTBEAT_INTERVAL", "15s")

	cfg, err := LoadAgent("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NodeID != "gpu-box-1" || cfg.NodeGPUMemoryGB != 48 || cfg.NodeComputeScore != 9.5 {
		t.Errorf("unexpected node settings: %+v", cfg)
	}
	if cfg.HeartbeatInterval != 15*time.Second {
		t.Errorf("expected HeartbeatInterval 15s, got %v", cfg.HeartbeatInterval)
	}
	if cfg.ControllerURL != "http://localhost:6161" {
		t.Errorf("expected default ControllerURL, got %s", cfg.ControllerURL)
	}
}

func TestLoadAgent_RequiresNodeID(t *testing.T) {
	t.Setenv("NODE_ID", "")

	_, err := LoadAgent("")
	if err == nil || err.Error() != "node_id is required (env: NODE_ID)" {
		t.Errorf("got %v, want node_id error", err)
	}
}
