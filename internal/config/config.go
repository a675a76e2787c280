// Package config loads controller, dispatcher and node-agent settings from an
// optional YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string: postgres://... or sqlite://path
	DatabaseURL string `mapstructure:"database_url"`

	// HTTP server port for the controller
	HTTPPort int `mapstructure:"http_port"`

	LogLevel string `mapstructure:"log_level"`

	// Scheduling
	LivenessWindow time.Duration `mapstructure:"liveness_window"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
	RatePerMinute  float64       `mapstructure:"rate_per_minute"`
	CandidateLimit int           `mapstructure:"candidate_limit"`
	CheapOrder     string        `mapstructure:"cheap_order"`

	// Execution: dispatcher is queued, inline (unbounded, for development) or
	// none (results arrive over HTTP)
	Dispatcher        string  `mapstructure:"dispatcher"`
	WorkerConcurrency int     `mapstructure:"worker_concurrency"`
	QueueSize         int     `mapstructure:"queue_size"`
	Runtime           string  `mapstructure:"runtime"`
	SimulationScale   float64 `mapstructure:"simulation_scale"`
	TaskImage         string  `mapstructure:"task_image"`

	// Kubernetes runtime
	K8sNamespace      string `mapstructure:"k8s_namespace"`
	K8sServiceAccount string `mapstructure:"k8s_service_account"`
	K8sGPULimit       string `mapstructure:"k8s_gpu_limit"`

	// Shared secret for /internal routes. Empty disables them.
	InternalSecret string `mapstructure:"internal_secret"`

	// Per-user request rate limit on the public API
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	// OpenTelemetry collector endpoint. Empty disables tracing.
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// URL of the controller, used by the node agent
	ControllerURL string `mapstructure:"controller_url"`

	// Node agent identity and capability
	NodeID            string        `mapstructure:"node_id"`
	NodeHost          string        `mapstructure:"node_host"`
	NodePort          int           `mapstructure:"node_port"`
	NodeGPUMemoryGB   int           `mapstructure:"node_gpu_memory_gb"`
	NodeComputeScore  float64       `mapstructure:"node_compute_score"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"database_url":        "DATABASE_URL",
	"http_port":           "PORT",
	"log_level":           "LOG_LEVEL",
	"liveness_window":     "LIVENESS_WINDOW",
	"sweep_interval":      "SWEEP_INTERVAL",
	"job_timeout":         "JOB_TIMEOUT",
	"rate_per_minute":     "RATE_PER_MINUTE",
	"candidate_limit":     "CANDIDATE_LIMIT",
	"cheap_order":         "CHEAP_ORDER",
	"dispatcher":          "DISPATCHER",
	"worker_concurrency":  "WORKER_CONCURRENCY",
	"queue_size":          "DISPATCH_QUEUE_SIZE",
	"runtime":             "RUNTIME",
	"simulation_scale":    "SIMULATION_SCALE",
	"task_image":          "TASK_IMAGE",
	"k8s_namespace":       "K8S_NAMESPACE",
	"k8s_service_account": "K8S_SERVICE_ACCOUNT",
	"k8s_gpu_limit":       "K8S_GPU_LIMIT",
	"internal_secret":     "INTERNAL_SECRET",
	"rate_limit":          "RATE_LIMIT",
	"rate_limit_burst":    "RATE_LIMIT_BURST",
	"otel_endpoint":       "OTEL_EXPORTER_OTLP_ENDPOINT",
	"controller_url":      "CONTROLLER_URL",
	"node_id":             "NODE_ID",
	"node_host":           "NODE_HOST",
	"node_port":           "NODE_PORT",
	"node_gpu_memory_gb":  "NODE_GPU_MEMORY_GB",
	"node_compute_score":  "NODE_COMPUTE_SCORE",
	"heartbeat_interval":  "HEARTBEAT_INTERVAL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("log_level", "info")
	v.SetDefault("liveness_window", 5*time.Minute)
	v.SetDefault("sweep_interval", 30*time.Second)
	v.SetDefault("job_timeout", time.Hour)
	v.SetDefault("rate_per_minute", 0.10)
	v.SetDefault("candidate_limit", 5)
	v.SetDefault("cheap_order", "reputation_asc")
	v.SetDefault("dispatcher", "queued")
	v.SetDefault("worker_concurrency", 4)
	v.SetDefault("queue_size", 64)
	v.SetDefault("runtime", "simulate")
	v.SetDefault("simulation_scale", 1.0)
	v.SetDefault("task_image", "python:3.11-slim")
	v.SetDefault("k8s_namespace", "default")
	v.SetDefault("rate_limit", 10.0)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("node_host", "127.0.0.1")
	v.SetDefault("node_port", 8081)
	v.SetDefault("heartbeat_interval", time.Minute)
}

// Load reads configuration from the file at path (or meshplane.yaml in the
// working directory when path is empty) and lets environment variables override it.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAgent is Load for the node agent, which needs no database.
func LoadAgent(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateAgent(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("meshplane")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and enumerations.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required (env: DATABASE_URL)")
	}
	switch c.Dispatcher {
	case "queued", "inline", "none":
	default:
		return fmt.Errorf("invalid dispatcher %q: must be queued, inline or none", c.Dispatcher)
	}
	switch c.Runtime {
	case "simulate", "docker", "kubernetes":
	default:
		return fmt.Errorf("invalid runtime %q: must be simulate, docker or kubernetes", c.Runtime)
	}
	switch c.CheapOrder {
	case "reputation_asc", "reputation_desc":
	default:
		return fmt.Errorf("invalid cheap_order %q", c.CheapOrder)
	}
	if c.RatePerMinute < 0 {
		return fmt.Errorf("rate_per_minute must be >= 0")
	}
	if c.LivenessWindow <= 0 || c.JobTimeout <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("liveness_window, job_timeout and sweep_interval must be positive")
	}
	return nil
}

// ValidateAgent checks the settings the node agent needs.
func (c *Config) ValidateAgent() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required (env: NODE_ID)")
	}
	if c.ControllerURL == "" {
		return fmt.Errorf("controller_url is required (env: CONTROLLER_URL)")
	}
	if c.NodeGPUMemoryGB < 0 || c.NodeComputeScore < 0 {
		return fmt.Errorf("node_gpu_memory_gb and node_compute_score must be >= 0")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	return nil
}
