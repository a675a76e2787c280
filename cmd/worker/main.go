// Package main is the entry point for the meshplane node agent.
// The agent registers a compute node with the controller and keeps it
// live with periodic heartbeats.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meshplane/internal/config"
	"meshplane/internal/logger"
	"meshplane/internal/observability"
	"meshplane/internal/worker"
	"meshplane/pkg/client"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file (default: meshplane.yaml in current directory)")
	flag.Parse()

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appLogger := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "meshplane-node-agent", cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Printf("Failed to shutdown tracer: %v", err)
			}
		}()
	}

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	agent := worker.New(client.New(cfg.ControllerURL, ""), worker.AgentConfig{
		NodeID:            cfg.NodeID,
		Host:              cfg.NodeHost,
		Port:              cfg.NodePort,
		GPUMemoryGB:       cfg.NodeGPUMemoryGB,
		ComputeScore:      cfg.NodeComputeScore,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, appLogger)

	log.Printf("Node agent %s reporting to %s", cfg.NodeID, cfg.ControllerURL)
	go agent.Run(ctx)

	// The advertised node port serves the agent's own metrics and health.
	addr := fmt.Sprintf(":%d", cfg.NodePort)
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if !agent.Healthy() {
			status, code = "unreachable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status, "node_id": cfg.NodeID})
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("Node agent listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Agent server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down node agent...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Agent server forced to shutdown: %v", err)
	}

	cancel()
	<-agent.Done()
}
