// Package main is the entry point for the meshplane controller.
// The controller owns the node directory, allocates jobs and runs them
// through the configured dispatcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meshplane/internal/clock"
	"meshplane/internal/config"
	"meshplane/internal/controller"
	"meshplane/internal/dispatch"
	"meshplane/internal/dispatch/runtime"
	"meshplane/internal/engine"
	"meshplane/internal/logger"
	"meshplane/internal/observability"
	"meshplane/internal/scheduler"
	"meshplane/internal/store/sqlstore"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: meshplane.yaml in current directory)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appLogger := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup Database
	store, err := sqlstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer store.Close()

	// A fresh SQLite file has no schema yet, so it is always migrated.
	if *migrateFlag || store.Dialect() == sqlstore.DialectSQLite {
		log.Println("Running database migrations...")
		if err := store.Migrate(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	}

	// Tracing
	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "meshplane-controller", cfg.OTELEndpoint)
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

	cheapOrder, err := scheduler.ParseCheapOrder(cfg.CheapOrder)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	eng, err := engine.New(store, clock.Real{}, engine.Config{
		LivenessWindow: cfg.LivenessWindow,
		JobTimeout:     cfg.JobTimeout,
		SweepInterval:  cfg.SweepInterval,
		RatePerMinute:  cfg.RatePerMinute,
		CandidateLimit: cfg.CandidateLimit,
		CheapOrder:     cheapOrder,
	}, appLogger)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	// Observable gauges query the DB only when scraped.
	if err := observability.RegisterMeshGauges(eng, appLogger); err != nil {
		log.Printf("Failed to register mesh gauges: %v", err)
	}

	// Execution path
	var queued *dispatch.Queued
	var inline *dispatch.Inline
	if cfg.Dispatcher != "none" {
		rt, err := newRuntime(cfg)
		if err != nil {
			log.Fatalf("Failed to create %s runtime: %v", cfg.Runtime, err)
		}
		executor := dispatch.NewExecutor(rt, eng, dispatch.ExecutorConfig{
			Image:   cfg.TaskImage,
			Timeout: cfg.JobTimeout,
		}, appLogger)

		switch cfg.Dispatcher {
		case "inline":
			// Development only: every job gets its own goroutine, unbounded.
			inline = dispatch.NewInline(executor)
			eng.SetDispatcher(inline)
		default:
			queued = dispatch.NewQueued(executor, dispatch.QueuedConfig{
				Concurrency: cfg.WorkerConcurrency,
				QueueSize:   cfg.QueueSize,
			}, appLogger)
			eng.SetDispatcher(queued)
			go queued.Run(ctx)
		}
		log.Printf("Using %s dispatcher on %s runtime", cfg.Dispatcher, cfg.Runtime)
	} else {
		log.Println("No dispatcher: results are reported to /internal/jobs/{id}/result")
	}

	go eng.RunSweeper(ctx)

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, eng, controller.Options{
		InternalSecret: cfg.InternalSecret,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		MetricsHandler: metricsHandler,
	}, appLogger)

	go func() {
		log.Printf("Meshplane Controller starting on %s", addr)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down controller...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Stop the sweeper and let queued work drain.
	cancel()
	if queued != nil {
		<-queued.Done()
	}
	if inline != nil {
		inline.Close()
	}
	log.Println("Server exited properly")
}

func newRuntime(cfg *config.Config) (runtime.Runtime, error) {
	switch cfg.Runtime {
	case "docker":
		rt, err := runtime.NewDockerRuntime(runtime.DockerConfig{})
		if err != nil {
			return nil, err
		}
		return rt, nil
	case "kubernetes":
		rt, err := runtime.NewKubernetesRuntime(runtime.KubernetesConfig{
			Namespace:      cfg.K8sNamespace,
			ServiceAccount: cfg.K8sServiceAccount,
			GPULimit:       cfg.K8sGPULimit,
		})
		if err != nil {
			return nil, err
		}
		return rt, nil
	default:
		return runtime.NewSimulatedRuntime(cfg.SimulationScale), nil
	}
}
