package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"presence-tracker-backend/config"
	"presence-tracker-backend/internal/api"
	"presence-tracker-backend/internal/db"
	"presence-tracker-backend/internal/idle"
	"presence-tracker-backend/internal/monitor"
	"presence-tracker-backend/internal/notification"
	"presence-tracker-backend/internal/pipeline"
	"presence-tracker-backend/internal/pipeline/stages"
	"presence-tracker-backend/internal/store"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "presenced ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled {
		if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
			logger.Fatalf("push is enabled but VAPID keys are not configured")
		}
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	var wg sync.WaitGroup

	// Notification workers receive presence transitions and fan them out to
	// push subscribers.
	var sinks []monitor.TransitionSink
	if cfg.Push.Enabled {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		pool.Start(ctx)
		sinks = append(sinks, pool)
	}

	// Presence monitor
	var presence api.PresenceSource
	var sessions stages.SessionSource
	if cfg.Monitor.Enabled {
		sampler, err := idle.New(&cfg.Monitor.Sampler)
		if err != nil {
			logger.Fatalf("failed to build idle sampler: %v", err)
		}
		mon := monitor.New(&cfg.Monitor, appStore, sampler, sinks...)
		presence = mon
		sessions = mon
		wg.Add(1)
		go func() {
			defer wg.Done()
			mon.Run(ctx)
		}()
	}

	// Pipeline scheduler
	var runner api.PipelineRunner
	if cfg.Pipeline.Enabled {
		registry, err := stages.NewRegistry(appStore, cfg, sessions)
		if err != nil {
			logger.Fatalf("failed to build stage registry: %v", err)
		}
		scheduler, err := pipeline.NewScheduler(&cfg.Pipeline, appStore, pipeline.NewDBStateStore(appStore), registry)
		if err != nil {
			logger.Fatalf("failed to build pipeline scheduler: %v", err)
		}
		pr := pipeline.NewRunner(scheduler, cfg.Pipeline.RefreshInterval)
		runner = pr
		wg.Add(1)
		go func() {
			defer wg.Done()
			pr.Run(ctx)
		}()
	}

	// Initialize router
	router := api.NewRouter(appStore, presence, runner, cfg, webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	cancel()

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	// Wait for the monitor and pipeline to finish their current tick, but
	// never past the shutdown deadline.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Println("Timed out waiting for background loops to stop")
	}

	logger.Println("Server gracefully stopped")
}
