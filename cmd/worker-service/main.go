package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/app"
	"github.com/cuongbtq/ucloud-orchestrator/internal/config"
	"github.com/cuongbtq/ucloud-orchestrator/internal/health"
	"github.com/cuongbtq/ucloud-orchestrator/shared/logger"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const registryDebounce = 2 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stack, err := app.New(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	var wg sync.WaitGroup
	errChan := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := stack.Providers.Watch(ctx, registryDebounce); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("Provider registry watch stopped", slog.String("error", err.Error()))
		}
	}()

	mon := stack.Monitor(workerID)
	mon.Start(ctx)

	if consumer := stack.Consumer(workerID, cfg.Worker.Concurrency); consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				errChan <- err
			}
		}()
	} else {
		appLogger.Warn("RabbitMQ disabled, task records will not be maintained")
	}

	var opsSrv *http.Server
	if cfg.Metrics.Enabled {
		opsSrv = startOpsServer(cfg.Metrics.Port, stack.MetricsHandler, stack.Health, appLogger.Logger)
	}

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.String("error", err.Error()),
		)
		mon.Stop()
		return err
	}

	stack.Health.SetShuttingDown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		mon.Stop()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if opsSrv != nil {
		if err := opsSrv.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Ops server forced to shutdown", slog.String("error", err.Error()))
		}
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// startOpsServer serves metrics and health probes. The worker has no other HTTP surface.
func startOpsServer(port int, metrics http.Handler, checker *health.Checker, logger *slog.Logger) *http.Server {
	probe := func(check func(context.Context) *health.Response) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			resp := check(r.Context())
			status := http.StatusOK
			if !resp.IsHealthy() {
				status = http.StatusServiceUnavailable
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(resp)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	mux.HandleFunc("/health", probe(checker.Liveness))
	mux.HandleFunc("/ready", probe(checker.Readiness))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Ops server failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("Ops server listening", slog.String("address", srv.Addr))
	return srv
}
