package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/carevault/fieldcrypt/internal/app"
	"github.com/carevault/fieldcrypt/internal/config"
	"github.com/carevault/fieldcrypt/internal/metrics"
)

// RunWorker starts the rotation worker daemon with graceful shutdown support.
// Loads configuration, initializes the DI container, and runs the periodic
// rotation check alongside the metrics endpoint. Blocks until receiving
// SIGINT/SIGTERM or encountering a fatal error.
func RunWorker(ctx context.Context, version string) error {
	// Load configuration
	cfg := config.Load()

	// Create DI container
	container := app.NewContainer(cfg)

	// Get logger from container
	logger := container.Logger()
	logger.Info("starting rotation worker daemon", slog.String("version", version))

	// Ensure cleanup on exit
	defer closeContainer(container, logger)

	// Get rotation worker from container (this initializes the key registry)
	worker, err := container.RotationWorker()
	if err != nil {
		return fmt.Errorf("failed to initialize rotation worker: %w", err)
	}

	// Get metrics server from container
	var metricsServer *metrics.Server
	if cfg.MetricsEnabled {
		metricsServer, err = container.MetricsServer()
		if err != nil {
			return fmt.Errorf("failed to initialize metrics server: %w", err)
		}
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start the worker loop and metrics server in goroutines
	serverErr := make(chan error, 1)
	workerDone := make(chan error, 1)

	go func() {
		workerDone <- worker.Start(ctx)
	}()

	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				serverErr <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DBConnMaxLifetime)
		defer shutdownCancel()

		var shutdownErrors []error

		if workerErr := <-workerDone; workerErr != nil && !errors.Is(workerErr, context.Canceled) {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("rotation worker: %w", workerErr))
		}

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
			}
		}

		if len(shutdownErrors) > 0 {
			return errors.Join(shutdownErrors...)
		}
	case err := <-serverErr:
		// Attempt graceful shutdown if the metrics server fails
		logger.Error("server error, initiating shutdown", slog.Any("error", err))
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DBConnMaxLifetime)
		defer shutdownCancel()

		var shutdownErrors []error
		shutdownErrors = append(shutdownErrors, err)

		if workerErr := <-workerDone; workerErr != nil && !errors.Is(workerErr, context.Canceled) {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("rotation worker: %w", workerErr))
		}

		if metricsServer != nil {
			if shutErr := metricsServer.Shutdown(shutdownCtx); shutErr != nil {
				shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", shutErr))
			}
		}

		return errors.Join(shutdownErrors...)
	}

	return nil
}
