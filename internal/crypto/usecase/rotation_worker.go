package usecase

import (
	"context"
	"log/slog"
	"time"
)

// RotationWorker periodically runs a rotation check and rotates the current
// key when it is due.
type RotationWorker struct {
	useCase  RotationUseCase
	interval time.Duration
	logger   *slog.Logger
}

// NewRotationWorker creates a worker that checks every interval.
func NewRotationWorker(useCase RotationUseCase, interval time.Duration, logger *slog.Logger) *RotationWorker {
	return &RotationWorker{
		useCase:  useCase,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the periodic rotation check until ctx is canceled.
func (w *RotationWorker) Start(ctx context.Context) error {
	w.logger.Info("starting rotation worker", slog.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping rotation worker")
			return ctx.Err()
		case <-ticker.C:
			result, err := w.useCase.Rotate(ctx, RotationOptions{})
			if err != nil {
				w.logger.Error("scheduled rotation failed", slog.Any("error", err))
				continue
			}
			if result.Rotated {
				w.logger.Info("scheduled rotation complete",
					slog.String("new_version", result.NewVersion.String()),
					slog.String("reason", result.Reason),
				)
			}
		}
	}
}
