package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	cryptoUseCase "github.com/carevault/fieldcrypt/internal/crypto/usecase"
)

// RunRotateKey performs one key rotation run. Without --force the run is a
// no-op while the current key is younger than the rotation period. Existing
// payloads sealed under previous versions remain readable.
//
// Requirements: A current key must already exist (see bootstrap-key).
func RunRotateKey(
	ctx context.Context,
	rotationUseCase cryptoUseCase.RotationUseCase,
	logger *slog.Logger,
	writer io.Writer,
	force bool,
	periodDays int,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	if periodDays < 0 {
		return fmt.Errorf("period-days must be a positive number, got: %d", periodDays)
	}

	logger.Info("rotating encryption key",
		slog.Bool("force", force),
		slog.Int("period_days", periodDays),
	)

	result, err := rotationUseCase.Rotate(ctx, cryptoUseCase.RotationOptions{
		Force:  force,
		Period: time.Duration(periodDays) * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to rotate key: %w", err)
	}

	if format == "json" {
		if err := outputJSON(writer, result); err != nil {
			return err
		}
	} else {
		outputRotationText(writer, result)
	}

	logger.Info("rotation command completed",
		slog.Bool("rotated", result.Rotated),
		slog.String("reason", result.Reason),
		slog.String("version", result.NewVersion.String()),
	)

	return nil
}

// outputRotationText outputs the rotation result in human-readable text format.
func outputRotationText(writer io.Writer, result *cryptoUseCase.RotationResult) {
	if !result.Rotated {
		fmt.Fprintf(writer, "Rotation not due: key version %s is still within its period\n", result.NewVersion)
		return
	}

	if result.PreviousVersion != 0 {
		fmt.Fprintf(writer, "Successfully rotated key %s -> %s (reason: %s)\n",
			result.PreviousVersion, result.NewVersion, result.Reason)
	} else {
		fmt.Fprintf(writer, "Successfully rotated to key version %s (reason: %s)\n",
			result.NewVersion, result.Reason)
	}

	for _, region := range result.Replication {
		fmt.Fprintf(writer, "  replica %s: %s\n", region.Region, region.Status)
	}
}
