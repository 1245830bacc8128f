package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	cryptoUseCase "github.com/carevault/fieldcrypt/internal/crypto/usecase"
)

// RunKeyStatus reports the key registry contents and rotation readiness
// without exposing any key material.
func RunKeyStatus(
	ctx context.Context,
	rotationUseCase cryptoUseCase.RotationUseCase,
	logger *slog.Logger,
	writer io.Writer,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	status, err := rotationUseCase.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get key status: %w", err)
	}

	if format == "json" {
		if err := outputJSON(writer, status); err != nil {
			return err
		}
	} else {
		outputStatusText(writer, status)
	}

	logger.Info("key status reported",
		slog.String("current_version", status.CurrentVersion.String()),
		slog.Bool("rotation_due", status.RotationDue),
	)

	return nil
}

// outputStatusText outputs the key status in human-readable text format.
func outputStatusText(writer io.Writer, status *cryptoUseCase.KeyStatus) {
	due := "no"
	if status.RotationDue {
		due = "yes"
	}
	fmt.Fprintf(writer, "Current key version: %s (age: %s, rotation due: %s, state: %s)\n",
		status.CurrentVersion, status.Age.Round(time.Second), due, status.State)

	if len(status.Keys) > 0 {
		fmt.Fprintln(writer, "Keys:")
		for _, key := range status.Keys {
			marker := ""
			switch {
			case key.IsCurrent:
				marker = "  (current)"
			case key.RotatedAt != nil:
				marker = fmt.Sprintf("  (rotated %s)", key.RotatedAt.Format(time.RFC3339))
			}
			fmt.Fprintf(writer, "  %-6s created %s  expires %s%s\n",
				key.Version,
				key.CreatedAt.Format(time.RFC3339),
				key.ExpiresAt.Format(time.RFC3339),
				marker,
			)
		}
	}

	if len(status.Replication) > 0 {
		fmt.Fprintln(writer, "Replication:")
		for _, region := range status.Replication {
			fmt.Fprintf(writer, "  %s: %s\n", region.Region, region.Status)
		}
	}
}
