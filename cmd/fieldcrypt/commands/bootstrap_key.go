package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	cryptoUseCase "github.com/carevault/fieldcrypt/internal/crypto/usecase"
	apperrors "github.com/carevault/fieldcrypt/internal/errors"
)

// RunBootstrapKey creates the very first key version in the secret store and
// promotes it. Should only be run once during initial system setup; it refuses
// to run when a current key already exists.
//
// Requirements: The secret store must be reachable and the database migrated.
func RunBootstrapKey(
	ctx context.Context,
	rotationUseCase cryptoUseCase.RotationUseCase,
	logger *slog.Logger,
	writer io.Writer,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	logger.Info("bootstrapping the first key version")

	// Refuse to bootstrap over existing key material
	_, err := rotationUseCase.Status(ctx)
	switch {
	case err == nil:
		return fmt.Errorf("a current key already exists, use rotate-key to mint a new version")
	case apperrors.Is(err, cryptoDomain.ErrNoCurrentKey):
	default:
		return fmt.Errorf("failed to inspect key status: %w", err)
	}

	result, err := rotationUseCase.Rotate(ctx, cryptoUseCase.RotationOptions{})
	if err != nil {
		return fmt.Errorf("failed to bootstrap key: %w", err)
	}

	if format == "json" {
		if err := outputJSON(writer, result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(writer, "Successfully bootstrapped key version %s\n", result.NewVersion)
	}

	logger.Info("key bootstrap completed",
		slog.String("version", result.NewVersion.String()),
		slog.Duration("elapsed", result.Elapsed()),
	)

	return nil
}

// outputJSON renders any result as indented JSON for machine consumption.
func outputJSON(writer io.Writer, result any) error {
	jsonBytes, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	fmt.Fprintln(writer, string(jsonBytes))
	return nil
}
