package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	reencryptDomain "github.com/carevault/fieldcrypt/internal/reencrypt/domain"
	reencryptUseCase "github.com/carevault/fieldcrypt/internal/reencrypt/usecase"
)

// RunReencryptFields re-encrypts stored field payloads onto the current key
// version in batches. Safe to interrupt and re-run: each batch commits in its
// own transaction and already-migrated records are skipped.
//
// Requirements: Database must be migrated and a current key must exist.
func RunReencryptFields(
	ctx context.Context,
	migratorUseCase reencryptUseCase.MigratorUseCase,
	logger *slog.Logger,
	writer io.Writer,
	fromVersion int,
	batchSize int,
	dryRun bool,
	skipFailed bool,
	rateLimit int,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	if fromVersion < 0 {
		return fmt.Errorf("from-version must be a positive number, got: %d", fromVersion)
	}

	logger.Info("starting field re-encryption",
		slog.Int("from_version", fromVersion),
		slog.Int("batch_size", batchSize),
		slog.Bool("dry_run", dryRun),
		slog.Bool("skip_failed", skipFailed),
		slog.Int("rate_limit", rateLimit),
	)

	report, err := migratorUseCase.Migrate(ctx, reencryptUseCase.MigrationOptions{
		BatchSize:   batchSize,
		FromVersion: cryptoDomain.Version(fromVersion),
		DryRun:      dryRun,
		SkipFailed:  skipFailed,
		RateLimit:   rateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to re-encrypt fields: %w", err)
	}

	if format == "json" {
		if err := outputJSON(writer, report); err != nil {
			return err
		}
	} else {
		outputReportText(writer, report)
	}

	logger.Info("field re-encryption completed",
		slog.Int("scanned", report.Scanned),
		slog.Int("reencrypted", report.Reencrypted),
		slog.Int("skipped", report.Skipped),
		slog.Int("skipped_failed", report.SkippedFailed),
		slog.Bool("dry_run", report.DryRun),
	)

	return nil
}

// outputReportText outputs the migration report in human-readable text format.
func outputReportText(writer io.Writer, report *reencryptDomain.MigrationReport) {
	if report.DryRun {
		fmt.Fprintf(writer, "Dry-run mode: would re-encrypt %d of %d record(s)\n",
			report.Reencrypted, report.Scanned)
	} else {
		fmt.Fprintf(writer, "Successfully re-encrypted %d of %d record(s) in %d batch(es)\n",
			report.Reencrypted, report.Scanned, report.Batches)
	}

	fmt.Fprintf(writer, "  skipped (already current or outside filter): %d\n", report.Skipped)
	if report.SkippedFailed > 0 {
		fmt.Fprintf(writer, "  left unreadable in place: %d\n", report.SkippedFailed)
	}
	fmt.Fprintf(writer, "  elapsed: %s (%.1f records/sec)\n",
		report.Elapsed().Round(time.Millisecond), report.RecordsPerSecond())
}
