package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"
	"golang.org/x/time/rate"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	cryptoService "github.com/carevault/fieldcrypt/internal/crypto/service"
	"github.com/carevault/fieldcrypt/internal/database"
	apperrors "github.com/carevault/fieldcrypt/internal/errors"
	fieldsDomain "github.com/carevault/fieldcrypt/internal/fields/domain"
	"github.com/carevault/fieldcrypt/internal/metrics"
	reencryptDomain "github.com/carevault/fieldcrypt/internal/reencrypt/domain"
	appValidation "github.com/carevault/fieldcrypt/internal/validation"
)

// DefaultBatchSize is the number of records read and committed per
// transaction when no override is configured.
const DefaultBatchSize = 100

// MigrationOptions control a single re-encryption run.
type MigrationOptions struct {
	// BatchSize caps how many records are read and committed per transaction.
	// Non-positive selects the configured default.
	BatchSize int

	// FromVersion restricts the run to payloads recorded under one version;
	// zero migrates every stale payload.
	FromVersion cryptoDomain.Version

	// DryRun reports what would change without opening write transactions.
	DryRun bool

	// SkipFailed leaves records that fail authentication in place and keeps
	// going instead of aborting the run.
	SkipFailed bool

	// RateLimit caps processed records per second. Zero selects the
	// configured default; a default of zero disables the throttle.
	RateLimit int
}

// migratorUseCase implements MigratorUseCase against the field store, the key
// registry, and the envelope codec.
type migratorUseCase struct {
	repo      FieldRepository
	registry  KeyRegistry
	codec     *cryptoService.EnvelopeCodec
	txManager database.TxManager
	metrics   metrics.BusinessMetrics
	logger    *slog.Logger
	batchSize int
	rateLimit int
}

// NewMigratorUseCase creates the migrator. batchSize and rateLimit are the
// configured defaults, applied when a run's options leave them unset.
func NewMigratorUseCase(
	repo FieldRepository,
	registry KeyRegistry,
	codec *cryptoService.EnvelopeCodec,
	txManager database.TxManager,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
	batchSize int,
	rateLimit int,
) MigratorUseCase {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &migratorUseCase{
		repo:      repo,
		registry:  registry,
		codec:     codec,
		txManager: txManager,
		metrics:   businessMetrics,
		logger:    logger,
		batchSize: batchSize,
		rateLimit: rateLimit,
	}
}

func validateMigrationOptions(opts MigrationOptions) error {
	err := validation.ValidateStruct(&opts,
		validation.Field(&opts.BatchSize,
			validation.Min(0).Error("batch size must not be negative"),
		),
		validation.Field(&opts.RateLimit,
			validation.Min(0).Error("rate limit must not be negative"),
		),
	)
	return appValidation.WrapValidationError(err)
}

// Migrate pages over every stored field in primary-key order and re-encrypts
// stale payloads under the current key version, committing one transaction
// per batch.
//
// Skip decisions are structural: a payload already framed with the current
// version is never decrypted, which keeps re-runs after an interrupt cheap.
// Staged records go through the authenticated DecryptAny reading, so whatever
// historical form the payload carries, the bytes written back are proven to
// re-encrypt the original plaintext.
func (m *migratorUseCase) Migrate(ctx context.Context, opts MigrationOptions) (*reencryptDomain.MigrationReport, error) {
	if err := validateMigrationOptions(opts); err != nil {
		return nil, err
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = m.batchSize
	}
	rateLimit := opts.RateLimit
	if rateLimit <= 0 {
		rateLimit = m.rateLimit
	}

	current, err := m.registry.CurrentKey()
	if err != nil {
		return nil, err
	}

	total, err := m.repo.CountAll(ctx)
	if err != nil {
		return nil, err
	}

	report := &reencryptDomain.MigrationReport{
		RunID:     uuid.Must(uuid.NewV7()),
		DryRun:    opts.DryRun,
		StartedAt: time.Now().UTC(),
	}
	logger := m.logger.With(slog.String("migration_id", report.RunID.String()))

	logger.Info("starting re-encryption run",
		slog.String("target_version", current.Version.String()),
		slog.Int64("records_total", total),
		slog.Int("batch_size", batchSize),
		slog.Bool("dry_run", opts.DryRun),
	)

	var limiter *rate.Limiter
	if rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateLimit), batchSize)
	}

	var cursor int64
	for {
		// Stopping is only safe between batches: each batch commits as a
		// unit, so an interrupted run resumes without partial writes.
		if err := ctx.Err(); err != nil {
			return nil, m.fail(ctx, logger, err)
		}

		fields, err := m.repo.ListBatch(ctx, cursor, batchSize)
		if err != nil {
			return nil, m.fail(ctx, logger, err)
		}
		if len(fields) == 0 {
			break
		}

		updates, err := m.stageBatch(ctx, logger, fields, current, opts, report)
		if err != nil {
			return nil, m.fail(ctx, logger, err)
		}

		if len(updates) > 0 && !opts.DryRun {
			err := m.txManager.WithTx(ctx, func(txCtx context.Context) error {
				return m.repo.UpdatePayloads(txCtx, updates)
			})
			if err != nil {
				return nil, m.fail(ctx, logger, err)
			}

			m.metrics.RecordMigratedRecords(ctx, int64(len(updates)), "reencrypted")
		}

		report.Batches++
		report.Reencrypted += len(updates)
		cursor = fields[len(fields)-1].ID

		logger.Info("re-encrypted batch",
			slog.Int("batch", report.Batches),
			slog.Int("reencrypted_in_batch", len(updates)),
			slog.Int("scanned", report.Scanned),
			slog.Int("reencrypted", report.Reencrypted),
		)

		if limiter != nil {
			if err := limiter.WaitN(ctx, len(fields)); err != nil {
				return nil, m.fail(ctx, logger, err)
			}
		}
	}

	report.FinishedAt = time.Now().UTC()

	if !opts.DryRun {
		if report.Skipped > 0 {
			m.metrics.RecordMigratedRecords(ctx, int64(report.Skipped), "skipped")
		}
		if report.SkippedFailed > 0 {
			m.metrics.RecordMigratedRecords(ctx, int64(report.SkippedFailed), "failed")
		}
	}
	m.metrics.RecordOperation(ctx, "reencrypt", "migrate", "success")
	m.metrics.RecordDuration(ctx, "reencrypt", "migrate", report.Elapsed(), "success")

	logger.Info("re-encryption run complete",
		slog.Int("scanned", report.Scanned),
		slog.Int("reencrypted", report.Reencrypted),
		slog.Int("skipped", report.Skipped),
		slog.Int("skipped_failed", report.SkippedFailed),
		slog.Int("batches", report.Batches),
		slog.Duration("elapsed", report.Elapsed()),
		slog.Bool("dry_run", opts.DryRun),
	)

	return report, nil
}

// stageBatch decides per record whether to skip, stage, or abort. Staged
// updates carry re-encrypted payloads; plaintext never outlives this frame.
func (m *migratorUseCase) stageBatch(
	ctx context.Context,
	logger *slog.Logger,
	fields []*fieldsDomain.EncryptedField,
	current *cryptoDomain.KeyMetadata,
	opts MigrationOptions,
	report *reencryptDomain.MigrationReport,
) ([]fieldsDomain.PayloadUpdate, error) {
	updates := make([]fieldsDomain.PayloadUpdate, 0, len(fields))

	for _, field := range fields {
		report.Scanned++

		parsed, err := cryptoDomain.ParsePayload(field.Payload)
		if err != nil {
			if skipErr := m.handleUnreadable(logger, field.ID, err, opts, report); skipErr != nil {
				return nil, skipErr
			}
			continue
		}

		// Already on the current frame, nothing to do. The check is
		// structural: a legacy payload whose nonce imitates the current
		// frame stays unmigrated but remains readable through DecryptAny.
		if parsed.Form == cryptoDomain.FormVersioned && parsed.Version == current.Version {
			report.Skipped++
			continue
		}

		if opts.FromVersion != 0 && parsed.Version != opts.FromVersion {
			report.Skipped++
			continue
		}

		plaintext, _, err := m.codec.DecryptAny(ctx, field.Payload)
		if err != nil {
			// An unreachable secret store aborts the run even with
			// --skip-failed: on an outage every record would look
			// unreadable, and skipping would misreport healthy data.
			if !isRecordFailure(err) {
				return nil, err
			}
			if skipErr := m.handleUnreadable(logger, field.ID, err, opts, report); skipErr != nil {
				return nil, skipErr
			}
			continue
		}

		sealed, err := m.codec.EncryptVersioned(plaintext, current.Version, current.Key)
		cryptoDomain.Zero(plaintext)
		if err != nil {
			return nil, err
		}

		updates = append(updates, fieldsDomain.PayloadUpdate{ID: field.ID, Payload: sealed})
	}

	return updates, nil
}

// handleUnreadable applies the --skip-failed choice to one condemned record.
// It returns an error carrying the record id when the run must abort, nil
// when the record was skipped.
func (m *migratorUseCase) handleUnreadable(
	logger *slog.Logger,
	recordID int64,
	cause error,
	opts MigrationOptions,
	report *reencryptDomain.MigrationReport,
) error {
	if !opts.SkipFailed {
		return apperrors.Wrapf(cause, "record %d", recordID)
	}

	report.SkippedFailed++
	logger.Warn("leaving unreadable record in place",
		slog.Int64("record_id", recordID),
		slog.Any("error", cause),
	)

	return nil
}

// isRecordFailure reports whether err condemns the record itself rather than
// the infrastructure it was read through.
func isRecordFailure(err error) bool {
	return apperrors.Is(err, cryptoDomain.ErrAuthentication) ||
		apperrors.Is(err, cryptoDomain.ErrInvalidPayload)
}

func (m *migratorUseCase) fail(ctx context.Context, logger *slog.Logger, err error) error {
	m.metrics.RecordOperation(ctx, "reencrypt", "migrate", "error")
	logger.Error("re-encryption run failed", slog.Any("error", err))

	return err
}
