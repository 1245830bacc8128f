package usecase

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	cryptoService "github.com/carevault/fieldcrypt/internal/crypto/service"
	apperrors "github.com/carevault/fieldcrypt/internal/errors"
	"github.com/carevault/fieldcrypt/internal/metrics"
	appValidation "github.com/carevault/fieldcrypt/internal/validation"
)

// RotationState names the phase a rotation run is in.
type RotationState string

const (
	RotationStateIdle       RotationState = "idle"
	RotationStateChecking   RotationState = "checking"
	RotationStateGenerating RotationState = "generating"
	RotationStatePersisting RotationState = "persisting"
	RotationStatePromoting  RotationState = "promoting"
)

// RotationOptions control a single rotation run.
type RotationOptions struct {
	// Force rotates even when the current key is not yet due.
	Force bool

	// Period overrides the configured rotation period for the due check.
	// Zero selects the configured default.
	Period time.Duration
}

// Rotation reasons reported in RotationResult.
const (
	RotationReasonNotDue    = "not-due"
	RotationReasonDue       = "due"
	RotationReasonForced    = "forced"
	RotationReasonAdopted   = "adopted"
	RotationReasonBootstrap = "bootstrap"
)

// RotationResult describes a completed rotation run.
type RotationResult struct {
	RunID           uuid.UUID                   `json:"run_id"`
	Rotated         bool                        `json:"rotated"`
	Reason          string                      `json:"reason"`
	PreviousVersion cryptoDomain.Version        `json:"previous_version,omitempty"`
	NewVersion      cryptoDomain.Version        `json:"new_version"`
	StartedAt       time.Time                   `json:"started_at"`
	FinishedAt      time.Time                   `json:"finished_at"`
	Replication     []cryptoDomain.RegionStatus `json:"replication,omitempty"`
}

// Elapsed returns the wall time the run took.
func (r *RotationResult) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// KeyInfo describes one key version without exposing its material.
type KeyInfo struct {
	Version   cryptoDomain.Version `json:"version"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at"`
	IsCurrent bool                 `json:"is_current"`
	RotatedAt *time.Time           `json:"rotated_at,omitempty"`
}

// KeyStatus is the operator-facing view of the key registry.
type KeyStatus struct {
	State          RotationState               `json:"state"`
	CurrentVersion cryptoDomain.Version        `json:"current_version"`
	Age            time.Duration               `json:"age"`
	RotationDue    bool                        `json:"rotation_due"`
	Keys           []KeyInfo                   `json:"keys"`
	Replication    []cryptoDomain.RegionStatus `json:"replication,omitempty"`
}

// rotationUseCase implements RotationUseCase against the key registry and the
// secret store provider. A process-local mutex serializes runs; the state is
// kept separately so Status can be served while a rotation is in flight.
type rotationUseCase struct {
	registry KeyRegistry
	provider cryptoService.KeyProvider
	metrics  metrics.BusinessMetrics
	logger   *slog.Logger
	period   time.Duration

	mu    sync.Mutex
	state atomic.Value
}

// NewRotationUseCase creates the rotation use case. The period sets the
// validity window stamped on newly generated keys and the default due check.
func NewRotationUseCase(
	registry KeyRegistry,
	provider cryptoService.KeyProvider,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
	period time.Duration,
) RotationUseCase {
	r := &rotationUseCase{
		registry: registry,
		provider: provider,
		metrics:  businessMetrics,
		logger:   logger,
		period:   period,
	}
	r.state.Store(RotationStateIdle)

	return r
}

func validateRotationOptions(opts RotationOptions) error {
	err := validation.ValidateStruct(&opts,
		validation.Field(&opts.Period,
			validation.Min(time.Duration(0)).Error("period must not be negative"),
		),
	)
	return appValidation.WrapValidationError(err)
}

// Rotate performs one rotation run.
//
// The sequence: check whether the current key is due (skipped when Force is
// set or no key exists yet), obtain the next version (adopting a stored orphan
// from an interrupted run instead of generating when one exists), persist it
// to the secret store, surface replication lag without blocking on it, then
// promote the new key in the registry and clear the stored current flag on the
// displaced one.
//
// Every step before promotion is safe to retry: generated-but-unpersisted
// material is discarded, and a persisted-but-unpromoted version is adopted by
// the next run.
func (r *rotationUseCase) Rotate(ctx context.Context, opts RotationOptions) (*RotationResult, error) {
	if err := validateRotationOptions(opts); err != nil {
		return nil, err
	}

	if !r.mu.TryLock() {
		return nil, apperrors.Wrap(cryptoDomain.ErrRotationFailed, "another rotation is in progress")
	}
	defer r.mu.Unlock()
	defer r.setState(RotationStateIdle)

	start := time.Now()
	runID := uuid.Must(uuid.NewV7())
	logger := r.logger.With(slog.String("rotation_id", runID.String()))

	r.setState(RotationStateChecking)

	current, err := r.registry.CurrentKey()
	switch {
	case err == nil:
	case apperrors.Is(err, cryptoDomain.ErrNoCurrentKey):
		// Nothing promoted yet: this run bootstraps the first version.
		current = nil
	default:
		return nil, r.fail(ctx, logger, err)
	}

	if current != nil && !opts.Force {
		due, err := r.registry.NeedsRotation(opts.Period)
		if err != nil {
			return nil, r.fail(ctx, logger, err)
		}
		if !due {
			r.metrics.RecordOperation(ctx, "rotation", "rotate", "skipped")
			logger.Debug("rotation not due",
				slog.String("current_version", current.Version.String()),
				slog.Duration("age", current.Age(time.Now())),
			)

			return &RotationResult{
				RunID:      runID,
				Reason:     RotationReasonNotDue,
				NewVersion: current.Version,
				StartedAt:  start,
				FinishedAt: time.Now(),
			}, nil
		}
	}

	next := cryptoDomain.Version(1)
	if current != nil {
		next = current.Version.Next()
	}

	r.setState(RotationStateGenerating)

	metadata, adopted, err := r.obtainNextKey(ctx, logger, next)
	if err != nil {
		return nil, r.fail(ctx, logger, err)
	}

	if !adopted {
		r.setState(RotationStatePersisting)

		if err := r.provider.Store(ctx, metadata); err != nil {
			return nil, r.fail(ctx, logger, err)
		}
	}

	replication, err := r.provider.ReplicationStatus(ctx, metadata.Version)
	if err != nil {
		logger.Warn("replication status unavailable", slog.Any("error", err))
	}
	for _, status := range replication {
		if !status.InSync() {
			logger.Warn("replica not yet in sync",
				slog.String("region", status.Region),
				slog.String("status", status.Status),
			)
		}
	}

	r.setState(RotationStatePromoting)

	previous, err := r.registry.Promote(metadata)
	if err != nil {
		return nil, r.fail(ctx, logger, err)
	}

	reason := RotationReasonDue
	switch {
	case adopted:
		reason = RotationReasonAdopted
	case current == nil:
		reason = RotationReasonBootstrap
	case opts.Force:
		reason = RotationReasonForced
	}

	result := &RotationResult{
		RunID:       runID,
		Rotated:     true,
		Reason:      reason,
		NewVersion:  metadata.Version,
		StartedAt:   start,
		Replication: replication,
	}

	if previous != nil {
		result.PreviousVersion = previous.Version

		// Best effort: a stale stored flag is resolved at the next warm-up,
		// which picks the highest version when several claim to be current.
		if err := r.provider.Demote(ctx, previous); err != nil {
			logger.Warn("could not clear the stored current flag on the displaced key",
				slog.String("version", previous.Version.String()),
				slog.Any("error", err),
			)
		}
	}

	result.FinishedAt = time.Now()
	r.metrics.RecordOperation(ctx, "rotation", "rotate", "success")
	r.metrics.RecordDuration(ctx, "rotation", "rotate", result.Elapsed(), "success")

	logger.Info("rotation complete",
		slog.String("new_version", metadata.Version.String()),
		slog.String("reason", reason),
		slog.Duration("elapsed", result.Elapsed()),
	)

	return result, nil
}

// obtainNextKey returns the key material for the next version. When the store
// already holds that version, a previous run persisted it but never promoted
// it, so it is adopted as-is; fresh material is generated only after the store
// confirms the version does not exist.
func (r *rotationUseCase) obtainNextKey(
	ctx context.Context, logger *slog.Logger, next cryptoDomain.Version,
) (*cryptoDomain.KeyMetadata, bool, error) {
	stored, err := r.provider.Fetch(ctx, next)
	if err == nil {
		logger.Warn("adopting a stored key version left by an interrupted rotation",
			slog.String("version", next.String()),
		)

		return stored, true, nil
	}
	if !apperrors.Is(err, cryptoDomain.ErrKeyNotFound) {
		return nil, false, err
	}

	key, err := cryptoService.GenerateKey()
	if err != nil {
		return nil, false, err
	}

	metadata, err := cryptoDomain.NewKeyMetadata(key, next, time.Now(), r.period)
	if err != nil {
		return nil, false, err
	}

	return metadata, false, nil
}

// Status reports the registry contents and rotation readiness.
func (r *rotationUseCase) Status(ctx context.Context) (*KeyStatus, error) {
	current, err := r.registry.CurrentKey()
	if err != nil {
		return nil, err
	}

	due, err := r.registry.NeedsRotation(0)
	if err != nil {
		return nil, err
	}

	status := &KeyStatus{
		State:          r.State(),
		CurrentVersion: current.Version,
		Age:            current.Age(time.Now()),
		RotationDue:    due,
	}

	for _, metadata := range r.registry.Snapshot() {
		status.Keys = append(status.Keys, KeyInfo{
			Version:   metadata.Version,
			CreatedAt: metadata.CreatedAt,
			ExpiresAt: metadata.ExpiresAt,
			IsCurrent: metadata.IsCurrent,
			RotatedAt: metadata.RotatedAt,
		})
		metadata.Close()
	}

	replication, err := r.provider.ReplicationStatus(ctx, current.Version)
	if err != nil {
		r.logger.Warn("replication status unavailable", slog.Any("error", err))
	} else {
		status.Replication = replication
	}

	return status, nil
}

// State returns the phase the rotation machine is in.
func (r *rotationUseCase) State() RotationState {
	if state, ok := r.state.Load().(RotationState); ok {
		return state
	}

	return RotationStateIdle
}

func (r *rotationUseCase) setState(state RotationState) {
	r.state.Store(state)
}

func (r *rotationUseCase) fail(ctx context.Context, logger *slog.Logger, err error) error {
	r.metrics.RecordOperation(ctx, "rotation", "rotate", "error")
	logger.Error("rotation failed", slog.Any("error", err))

	return apperrors.Wrap(cryptoDomain.ErrRotationFailed, err.Error())
}
