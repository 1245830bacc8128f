// Package usecase orchestrates the key rotation lifecycle: deciding when the
// current key is due, generating and persisting its successor, promoting it in
// the in-process registry, and running the whole sequence on a schedule.
package usecase

import (
	"context"
	"time"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
)

// KeyRegistry is the in-process key cache the rotation flow reads from and
// promotes into. *service.Registry is the production implementation; the
// dependency is an interface so rotations can be driven against any registry.
type KeyRegistry interface {
	// CurrentKey returns the key new writes use, or ErrNoCurrentKey.
	CurrentKey() (*cryptoDomain.KeyMetadata, error)

	// NeedsRotation reports whether the current key is older than the
	// rotation period. A non-positive period selects the configured default.
	NeedsRotation(period time.Duration) (bool, error)

	// Promote makes metadata the current key and returns the displaced key
	// in its demoted form, or nil when nothing was displaced.
	Promote(metadata *cryptoDomain.KeyMetadata) (*cryptoDomain.KeyMetadata, error)

	// Snapshot returns a copy of every registered key, ordered by version.
	Snapshot() []*cryptoDomain.KeyMetadata
}

// RotationUseCase drives key rotation.
//
// Rotate runs the full sequence: check whether rotation is due, generate (or
// adopt) the next key version, persist it to the secret store, and promote it
// in the registry. Only one rotation runs at a time; a second concurrent call
// fails fast with ErrRotationFailed.
//
// A rotation interrupted after persisting but before promoting leaves a
// stored, never-promoted version behind; the next Rotate call adopts and
// promotes it instead of generating fresh key material.
type RotationUseCase interface {
	// Rotate performs one rotation run. With default options it is a no-op
	// when the current key is not yet due; Force overrides that check, and
	// Period overrides the configured rotation period for the check only.
	Rotate(ctx context.Context, opts RotationOptions) (*RotationResult, error)

	// Status reports the current key, its age, whether rotation is due, and
	// the known key versions. Key material never appears in the status.
	Status(ctx context.Context) (*KeyStatus, error)

	// State returns the phase the rotation machine is in. Idle unless a
	// rotation is in flight.
	State() RotationState
}
