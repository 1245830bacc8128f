// Package usecase implements the resumable batch re-encryption that moves
// stored field payloads onto the current key version after a rotation.
package usecase

import (
	"context"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	fieldsDomain "github.com/carevault/fieldcrypt/internal/fields/domain"
	reencryptDomain "github.com/carevault/fieldcrypt/internal/reencrypt/domain"
)

// FieldRepository defines the persistence operations the migrator needs.
type FieldRepository interface {
	ListBatch(ctx context.Context, afterID int64, limit int) ([]*fieldsDomain.EncryptedField, error)
	UpdatePayloads(ctx context.Context, updates []fieldsDomain.PayloadUpdate) error
	CountAll(ctx context.Context) (int64, error)
}

// KeyRegistry exposes the slice of the key registry the migrator needs: the
// version and key stale payloads are re-encrypted onto. The returned metadata
// is shared registry state and must be treated as read-only.
type KeyRegistry interface {
	CurrentKey() (*cryptoDomain.KeyMetadata, error)
}

// MigratorUseCase re-encrypts stored payloads onto the current key version.
//
// A run pages over the field store in primary-key order and commits each
// batch in its own transaction, so an interrupted run leaves a consistent
// state and the next run converges on the same end result: already-migrated
// records hit the skip path.
type MigratorUseCase interface {
	// Migrate performs one re-encryption run and reports what it did.
	Migrate(ctx context.Context, opts MigrationOptions) (*reencryptDomain.MigrationReport, error)
}
