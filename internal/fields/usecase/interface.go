// Package usecase implements business logic for encrypted field storage.
// Use cases orchestrate the key registry, the envelope codec, and the field
// repositories so that values are sealed under the current key version on
// write while payloads from older versions stay readable.
package usecase

import (
	"context"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	fieldsDomain "github.com/carevault/fieldcrypt/internal/fields/domain"
)

// FieldRepository defines the interface for encrypted field persistence operations.
type FieldRepository interface {
	Upsert(ctx context.Context, field *fieldsDomain.EncryptedField) error
	GetByName(ctx context.Context, entityType, entityID, fieldName string) (*fieldsDomain.EncryptedField, error)
}

// KeyRegistry exposes the slice of the key registry the field flow needs: the
// key new writes are sealed with. The returned metadata is shared registry
// state and must be treated as read-only.
type KeyRegistry interface {
	CurrentKey() (*cryptoDomain.KeyMetadata, error)
}

// FieldUseCase defines the interface for encrypted field business logic.
type FieldUseCase interface {
	// Put encrypts value under the current key version and stores it for the
	// given entity field, replacing any previous payload.
	Put(ctx context.Context, entityType, entityID, fieldName string, value []byte) (*fieldsDomain.EncryptedField, error)
	// Get retrieves and decrypts the value stored for the given entity field.
	//
	// Security Note: The returned EncryptedField contains plaintext data in the
	// Plaintext field. Callers MUST zero this data after use by calling
	// cryptoDomain.Zero(field.Plaintext).
	Get(ctx context.Context, entityType, entityID, fieldName string) (*fieldsDomain.EncryptedField, error)
}
