// Package domain defines the record shape of the host-side encrypted column
// store. Each row holds one protected field value as an opaque encrypted
// payload; the key version that protects a row lives inside the payload
// itself, so the table carries no key bookkeeping of its own.
package domain

import (
	"time"
)

// EncryptedField represents one protected field value of a host entity.
type EncryptedField struct {
	// ID is the stable ascending primary key; batch re-encryption uses it as
	// its pagination cursor.
	ID int64
	// EntityType names the kind of owning entity (e.g. "patient").
	EntityType string
	// EntityID identifies the owning entity within its type.
	EntityID string
	// FieldName names the protected field; (EntityType, EntityID, FieldName)
	// is unique.
	FieldName string
	// Payload contains the encrypted field value in any readable payload form.
	Payload []byte
	// Plaintext holds the decrypted value in memory only; must be zeroed after use.
	Plaintext []byte `json:"-"`
	// CreatedAt is the UTC timestamp when this field was first stored.
	CreatedAt time.Time
	// UpdatedAt is the UTC timestamp of the last payload write.
	UpdatedAt time.Time
}

// PayloadUpdate carries one re-encrypted payload back to the store.
type PayloadUpdate struct {
	ID      int64
	Payload []byte
}
