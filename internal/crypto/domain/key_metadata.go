// Package domain defines the core domain models for versioned field encryption.
//
// Every encryption key carries a monotonically increasing version. Exactly one
// version is current at a time and is used for new writes; older versions stay
// readable so that existing payloads can be decrypted and re-encrypted lazily.
// All keys are 256-bit AES-GCM keys.
package domain

import (
	"crypto/subtle"
	"time"
)

// KeyMetadata represents a single version of an encryption key together with
// its lifecycle state. Key material is only ever held in memory; at rest it is
// wrapped by the KMS keeper before being written to the secret store.
type KeyMetadata struct {
	Key       []byte     // Plaintext key material, exactly KeySize bytes
	Version   Version    // Version number, unique per namespace
	CreatedAt time.Time  // When this version was generated
	ExpiresAt time.Time  // CreatedAt plus the rotation period in effect at creation
	IsCurrent bool       // Whether new writes use this version
	RotatedAt *time.Time // When this version stopped being current, nil while current
}

// NewKeyMetadata builds metadata for freshly generated key material, marked
// current. The rotation period only seeds ExpiresAt; rotation due checks are
// computed from CreatedAt so that period changes apply retroactively.
func NewKeyMetadata(key []byte, version Version, now time.Time, period time.Duration) (*KeyMetadata, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if version == 0 {
		return nil, ErrInvalidVersion
	}

	return &KeyMetadata{
		Key:       key,
		Version:   version,
		CreatedAt: now.UTC(),
		ExpiresAt: now.UTC().Add(period),
		IsCurrent: true,
	}, nil
}

// Validate reports whether the metadata is internally consistent. It is used
// when loading entries from the secret store, where malformed or truncated
// documents must be rejected before they reach the registry.
func (k *KeyMetadata) Validate() error {
	if len(k.Key) != KeySize {
		return ErrInvalidKeySize
	}
	if k.Version == 0 {
		return ErrInvalidVersion
	}
	if k.CreatedAt.IsZero() {
		return ErrInvalidKeyMetadata
	}

	return nil
}

// Age returns how long ago this version was created.
func (k *KeyMetadata) Age(now time.Time) time.Duration {
	return now.Sub(k.CreatedAt)
}

// OlderThan reports whether this version has exceeded the given rotation
// period. The comparison is strict: a key is not due at exactly the period
// boundary.
func (k *KeyMetadata) OlderThan(now time.Time, period time.Duration) bool {
	return k.Age(now) > period
}

// SameKey compares the key material against other in constant time.
func (k *KeyMetadata) SameKey(other []byte) bool {
	return subtle.ConstantTimeCompare(k.Key, other) == 1
}

// Clone returns a deep copy, including the key material. Registry snapshots
// hand out clones so callers cannot mutate shared state.
func (k *KeyMetadata) Clone() *KeyMetadata {
	if k == nil {
		return nil
	}

	c := *k
	c.Key = make([]byte, len(k.Key))
	copy(c.Key, k.Key)
	if k.RotatedAt != nil {
		t := *k.RotatedAt
		c.RotatedAt = &t
	}

	return &c
}

// Demoted returns a copy of the metadata with IsCurrent cleared and RotatedAt
// set. The receiver is not modified; promotion replaces entries instead of
// mutating them so readers never observe a half-updated key.
func (k *KeyMetadata) Demoted(now time.Time) *KeyMetadata {
	c := k.Clone()
	c.IsCurrent = false
	t := now.UTC()
	c.RotatedAt = &t

	return c
}

// Close zeroes the key material.
func (k *KeyMetadata) Close() {
	Zero(k.Key)
}
