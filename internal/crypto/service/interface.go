// Package service implements the cryptographic core for versioned field
// encryption: the AES-256-GCM cipher, the envelope codec that speaks every
// historical payload form, the process-wide key registry, and key material
// generation and KMS wrapping.
package service

import (
	"context"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
)

// VersionResolver supplies key material for the versions recorded in
// encrypted payloads. The registry is the production implementation; tests
// substitute fakes.
type VersionResolver interface {
	// KeyFor returns the key material for a version, fetching it from the
	// provider on cache miss.
	KeyFor(ctx context.Context, version cryptoDomain.Version) (*cryptoDomain.KeyMetadata, error)

	// LegacyKey returns the key that decrypts payloads written before
	// versioning existed.
	LegacyKey(ctx context.Context) (*cryptoDomain.KeyMetadata, error)
}

// KeyProvider fetches and persists key material against the external secret
// store. Implementations own the regional failover order; callers never pass
// regions per call.
type KeyProvider interface {
	// Fetch retrieves one version, trying regions in their configured order.
	// A not-found answer from a reachable region is authoritative and does
	// not trigger failover; transport errors do.
	Fetch(ctx context.Context, version cryptoDomain.Version) (*cryptoDomain.KeyMetadata, error)

	// FetchAll lists and loads every known version, for registry warm-up.
	FetchAll(ctx context.Context) ([]*cryptoDomain.KeyMetadata, error)

	// Store writes a new key version to the primary region. It must refuse
	// to overwrite an existing version.
	Store(ctx context.Context, metadata *cryptoDomain.KeyMetadata) error

	// Demote rewrites a stored version's document with its current flag
	// cleared. Used after promotion so warm-ups see a single current key.
	Demote(ctx context.Context, metadata *cryptoDomain.KeyMetadata) error

	// ReplicationStatus reports per-region replication state for a version.
	ReplicationStatus(ctx context.Context, version cryptoDomain.Version) ([]cryptoDomain.RegionStatus, error)
}

// KMSService opens keepers that wrap key material before it reaches the
// secret store.
type KMSService interface {
	// OpenKeeper opens a keeper for the configured KMS provider URI.
	OpenKeeper(ctx context.Context, keyURI string) (cryptoDomain.KMSKeeper, error)
}
