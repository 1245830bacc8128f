package service

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	"github.com/carevault/fieldcrypt/internal/errors"
)

// Registry is the process-wide cache of key material by version and the
// single authority on which version is current.
//
// Reads are designed to never block each other: the current key sits behind
// an atomic pointer and version lookups take a read lock. The only contended
// path is a cache miss, where concurrent lookups for the same version are
// collapsed into a single provider fetch.
//
// Entries are treated as immutable once registered. State transitions such as
// demotion replace the stored entry with a copy, so a reader holding an older
// pointer always sees a consistent value.
type Registry struct {
	provider      KeyProvider
	logger        *slog.Logger
	legacyVersion cryptoDomain.Version
	period        time.Duration

	mu      sync.RWMutex
	keys    map[cryptoDomain.Version]*cryptoDomain.KeyMetadata
	current atomic.Pointer[cryptoDomain.KeyMetadata]
	group   singleflight.Group
}

// NewRegistry creates an empty registry. legacyVersion names the version that
// decrypts payloads written before versioning existed, and period is the
// default rotation period used when no override is given.
func NewRegistry(provider KeyProvider, legacyVersion cryptoDomain.Version, period time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		provider:      provider,
		logger:        logger,
		legacyVersion: legacyVersion,
		period:        period,
		keys:          make(map[cryptoDomain.Version]*cryptoDomain.KeyMetadata),
	}
}

// WarmUp loads every known key version from the provider and selects the
// current one. When the secret store is unreachable and a fallback key is
// configured, the registry starts in degraded mode with the fallback
// registered as the legacy version; without a fallback the error is fatal.
func (r *Registry) WarmUp(ctx context.Context, fallbackKey []byte) error {
	metadatas, err := r.provider.FetchAll(ctx)
	if err != nil {
		return r.warmUpFallback(err, fallbackKey)
	}

	var current *cryptoDomain.KeyMetadata
	flagged := 0

	r.mu.Lock()
	for _, metadata := range metadatas {
		if err := r.registerLocked(metadata); err != nil {
			r.mu.Unlock()
			return err
		}
		if metadata.IsCurrent {
			flagged++
			if current == nil || metadata.Version > current.Version {
				current = metadata
			}
		}
	}
	if current != nil {
		r.current.Store(r.keys[current.Version])
	}
	r.mu.Unlock()

	switch {
	case len(metadatas) == 0:
		r.logger.Warn("secret store holds no encryption keys, bootstrap required")
	case current == nil:
		r.logger.Error("no stored key is flagged current, new encryptions will fail until rotation")
	case flagged > 1:
		r.logger.Warn("multiple stored keys flagged current, highest version wins",
			slog.String("version", current.Version.String()),
			slog.Int("flagged", flagged),
		)
	}

	r.logger.Info("key registry warmed", slog.Int("versions", len(metadatas)))

	return nil
}

func (r *Registry) warmUpFallback(cause error, fallbackKey []byte) error {
	if len(fallbackKey) == 0 {
		return errors.Wrap(cause, "registry warm-up")
	}

	metadata, err := cryptoDomain.NewKeyMetadata(fallbackKey, r.legacyVersion, time.Now(), r.period)
	if err != nil {
		return errors.Wrap(err, "fallback key")
	}

	r.mu.Lock()
	if err := r.registerLocked(metadata); err != nil {
		r.mu.Unlock()
		return err
	}
	r.current.Store(r.keys[metadata.Version])
	r.mu.Unlock()

	r.logger.Warn("secret store unreachable, running on the fallback key",
		slog.String("version", metadata.Version.String()),
		slog.Any("error", cause),
	)

	return nil
}

// Register adds a key version to the cache. Registering the same version and
// key again is a no-op; registering different key material under an existing
// version fails with ErrKeyConflict, since versions are immutable once
// minted.
func (r *Registry) Register(metadata *cryptoDomain.KeyMetadata) error {
	if err := metadata.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.registerLocked(metadata)
}

func (r *Registry) registerLocked(metadata *cryptoDomain.KeyMetadata) error {
	if existing, ok := r.keys[metadata.Version]; ok {
		if !existing.SameKey(metadata.Key) {
			return errors.Wrap(cryptoDomain.ErrKeyConflict, metadata.Version.String())
		}
		return nil
	}

	r.keys[metadata.Version] = metadata

	return nil
}

// CurrentKey returns the key used for new encryptions. The returned metadata
// must be treated as read-only.
func (r *Registry) CurrentKey() (*cryptoDomain.KeyMetadata, error) {
	current := r.current.Load()
	if current == nil {
		return nil, cryptoDomain.ErrNoCurrentKey
	}

	return current, nil
}

// CurrentVersion returns the version flagged current.
func (r *Registry) CurrentVersion() (cryptoDomain.Version, error) {
	current, err := r.CurrentKey()
	if err != nil {
		return 0, err
	}

	return current.Version, nil
}

// KeyFor returns the key material for a version. On cache miss it fetches
// from the provider, deduplicating concurrent misses for the same version
// into one call.
func (r *Registry) KeyFor(ctx context.Context, version cryptoDomain.Version) (*cryptoDomain.KeyMetadata, error) {
	if version == 0 {
		return nil, cryptoDomain.ErrInvalidVersion
	}

	r.mu.RLock()
	metadata, ok := r.keys[version]
	r.mu.RUnlock()
	if ok {
		return metadata, nil
	}

	result, err, _ := r.group.Do(version.String(), func() (any, error) {
		r.mu.RLock()
		cached, ok := r.keys[version]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		fetched, err := r.provider.Fetch(ctx, version)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		regErr := r.registerLocked(fetched)
		metadata := r.keys[version]
		r.mu.Unlock()
		if regErr != nil {
			return nil, regErr
		}

		r.logger.Info("key version loaded on demand", slog.String("version", version.String()))

		return metadata, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*cryptoDomain.KeyMetadata), nil
}

// LegacyKey returns the key for payloads written before versioning existed.
func (r *Registry) LegacyKey(ctx context.Context) (*cryptoDomain.KeyMetadata, error) {
	return r.KeyFor(ctx, r.legacyVersion)
}

// NeedsRotation reports whether the current key is older than the rotation
// period. A non-positive period selects the registry's configured default.
// Returns ErrNoCurrentKey when nothing is current, since there is nothing to
// measure against.
func (r *Registry) NeedsRotation(period time.Duration) (bool, error) {
	if period <= 0 {
		period = r.period
	}

	current, err := r.CurrentKey()
	if err != nil {
		return false, err
	}

	return current.OlderThan(time.Now(), period), nil
}

// Promote atomically makes metadata the current key and demotes the previous
// one. Readers observe the switch through a single pointer swap: they see
// either the old key or the new one, never an intermediate state. Returns the
// displaced key in its demoted form, ready to be persisted back to the secret
// store, or nil when this version already was current or nothing was current
// before.
func (r *Registry) Promote(metadata *cryptoDomain.KeyMetadata) (*cryptoDomain.KeyMetadata, error) {
	if err := metadata.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.registerLocked(metadata); err != nil {
		return nil, err
	}

	entry := r.keys[metadata.Version]
	if !entry.IsCurrent || entry.RotatedAt != nil {
		entry = entry.Clone()
		entry.IsCurrent = true
		entry.RotatedAt = nil
		r.keys[metadata.Version] = entry
	}

	previous := r.current.Load()
	r.current.Store(entry)

	if previous == nil || previous.Version == entry.Version {
		return nil, nil
	}

	demoted := previous.Demoted(time.Now())
	r.keys[previous.Version] = demoted

	return demoted, nil
}

// Snapshot returns a copy of every registered key, ordered by version. For
// inspection and status reporting only; mutating the copies has no effect on
// the registry.
func (r *Registry) Snapshot() []*cryptoDomain.KeyMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*cryptoDomain.KeyMetadata, 0, len(r.keys))
	for _, metadata := range r.keys {
		out = append(out, metadata.Clone())
	}
	slices.SortFunc(out, func(a, b *cryptoDomain.KeyMetadata) int {
		return cmp.Compare(a.Version, b.Version)
	})

	return out
}

// Close zeroes all cached key material and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, metadata := range r.keys {
		metadata.Close()
	}
	clear(r.keys)
	r.current.Store(nil)
}
