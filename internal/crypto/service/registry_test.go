package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	"github.com/carevault/fieldcrypt/internal/errors"
)

const testPeriod = 90 * 24 * time.Hour

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProvider is an in-memory KeyProvider that counts fetches and can
// simulate outages and slow responses.
type fakeProvider struct {
	mu             sync.Mutex
	stored         map[cryptoDomain.Version]*cryptoDomain.KeyMetadata
	fetchCalls     map[cryptoDomain.Version]int
	fetchAllResult []*cryptoDomain.KeyMetadata
	fetchAllErr    error
	fetchErr       error
	fetchDelay     time.Duration
	demoted        []cryptoDomain.Version
	statuses       []cryptoDomain.RegionStatus
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		stored:     make(map[cryptoDomain.Version]*cryptoDomain.KeyMetadata),
		fetchCalls: make(map[cryptoDomain.Version]int),
	}
}

func (p *fakeProvider) put(t *testing.T, version cryptoDomain.Version, current bool, age time.Duration) *cryptoDomain.KeyMetadata {
	t.Helper()
	metadata := &cryptoDomain.KeyMetadata{
		Key:       randomKey(t),
		Version:   version,
		CreatedAt: time.Now().UTC().Add(-age),
		ExpiresAt: time.Now().UTC().Add(-age).Add(testPeriod),
		IsCurrent: current,
	}
	p.mu.Lock()
	p.stored[version] = metadata
	p.mu.Unlock()
	return metadata
}

func (p *fakeProvider) Fetch(_ context.Context, version cryptoDomain.Version) (*cryptoDomain.KeyMetadata, error) {
	if p.fetchDelay > 0 {
		time.Sleep(p.fetchDelay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.fetchCalls[version]++
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	metadata, ok := p.stored[version]
	if !ok {
		return nil, errors.Wrap(cryptoDomain.ErrKeyNotFound, version.String())
	}

	return metadata, nil
}

func (p *fakeProvider) FetchAll(_ context.Context) ([]*cryptoDomain.KeyMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fetchAllErr != nil {
		return nil, p.fetchAllErr
	}
	if p.fetchAllResult != nil {
		return p.fetchAllResult, nil
	}

	out := make([]*cryptoDomain.KeyMetadata, 0, len(p.stored))
	for _, metadata := range p.stored {
		out = append(out, metadata)
	}

	return out, nil
}

func (p *fakeProvider) Store(_ context.Context, metadata *cryptoDomain.KeyMetadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.stored[metadata.Version]; ok {
		return errors.Wrap(cryptoDomain.ErrKeyConflict, metadata.Version.String())
	}
	p.stored[metadata.Version] = metadata

	return nil
}

func (p *fakeProvider) Demote(_ context.Context, metadata *cryptoDomain.KeyMetadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.demoted = append(p.demoted, metadata.Version)
	if stored, ok := p.stored[metadata.Version]; ok {
		p.stored[metadata.Version] = stored.Demoted(time.Now())
	}

	return nil
}

func (p *fakeProvider) ReplicationStatus(_ context.Context, _ cryptoDomain.Version) ([]cryptoDomain.RegionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.statuses, nil
}

func newTestRegistry(provider KeyProvider) *Registry {
	return NewRegistry(provider, 1, testPeriod, testLogger())
}

func TestRegistry_WarmUp(t *testing.T) {
	ctx := context.Background()

	t.Run("loads all versions and picks the current one", func(t *testing.T) {
		provider := newFakeProvider()
		provider.put(t, 1, false, 200*24*time.Hour)
		stored2 := provider.put(t, 2, true, time.Hour)

		registry := newTestRegistry(provider)
		require.NoError(t, registry.WarmUp(ctx, nil))

		version, err := registry.CurrentVersion()
		require.NoError(t, err)
		assert.Equal(t, cryptoDomain.Version(2), version)

		current, err := registry.CurrentKey()
		require.NoError(t, err)
		assert.True(t, current.SameKey(stored2.Key))

		_, err = registry.KeyFor(ctx, 1)
		require.NoError(t, err)
		assert.Zero(t, provider.fetchCalls[1], "warm-up must not fall back to per-version fetches")
	})

	t.Run("multiple current flags resolve to the highest version", func(t *testing.T) {
		provider := newFakeProvider()
		provider.put(t, 1, true, 200*24*time.Hour)
		provider.put(t, 2, true, time.Hour)
		provider.put(t, 3, false, time.Minute)

		registry := newTestRegistry(provider)
		require.NoError(t, registry.WarmUp(ctx, nil))

		version, err := registry.CurrentVersion()
		require.NoError(t, err)
		assert.Equal(t, cryptoDomain.Version(2), version)
	})

	t.Run("no current flag leaves encryption blocked", func(t *testing.T) {
		provider := newFakeProvider()
		provider.put(t, 1, false, time.Hour)

		registry := newTestRegistry(provider)
		require.NoError(t, registry.WarmUp(ctx, nil))

		_, err := registry.CurrentKey()
		assert.ErrorIs(t, err, cryptoDomain.ErrNoCurrentKey)
	})

	t.Run("empty store warms without a current key", func(t *testing.T) {
		registry := newTestRegistry(newFakeProvider())
		require.NoError(t, registry.WarmUp(ctx, nil))

		_, err := registry.CurrentVersion()
		assert.ErrorIs(t, err, cryptoDomain.ErrNoCurrentKey)
	})

	t.Run("unreachable store with fallback key enters degraded mode", func(t *testing.T) {
		provider := newFakeProvider()
		provider.fetchAllErr = errors.New("all regions down")
		fallback := randomKey(t)

		registry := newTestRegistry(provider)
		require.NoError(t, registry.WarmUp(ctx, fallback))

		current, err := registry.CurrentKey()
		require.NoError(t, err)
		assert.Equal(t, cryptoDomain.Version(1), current.Version)
		assert.True(t, current.SameKey(fallback))
	})

	t.Run("unreachable store without fallback fails", func(t *testing.T) {
		provider := newFakeProvider()
		provider.fetchAllErr = errors.New("all regions down")

		registry := newTestRegistry(provider)
		err := registry.WarmUp(ctx, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "registry warm-up")
	})

	t.Run("conflicting key material is fatal", func(t *testing.T) {
		provider := newFakeProvider()
		provider.fetchAllResult = []*cryptoDomain.KeyMetadata{
			{Key: randomKey(t), Version: 1, CreatedAt: time.Now(), IsCurrent: true},
			{Key: randomKey(t), Version: 1, CreatedAt: time.Now()},
		}

		registry := newTestRegistry(provider)
		assert.ErrorIs(t, registry.WarmUp(ctx, nil), cryptoDomain.ErrKeyConflict)
	})
}

func TestRegistry_Register(t *testing.T) {
	registry := newTestRegistry(newFakeProvider())
	metadata := &cryptoDomain.KeyMetadata{Key: randomKey(t), Version: 4, CreatedAt: time.Now()}

	require.NoError(t, registry.Register(metadata))

	t.Run("same key is idempotent", func(t *testing.T) {
		assert.NoError(t, registry.Register(metadata.Clone()))
	})

	t.Run("different key under a used version conflicts", func(t *testing.T) {
		conflicting := &cryptoDomain.KeyMetadata{Key: randomKey(t), Version: 4, CreatedAt: time.Now()}
		assert.ErrorIs(t, registry.Register(conflicting), cryptoDomain.ErrKeyConflict)
	})

	t.Run("invalid metadata rejected", func(t *testing.T) {
		invalid := &cryptoDomain.KeyMetadata{Key: []byte("short"), Version: 5, CreatedAt: time.Now()}
		assert.ErrorIs(t, registry.Register(invalid), cryptoDomain.ErrInvalidKeySize)
	})
}

func TestRegistry_KeyFor(t *testing.T) {
	ctx := context.Background()

	t.Run("miss fetches once and caches", func(t *testing.T) {
		provider := newFakeProvider()
		stored := provider.put(t, 3, false, time.Hour)
		registry := newTestRegistry(provider)

		metadata, err := registry.KeyFor(ctx, 3)
		require.NoError(t, err)
		assert.True(t, metadata.SameKey(stored.Key))
		assert.Equal(t, 1, provider.fetchCalls[3])

		_, err = registry.KeyFor(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, 1, provider.fetchCalls[3], "second lookup must hit the cache")
	})

	t.Run("unknown version", func(t *testing.T) {
		registry := newTestRegistry(newFakeProvider())
		_, err := registry.KeyFor(ctx, 42)
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyNotFound)
	})

	t.Run("zero version", func(t *testing.T) {
		registry := newTestRegistry(newFakeProvider())
		_, err := registry.KeyFor(ctx, 0)
		assert.ErrorIs(t, err, cryptoDomain.ErrInvalidVersion)
	})
}

func TestRegistry_KeyFor_DeduplicatesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	provider.put(t, 5, false, time.Hour)
	provider.fetchDelay = 50 * time.Millisecond
	registry := newTestRegistry(provider)

	const callers = 20
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = registry.KeyFor(ctx, 5)
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, 1, provider.fetchCalls[5], "concurrent misses must collapse into one fetch")
}

func TestRegistry_LegacyKey(t *testing.T) {
	provider := newFakeProvider()
	stored := provider.put(t, 1, false, time.Hour)
	registry := newTestRegistry(provider)

	metadata, err := registry.LegacyKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cryptoDomain.Version(1), metadata.Version)
	assert.True(t, metadata.SameKey(stored.Key))
}

func TestRegistry_NeedsRotation(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh key is not due", func(t *testing.T) {
		provider := newFakeProvider()
		provider.put(t, 1, true, time.Hour)
		registry := newTestRegistry(provider)
		require.NoError(t, registry.WarmUp(ctx, nil))

		due, err := registry.NeedsRotation(0)
		require.NoError(t, err)
		assert.False(t, due)
	})

	t.Run("key past the default period is due", func(t *testing.T) {
		provider := newFakeProvider()
		provider.put(t, 1, true, 91*24*time.Hour)
		registry := newTestRegistry(provider)
		require.NoError(t, registry.WarmUp(ctx, nil))

		due, err := registry.NeedsRotation(0)
		require.NoError(t, err)
		assert.True(t, due)
	})

	t.Run("override period", func(t *testing.T) {
		provider := newFakeProvider()
		provider.put(t, 1, true, 2*time.Hour)
		registry := newTestRegistry(provider)
		require.NoError(t, registry.WarmUp(ctx, nil))

		due, err := registry.NeedsRotation(time.Hour)
		require.NoError(t, err)
		assert.True(t, due)

		due, err = registry.NeedsRotation(3 * time.Hour)
		require.NoError(t, err)
		assert.False(t, due)
	})

	t.Run("no current key", func(t *testing.T) {
		registry := newTestRegistry(newFakeProvider())
		_, err := registry.NeedsRotation(0)
		assert.ErrorIs(t, err, cryptoDomain.ErrNoCurrentKey)
	})
}

func TestRegistry_Promote(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Registry, *cryptoDomain.KeyMetadata) {
		provider := newFakeProvider()
		v1 := provider.put(t, 1, true, 100*24*time.Hour)
		registry := newTestRegistry(provider)
		require.NoError(t, registry.WarmUp(ctx, nil))
		return registry, v1
	}

	t.Run("promotion switches current and keeps old keys intact", func(t *testing.T) {
		registry, v1 := setup(t)

		next, err := cryptoDomain.NewKeyMetadata(randomKey(t), 2, time.Now(), testPeriod)
		require.NoError(t, err)

		previous, err := registry.Promote(next)
		require.NoError(t, err)
		require.NotNil(t, previous)
		assert.Equal(t, cryptoDomain.Version(1), previous.Version)
		assert.False(t, previous.IsCurrent, "displaced key must come back demoted")
		assert.NotNil(t, previous.RotatedAt)

		version, err := registry.CurrentVersion()
		require.NoError(t, err)
		assert.Equal(t, cryptoDomain.Version(2), version)

		old, err := registry.KeyFor(ctx, 1)
		require.NoError(t, err)
		assert.True(t, old.SameKey(v1.Key), "old key material must survive promotion unchanged")

		snapshot := registry.Snapshot()
		require.Len(t, snapshot, 2)
		assert.False(t, snapshot[0].IsCurrent)
		assert.NotNil(t, snapshot[0].RotatedAt)
		assert.True(t, snapshot[1].IsCurrent)
		assert.Nil(t, snapshot[1].RotatedAt)
	})

	t.Run("first promotion into an empty registry", func(t *testing.T) {
		registry := newTestRegistry(newFakeProvider())

		first, err := cryptoDomain.NewKeyMetadata(randomKey(t), 1, time.Now(), testPeriod)
		require.NoError(t, err)

		previous, err := registry.Promote(first)
		require.NoError(t, err)
		assert.Nil(t, previous)

		version, err := registry.CurrentVersion()
		require.NoError(t, err)
		assert.Equal(t, cryptoDomain.Version(1), version)
	})

	t.Run("re-promoting the current version is a no-op", func(t *testing.T) {
		registry, _ := setup(t)
		current, err := registry.CurrentKey()
		require.NoError(t, err)

		previous, err := registry.Promote(current.Clone())
		require.NoError(t, err)
		assert.Nil(t, previous)
	})

	t.Run("promoting an adopted non-current version", func(t *testing.T) {
		registry, _ := setup(t)

		orphan := &cryptoDomain.KeyMetadata{Key: randomKey(t), Version: 2, CreatedAt: time.Now()}
		require.NoError(t, registry.Register(orphan))

		previous, err := registry.Promote(orphan)
		require.NoError(t, err)
		require.NotNil(t, previous)
		assert.Equal(t, cryptoDomain.Version(1), previous.Version)

		current, err := registry.CurrentKey()
		require.NoError(t, err)
		assert.Equal(t, cryptoDomain.Version(2), current.Version)
		assert.True(t, current.IsCurrent)
	})

	t.Run("conflicting material cannot be promoted", func(t *testing.T) {
		registry, _ := setup(t)
		conflicting := &cryptoDomain.KeyMetadata{Key: randomKey(t), Version: 1, CreatedAt: time.Now()}
		_, err := registry.Promote(conflicting)
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyConflict)
	})
}

func TestRegistry_Snapshot(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	provider.put(t, 2, true, time.Hour)
	provider.put(t, 1, false, 100*24*time.Hour)
	registry := newTestRegistry(provider)
	require.NoError(t, registry.WarmUp(ctx, nil))

	snapshot := registry.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, cryptoDomain.Version(1), snapshot[0].Version)
	assert.Equal(t, cryptoDomain.Version(2), snapshot[1].Version)

	snapshot[0].Key[0] ^= 0xFF
	fresh, err := registry.KeyFor(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, snapshot[0].Key[0], fresh.Key[0], "snapshot must be a deep copy")
}

func TestRegistry_Close(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	provider.put(t, 1, true, time.Hour)
	registry := newTestRegistry(provider)
	require.NoError(t, registry.WarmUp(ctx, nil))

	held, err := registry.CurrentKey()
	require.NoError(t, err)

	registry.Close()

	_, err = registry.CurrentKey()
	assert.ErrorIs(t, err, cryptoDomain.ErrNoCurrentKey)
	assert.Equal(t, make([]byte, cryptoDomain.KeySize), held.Key, "key material must be zeroed on close")
}

func TestRegistry_ConcurrentReadersDuringPromotion(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	provider.put(t, 1, true, time.Hour)
	registry := newTestRegistry(provider)
	require.NoError(t, registry.WarmUp(ctx, nil))

	done := make(chan struct{})
	var readerErr error
	var once sync.Once

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				current, err := registry.CurrentKey()
				if err != nil || current == nil || !current.IsCurrent {
					once.Do(func() { readerErr = errors.New("reader observed inconsistent current key") })
					return
				}
				if _, err := registry.KeyFor(ctx, 1); err != nil {
					once.Do(func() { readerErr = err })
					return
				}
			}
		}()
	}

	for version := cryptoDomain.Version(2); version <= 20; version++ {
		next, err := cryptoDomain.NewKeyMetadata(randomKey(t), version, time.Now(), testPeriod)
		require.NoError(t, err)
		_, err = registry.Promote(next)
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()

	require.NoError(t, readerErr)
	version, err := registry.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, cryptoDomain.Version(20), version)
}
