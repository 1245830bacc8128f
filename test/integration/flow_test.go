// Package integration provides end-to-end tests of the field encryption
// subsystem against real databases: bootstrap, field writes, key rotation,
// batch re-encryption, and continued readability across versions.
package integration

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	cryptoService "github.com/carevault/fieldcrypt/internal/crypto/service"
	cryptoUseCase "github.com/carevault/fieldcrypt/internal/crypto/usecase"
	"github.com/carevault/fieldcrypt/internal/database"
	apperrors "github.com/carevault/fieldcrypt/internal/errors"
	fieldsRepository "github.com/carevault/fieldcrypt/internal/fields/repository"
	fieldsUseCase "github.com/carevault/fieldcrypt/internal/fields/usecase"
	"github.com/carevault/fieldcrypt/internal/metrics"
	reencryptUseCase "github.com/carevault/fieldcrypt/internal/reencrypt/usecase"
	"github.com/carevault/fieldcrypt/internal/testutil"
)

const rotationPeriod = 90 * 24 * time.Hour

// memoryKeyProvider stands in for the regional secret store so the flow can
// run against nothing but a database.
type memoryKeyProvider struct {
	mu     sync.Mutex
	stored map[cryptoDomain.Version]*cryptoDomain.KeyMetadata
}

func newMemoryKeyProvider() *memoryKeyProvider {
	return &memoryKeyProvider{stored: make(map[cryptoDomain.Version]*cryptoDomain.KeyMetadata)}
}

func (p *memoryKeyProvider) Fetch(_ context.Context, version cryptoDomain.Version) (*cryptoDomain.KeyMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	metadata, ok := p.stored[version]
	if !ok {
		return nil, apperrors.Wrap(cryptoDomain.ErrKeyNotFound, version.String())
	}

	return metadata.Clone(), nil
}

func (p *memoryKeyProvider) FetchAll(_ context.Context) ([]*cryptoDomain.KeyMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	all := make([]*cryptoDomain.KeyMetadata, 0, len(p.stored))
	for _, metadata := range p.stored {
		all = append(all, metadata.Clone())
	}

	return all, nil
}

func (p *memoryKeyProvider) Store(_ context.Context, metadata *cryptoDomain.KeyMetadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.stored[metadata.Version]; exists {
		return apperrors.Wrap(cryptoDomain.ErrKeyConflict, metadata.Version.String())
	}
	p.stored[metadata.Version] = metadata.Clone()

	return nil
}

func (p *memoryKeyProvider) Demote(_ context.Context, metadata *cryptoDomain.KeyMetadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stored[metadata.Version] = metadata.Clone()

	return nil
}

func (p *memoryKeyProvider) ReplicationStatus(_ context.Context, _ cryptoDomain.Version) ([]cryptoDomain.RegionStatus, error) {
	return []cryptoDomain.RegionStatus{
		{Region: "us-east-1", Status: cryptoDomain.ReplicationInSync},
		{Region: "us-west-2", Status: cryptoDomain.ReplicationInSync},
	}, nil
}

// fieldStore is the slice of the repository surface the flow needs; both SQL
// implementations satisfy it.
type fieldStore interface {
	fieldsUseCase.FieldRepository
	reencryptUseCase.FieldRepository
}

type flowFixture struct {
	registry *cryptoService.Registry
	codec    *cryptoService.EnvelopeCodec
	rotation cryptoUseCase.RotationUseCase
	fields   fieldsUseCase.FieldUseCase
	migrator reencryptUseCase.MigratorUseCase
	repo     fieldStore
}

func newFlowFixture(t *testing.T, db *sql.DB, repo fieldStore) *flowFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	noop := metrics.NewNoOpBusinessMetrics()
	provider := newMemoryKeyProvider()

	registry := cryptoService.NewRegistry(provider, 1, rotationPeriod, logger)
	require.NoError(t, registry.WarmUp(context.Background(), nil))
	t.Cleanup(registry.Close)

	codec := cryptoService.NewEnvelopeCodec(registry)

	return &flowFixture{
		registry: registry,
		codec:    codec,
		rotation: cryptoUseCase.NewRotationUseCase(registry, provider, noop, logger, rotationPeriod),
		fields:   fieldsUseCase.NewFieldUseCase(repo, registry, codec),
		migrator: reencryptUseCase.NewMigratorUseCase(
			repo, registry, codec, database.NewTxManager(db), noop, logger, 2, 0,
		),
		repo: repo,
	}
}

// payloadVersion reads the stored payload for an entity field and returns the
// version recorded in its frame.
func (f *flowFixture) payloadVersion(t *testing.T, entityID, fieldName string) cryptoDomain.Version {
	t.Helper()

	stored, err := f.repo.GetByName(context.Background(), "patient", entityID, fieldName)
	require.NoError(t, err)

	parsed, err := cryptoDomain.ParsePayload(stored.Payload)
	require.NoError(t, err)
	require.Equal(t, cryptoDomain.FormVersioned, parsed.Form)

	return parsed.Version
}

func runFieldEncryptionFlow(t *testing.T, db *sql.DB, repo fieldStore) {
	ctx := context.Background()
	fixture := newFlowFixture(t, db, repo)

	// Bootstrap the first key version
	result, err := fixture.rotation.Rotate(ctx, cryptoUseCase.RotationOptions{})
	require.NoError(t, err)
	require.True(t, result.Rotated)
	assert.Equal(t, cryptoUseCase.RotationReasonBootstrap, result.Reason)
	assert.EqualValues(t, 1, result.NewVersion)

	// Store fields sealed under v1
	secrets := map[string]string{
		"patient-1": "078-05-1120",
		"patient-2": "219-09-9999",
		"patient-3": "457-55-5462",
	}
	for entityID, ssn := range secrets {
		_, err := fixture.fields.Put(ctx, "patient", entityID, "ssn", []byte(ssn))
		require.NoError(t, err)
		assert.EqualValues(t, 1, fixture.payloadVersion(t, entityID, "ssn"))
	}

	// Rotate to v2
	result, err = fixture.rotation.Rotate(ctx, cryptoUseCase.RotationOptions{Force: true})
	require.NoError(t, err)
	require.True(t, result.Rotated)
	assert.EqualValues(t, 1, result.PreviousVersion)
	assert.EqualValues(t, 2, result.NewVersion)

	// New writes land on v2, old payloads stay readable
	_, err = fixture.fields.Put(ctx, "patient", "patient-4", "ssn", []byte("529-99-1234"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, fixture.payloadVersion(t, "patient-4", "ssn"))

	for entityID, ssn := range secrets {
		field, err := fixture.fields.Get(ctx, "patient", entityID, "ssn")
		require.NoError(t, err)
		assert.Equal(t, ssn, string(field.Plaintext),
			"payloads sealed under the previous version must stay readable")
		cryptoDomain.Zero(field.Plaintext)
	}

	// Dry run reports the stale records without writing
	report, err := fixture.migrator.Migrate(ctx, reencryptUseCase.MigrationOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Scanned)
	assert.Equal(t, 3, report.Reencrypted)
	assert.Equal(t, 1, report.Skipped)
	for entityID := range secrets {
		assert.EqualValues(t, 1, fixture.payloadVersion(t, entityID, "ssn"),
			"a dry run must not rewrite payloads")
	}

	// Re-encrypt everything onto v2
	report, err = fixture.migrator.Migrate(ctx, reencryptUseCase.MigrationOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Scanned)
	assert.Equal(t, 3, report.Reencrypted)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, report.Batches)

	for entityID, ssn := range secrets {
		assert.EqualValues(t, 2, fixture.payloadVersion(t, entityID, "ssn"))

		field, err := fixture.fields.Get(ctx, "patient", entityID, "ssn")
		require.NoError(t, err)
		assert.Equal(t, ssn, string(field.Plaintext),
			"re-encryption must preserve the plaintext")
		cryptoDomain.Zero(field.Plaintext)
	}

	// A second run finds nothing to do
	report, err = fixture.migrator.Migrate(ctx, reencryptUseCase.MigrationOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Scanned)
	assert.Zero(t, report.Reencrypted)
	assert.Equal(t, 4, report.Skipped)

	// Status reflects both versions with v2 current
	status, err := fixture.rotation.Status(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, status.CurrentVersion)
	assert.False(t, status.RotationDue)
	require.Len(t, status.Keys, 2)
	assert.False(t, status.Keys[0].IsCurrent)
	assert.True(t, status.Keys[1].IsCurrent)
	require.Len(t, status.Replication, 2)
	for _, region := range status.Replication {
		assert.True(t, region.InSync())
	}
}

func TestFieldEncryptionFlowPostgres(t *testing.T) {
	testutil.SkipIfNoPostgres(t)

	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	runFieldEncryptionFlow(t, db, fieldsRepository.NewPostgreSQLFieldRepository(db))
}

func TestFieldEncryptionFlowMySQL(t *testing.T) {
	testutil.SkipIfNoMySQL(t)

	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupMySQLDB(t, db)

	runFieldEncryptionFlow(t, db, fieldsRepository.NewMySQLFieldRepository(db))
}
