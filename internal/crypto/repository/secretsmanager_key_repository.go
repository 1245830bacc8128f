// Package repository implements key persistence for the encryption subsystem.
//
// The production backend is AWS Secrets Manager: every key version is one
// secret holding a JSON document with the (optionally KMS-wrapped) key
// material and its lifecycle metadata. The repository owns the regional
// failover order configured at construction; callers never pass regions per
// call.
//
// # Secret layout
//
// A key version lives at <namespace>/encryption-key-v<N>. The secret string
// is a JSON document:
//
//	{
//	  "key":        "<base64 key material>",
//	  "version":    "v3",
//	  "created_at": "2026-01-12T09:30:00Z",
//	  "expires_at": "2026-04-12T09:30:00Z",
//	  "is_current": true
//	}
//
// When a KMS keeper is configured, the key field holds the wrapped material
// instead of the raw bytes. All documents in a namespace must share one
// wrapping configuration.
//
// # Failover
//
// Reads walk the configured regions in order until one answers. A not-found
// answer from a reachable region is authoritative and stops the walk, because
// replicas hold the same data. Transport errors advance to the next region;
// when every region fails, reads return a KeyRecoveryError carrying the
// per-region causes. Writes always target the primary region and replicate
// from there.
package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	apperrors "github.com/carevault/fieldcrypt/internal/errors"
	"github.com/carevault/fieldcrypt/internal/metrics"
)

// SecretsManagerAPI is the subset of the AWS Secrets Manager client the
// repository uses. Tests substitute in-memory fakes; production code uses the
// real SDK client built by the default factory.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// ClientFactory builds the Secrets Manager client for one region.
type ClientFactory func(ctx context.Context, region string) (SecretsManagerAPI, error)

// Option customizes repository construction.
type Option func(*repositoryOptions)

type repositoryOptions struct {
	endpoint      string
	accessKey     string
	secretKey     string
	regionTimeout time.Duration
	fetchBudget   time.Duration
	clientFactory ClientFactory
}

// WithEndpoint overrides the Secrets Manager endpoint for every region.
// Intended for local stacks.
func WithEndpoint(endpoint string) Option {
	return func(o *repositoryOptions) { o.endpoint = endpoint }
}

// WithStaticCredentials bypasses the default AWS credential chain. Intended
// for local stacks; production deployments rely on ambient credentials.
func WithStaticCredentials(accessKey, secretKey string) Option {
	return func(o *repositoryOptions) {
		o.accessKey = accessKey
		o.secretKey = secretKey
	}
}

// WithRegionTimeout bounds each per-region secret store call.
func WithRegionTimeout(timeout time.Duration) Option {
	return func(o *repositoryOptions) {
		if timeout > 0 {
			o.regionTimeout = timeout
		}
	}
}

// WithFetchBudget bounds a whole read across the failover chain.
func WithFetchBudget(budget time.Duration) Option {
	return func(o *repositoryOptions) {
		if budget > 0 {
			o.fetchBudget = budget
		}
	}
}

// WithClientFactory replaces the default AWS client construction. Tests use
// this to inject fakes.
func WithClientFactory(factory ClientFactory) Option {
	return func(o *repositoryOptions) { o.clientFactory = factory }
}

const (
	defaultRegionTimeout = 2 * time.Second
	defaultFetchBudget   = 8 * time.Second

	secretNameInfix = "/encryption-key-"
)

// regionClient pairs a region name with its client, in failover order.
type regionClient struct {
	region string
	client SecretsManagerAPI
}

// secretDocument is the JSON schema of a stored key version.
type secretDocument struct {
	Key       string     `json:"key"`
	Version   string     `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	IsCurrent bool       `json:"is_current"`
	RotatedAt *time.Time `json:"rotated_at,omitempty"`
}

// SecretsManagerKeyRepository persists key versions in AWS Secrets Manager
// with regional failover for reads.
//
// The repository holds one client per configured region. Reads try regions in
// order and report exhaustion as a KeyRecoveryError; writes go to the primary
// region only, with secret-level replication configured at creation time so
// AWS propagates new versions to the remaining regions.
//
// When constructed with a KMS keeper, key material is wrapped before it
// reaches the store and unwrapped after retrieval, so the secret store never
// sees raw key bytes.
type SecretsManagerKeyRepository struct {
	clients       []regionClient
	namespace     string
	keeper        cryptoDomain.KMSKeeper
	metrics       metrics.BusinessMetrics
	logger        *slog.Logger
	regionTimeout time.Duration
	fetchBudget   time.Duration
}

// NewSecretsManagerKeyRepository creates a repository over the given regions,
// primary first. The namespace prefixes every secret name, isolating this
// deployment's keys from other tenants of the same account.
//
// Parameters:
//   - ctx: Context used to build the per-region AWS clients
//   - regions: Ordered region identifiers; the first is the primary
//   - namespace: Secret name prefix, e.g. "fieldcrypt"
//   - keeper: Optional KMS keeper wrapping key material at rest (nil stores raw)
//   - businessMetrics: Sink for failover metrics
//   - logger: Structured logger
//   - opts: Endpoint, credential, timeout, and client-factory overrides
//
// Example:
//
//	repo, err := repository.NewSecretsManagerKeyRepository(
//	    ctx,
//	    cfg.SecretRegionList(),
//	    cfg.KeyNamespace,
//	    keeper,
//	    businessMetrics,
//	    logger,
//	    repository.WithRegionTimeout(cfg.SecretRegionTimeout),
//	    repository.WithFetchBudget(cfg.SecretFetchBudget),
//	)
func NewSecretsManagerKeyRepository(
	ctx context.Context,
	regions []string,
	namespace string,
	keeper cryptoDomain.KMSKeeper,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
	opts ...Option,
) (*SecretsManagerKeyRepository, error) {
	if len(regions) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "at least one secret store region is required")
	}
	if namespace == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "key namespace is required")
	}

	options := repositoryOptions{
		regionTimeout: defaultRegionTimeout,
		fetchBudget:   defaultFetchBudget,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.clientFactory == nil {
		options.clientFactory = awsClientFactory(options)
	}

	clients := make([]regionClient, 0, len(regions))
	for _, region := range regions {
		client, err := options.clientFactory(ctx, region)
		if err != nil {
			return nil, err
		}
		clients = append(clients, regionClient{region: region, client: client})
	}

	return &SecretsManagerKeyRepository{
		clients:       clients,
		namespace:     namespace,
		keeper:        keeper,
		metrics:       businessMetrics,
		logger:        logger,
		regionTimeout: options.regionTimeout,
		fetchBudget:   options.fetchBudget,
	}, nil
}

// awsClientFactory builds real SDK clients from the ambient AWS configuration,
// honoring the endpoint and static credential overrides.
func awsClientFactory(options repositoryOptions) ClientFactory {
	return func(ctx context.Context, region string) (SecretsManagerAPI, error) {
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
		if options.accessKey != "" && options.secretKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(options.accessKey, options.secretKey, ""),
			))
		}

		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, apperrors.Wrapf(err, "load aws config for region %s", region)
		}

		client := secretsmanager.NewFromConfig(cfg, func(smOpts *secretsmanager.Options) {
			if options.endpoint != "" {
				smOpts.BaseEndpoint = aws.String(options.endpoint)
			}
		})

		return client, nil
	}
}

// Fetch retrieves one key version, walking regions in failover order.
//
// A not-found answer from a reachable region returns ErrKeyNotFound without
// trying further regions. Transport errors advance the walk; if every region
// fails, Fetch returns a KeyRecoveryError listing the attempts in order. The
// whole walk is bounded by the fetch budget, each attempt by the region
// timeout.
func (r *SecretsManagerKeyRepository) Fetch(ctx context.Context, version cryptoDomain.Version) (*cryptoDomain.KeyMetadata, error) {
	name := r.secretName(version)

	ctx, cancel := context.WithTimeout(ctx, r.fetchBudget)
	defer cancel()

	var attempts []cryptoDomain.RegionAttempt
	for i, rc := range r.clients {
		out, err := r.getSecretValue(ctx, rc.client, name)
		if err == nil {
			metadata, decodeErr := r.decodeDocument(ctx, name, version, secretPayload(out))
			if decodeErr != nil {
				return nil, decodeErr
			}

			if i > 0 {
				r.metrics.RecordFailover(ctx, rc.region, "recovered")
				r.logger.Warn("key version recovered after regional failover",
					slog.String("secret", name),
					slog.String("region", rc.region),
					slog.Int("failed_regions", i),
				)
			}

			return metadata, nil
		}

		if isSecretNotFound(err) {
			// The region answered; the version does not exist anywhere.
			return nil, apperrors.Wrap(cryptoDomain.ErrKeyNotFound, name)
		}

		attempts = append(attempts, cryptoDomain.RegionAttempt{Region: rc.region, Err: err})
		r.logger.Warn("secret store region failed",
			slog.String("secret", name),
			slog.String("region", rc.region),
			slog.Any("error", err),
		)

		if ctx.Err() != nil {
			break
		}
	}

	r.metrics.RecordFailover(ctx, r.primaryRegion(), "exhausted")

	return nil, &cryptoDomain.KeyRecoveryError{Version: version, Attempts: attempts}
}

// FetchAll lists and loads every stored key version for registry warm-up.
// Listing and loading happen against a single region; regions that fail are
// skipped in failover order. Documents that cannot be decoded are logged and
// left out rather than aborting the warm-up, since a malformed document is
// identical in every region.
func (r *SecretsManagerKeyRepository) FetchAll(ctx context.Context) ([]*cryptoDomain.KeyMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, r.fetchBudget)
	defer cancel()

	var attempts []cryptoDomain.RegionAttempt
	for i, rc := range r.clients {
		keys, err := r.fetchAllFrom(ctx, rc)
		if err == nil {
			if i > 0 {
				r.metrics.RecordFailover(ctx, rc.region, "recovered")
				r.logger.Warn("key listing recovered after regional failover",
					slog.String("region", rc.region),
					slog.Int("failed_regions", i),
				)
			}

			return keys, nil
		}

		attempts = append(attempts, cryptoDomain.RegionAttempt{Region: rc.region, Err: err})
		r.logger.Warn("secret store region failed",
			slog.String("region", rc.region),
			slog.Any("error", err),
		)

		if ctx.Err() != nil {
			break
		}
	}

	r.metrics.RecordFailover(ctx, r.primaryRegion(), "exhausted")

	return nil, apperrors.Wrapf(cryptoDomain.ErrKeyRecovery, "list key versions: %d region(s) failed", len(attempts))
}

func (r *SecretsManagerKeyRepository) fetchAllFrom(ctx context.Context, rc regionClient) ([]*cryptoDomain.KeyMetadata, error) {
	names, err := r.listSecretNames(ctx, rc.client)
	if err != nil {
		return nil, err
	}

	keys := make([]*cryptoDomain.KeyMetadata, 0, len(names))
	for _, name := range names {
		version, ok := r.versionFromName(name)
		if !ok {
			r.logger.Debug("skipping secret outside the key naming scheme", slog.String("secret", name))
			continue
		}

		out, err := r.getSecretValue(ctx, rc.client, name)
		if err != nil {
			return nil, apperrors.Wrapf(err, "fetch %s", name)
		}

		metadata, err := r.decodeDocument(ctx, name, version, secretPayload(out))
		if err != nil {
			if apperrors.Is(err, cryptoDomain.ErrInvalidKeyMetadata) {
				r.logger.Error("skipping undecodable key document",
					slog.String("secret", name),
					slog.Any("error", err),
				)
				continue
			}

			return nil, err
		}

		keys = append(keys, metadata)
	}

	return keys, nil
}

func (r *SecretsManagerKeyRepository) listSecretNames(ctx context.Context, client SecretsManagerAPI) ([]string, error) {
	filter := types.Filter{
		Key:    types.FilterNameStringTypeName,
		Values: []string{r.secretPrefix()},
	}

	var names []string
	var nextToken *string
	for {
		listCtx, cancel := context.WithTimeout(ctx, r.regionTimeout)
		out, err := client.ListSecrets(listCtx, &secretsmanager.ListSecretsInput{
			Filters:   []types.Filter{filter},
			NextToken: nextToken,
		})
		cancel()
		if err != nil {
			return nil, apperrors.Wrap(err, "list secrets")
		}

		for _, entry := range out.SecretList {
			names = append(names, aws.ToString(entry.Name))
		}

		if out.NextToken == nil {
			return names, nil
		}
		nextToken = out.NextToken
	}
}

// Store writes a new key version to the primary region, configuring
// secret-level replication into the remaining regions. Storing a version that
// already exists returns ErrKeyConflict; existing key material is never
// overwritten.
func (r *SecretsManagerKeyRepository) Store(ctx context.Context, metadata *cryptoDomain.KeyMetadata) error {
	if err := metadata.Validate(); err != nil {
		return err
	}

	name := r.secretName(metadata.Version)
	payload, err := r.encodeDocument(ctx, metadata)
	if err != nil {
		return err
	}

	input := &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		Description:  aws.String("envelope encryption key " + metadata.Version.String()),
		SecretString: aws.String(string(payload)),
	}
	for _, rc := range r.clients[1:] {
		input.AddReplicaRegions = append(input.AddReplicaRegions, types.ReplicaRegionType{
			Region: aws.String(rc.region),
		})
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.regionTimeout)
	defer cancel()

	if _, err := r.primary().CreateSecret(storeCtx, input); err != nil {
		var exists *types.ResourceExistsException
		if apperrors.As(err, &exists) {
			return apperrors.Wrap(cryptoDomain.ErrKeyConflict, name)
		}

		return apperrors.Wrapf(err, "store %s", name)
	}

	r.logger.Info("key version stored",
		slog.String("secret", name),
		slog.Int("replica_regions", len(input.AddReplicaRegions)),
	)

	return nil
}

// Demote rewrites a stored version's document with its current flag cleared,
// so later warm-ups see a single current key. The metadata must already be in
// its demoted form.
func (r *SecretsManagerKeyRepository) Demote(ctx context.Context, metadata *cryptoDomain.KeyMetadata) error {
	if err := metadata.Validate(); err != nil {
		return err
	}
	if metadata.IsCurrent {
		return apperrors.Wrap(cryptoDomain.ErrInvalidKeyMetadata, "demote requires a non-current key")
	}

	name := r.secretName(metadata.Version)
	payload, err := r.encodeDocument(ctx, metadata)
	if err != nil {
		return err
	}

	putCtx, cancel := context.WithTimeout(ctx, r.regionTimeout)
	defer cancel()

	_, err = r.primary().PutSecretValue(putCtx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(string(payload)),
	})
	if err != nil {
		if isSecretNotFound(err) {
			return apperrors.Wrap(cryptoDomain.ErrKeyNotFound, name)
		}

		return apperrors.Wrapf(err, "demote %s", name)
	}

	r.logger.Info("key version demoted in secret store", slog.String("secret", name))

	return nil
}

// ReplicationStatus reports the per-region replication state of one key
// version, as seen from the primary region. An empty result means the secret
// has no replicas configured.
func (r *SecretsManagerKeyRepository) ReplicationStatus(ctx context.Context, version cryptoDomain.Version) ([]cryptoDomain.RegionStatus, error) {
	name := r.secretName(version)

	describeCtx, cancel := context.WithTimeout(ctx, r.regionTimeout)
	defer cancel()

	out, err := r.primary().DescribeSecret(describeCtx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		if isSecretNotFound(err) {
			return nil, apperrors.Wrap(cryptoDomain.ErrKeyNotFound, name)
		}

		return nil, apperrors.Wrapf(err, "describe %s", name)
	}

	statuses := make([]cryptoDomain.RegionStatus, 0, len(out.ReplicationStatus))
	for _, replica := range out.ReplicationStatus {
		statuses = append(statuses, cryptoDomain.RegionStatus{
			Region:  aws.ToString(replica.Region),
			Status:  string(replica.Status),
			Message: aws.ToString(replica.StatusMessage),
		})
	}

	return statuses, nil
}

// encodeDocument serializes metadata into the stored JSON form, wrapping the
// key material through the KMS keeper when one is configured.
func (r *SecretsManagerKeyRepository) encodeDocument(ctx context.Context, metadata *cryptoDomain.KeyMetadata) ([]byte, error) {
	material := metadata.Key
	if r.keeper != nil {
		wrapped, err := r.keeper.Encrypt(ctx, metadata.Key)
		if err != nil {
			return nil, apperrors.Wrapf(err, "wrap key material for %s", metadata.Version)
		}
		material = wrapped
	}

	doc := secretDocument{
		Key:       base64.StdEncoding.EncodeToString(material),
		Version:   metadata.Version.String(),
		CreatedAt: metadata.CreatedAt,
		ExpiresAt: metadata.ExpiresAt,
		IsCurrent: metadata.IsCurrent,
		RotatedAt: metadata.RotatedAt,
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, apperrors.Wrapf(err, "encode key document for %s", metadata.Version)
	}

	return payload, nil
}

// decodeDocument parses a stored JSON document back into key metadata,
// unwrapping the key material when a keeper is configured. The document's
// version must match the version encoded in the secret name.
func (r *SecretsManagerKeyRepository) decodeDocument(ctx context.Context, name string, expected cryptoDomain.Version, payload []byte) (*cryptoDomain.KeyMetadata, error) {
	var doc secretDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, apperrors.Wrapf(cryptoDomain.ErrInvalidKeyMetadata, "secret %s: malformed document", name)
	}

	version, err := cryptoDomain.ParseVersion(doc.Version)
	if err != nil {
		return nil, apperrors.Wrapf(cryptoDomain.ErrInvalidKeyMetadata, "secret %s: %s", name, err)
	}
	if version != expected {
		return nil, apperrors.Wrapf(cryptoDomain.ErrInvalidKeyMetadata, "secret %s holds %s", name, version)
	}

	material, err := base64.StdEncoding.DecodeString(doc.Key)
	if err != nil {
		return nil, apperrors.Wrapf(cryptoDomain.ErrInvalidKeyMetadata, "secret %s: key material is not base64", name)
	}

	if r.keeper != nil {
		material, err = r.keeper.Decrypt(ctx, material)
		if err != nil {
			return nil, apperrors.Wrapf(err, "unwrap key material for %s", name)
		}
	}

	metadata := &cryptoDomain.KeyMetadata{
		Key:       material,
		Version:   version,
		CreatedAt: doc.CreatedAt,
		ExpiresAt: doc.ExpiresAt,
		IsCurrent: doc.IsCurrent,
		RotatedAt: doc.RotatedAt,
	}
	if err := metadata.Validate(); err != nil {
		return nil, apperrors.Wrapf(cryptoDomain.ErrInvalidKeyMetadata, "secret %s: %s", name, err)
	}

	return metadata, nil
}

func (r *SecretsManagerKeyRepository) getSecretValue(ctx context.Context, client SecretsManagerAPI, name string) (*secretsmanager.GetSecretValueOutput, error) {
	getCtx, cancel := context.WithTimeout(ctx, r.regionTimeout)
	defer cancel()

	return client.GetSecretValue(getCtx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
}

func (r *SecretsManagerKeyRepository) primary() SecretsManagerAPI {
	return r.clients[0].client
}

func (r *SecretsManagerKeyRepository) primaryRegion() string {
	return r.clients[0].region
}

func (r *SecretsManagerKeyRepository) secretName(version cryptoDomain.Version) string {
	return r.namespace + secretNameInfix + version.String()
}

func (r *SecretsManagerKeyRepository) secretPrefix() string {
	return r.namespace + secretNameInfix
}

func (r *SecretsManagerKeyRepository) versionFromName(name string) (cryptoDomain.Version, bool) {
	token, ok := strings.CutPrefix(name, r.secretPrefix())
	if !ok {
		return 0, false
	}

	version, err := cryptoDomain.ParseVersion(token)
	if err != nil {
		return 0, false
	}

	return version, true
}

func secretPayload(out *secretsmanager.GetSecretValueOutput) []byte {
	if out.SecretString != nil {
		return []byte(aws.ToString(out.SecretString))
	}

	return out.SecretBinary
}

func isSecretNotFound(err error) bool {
	var notFound *types.ResourceNotFoundException
	return apperrors.As(err, &notFound)
}
