package app

import (
	"context"
	"encoding/base64"
	"fmt"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	cryptoRepository "github.com/carevault/fieldcrypt/internal/crypto/repository"
	cryptoService "github.com/carevault/fieldcrypt/internal/crypto/service"
	cryptoUseCase "github.com/carevault/fieldcrypt/internal/crypto/usecase"
	appValidation "github.com/carevault/fieldcrypt/internal/validation"
)

// KMSService returns the KMS service.
func (c *Container) KMSService() cryptoService.KMSService {
	c.kmsServiceInit.Do(func() {
		c.kmsService = c.initKMSService()
	})
	return c.kmsService
}

// KMSKeeper returns the keeper that wraps key material before it reaches the
// secret store. When no KMS key URI is configured it returns nil and key
// material is stored unwrapped.
func (c *Container) KMSKeeper() (cryptoDomain.KMSKeeper, error) {
	var err error
	c.kmsKeeperInit.Do(func() {
		c.kmsKeeper, err = c.initKMSKeeper()
		if err != nil {
			c.initErrors["kmsKeeper"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["kmsKeeper"]; exists {
		return nil, storedErr
	}
	return c.kmsKeeper, nil
}

// KeyProvider returns the secrets manager backed key provider.
func (c *Container) KeyProvider() (cryptoService.KeyProvider, error) {
	var err error
	c.keyProviderInit.Do(func() {
		c.keyProvider, err = c.initKeyProvider()
		if err != nil {
			c.initErrors["keyProvider"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["keyProvider"]; exists {
		return nil, storedErr
	}
	return c.keyProvider, nil
}

// Registry returns the key registry, warmed up against the secret store.
func (c *Container) Registry() (*cryptoService.Registry, error) {
	var err error
	c.registryInit.Do(func() {
		c.registry, err = c.initRegistry()
		if err != nil {
			c.initErrors["registry"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["registry"]; exists {
		return nil, storedErr
	}
	return c.registry, nil
}

// EnvelopeCodec returns the envelope codec bound to the key registry.
func (c *Container) EnvelopeCodec() (*cryptoService.EnvelopeCodec, error) {
	var err error
	c.envelopeCodecInit.Do(func() {
		c.envelopeCodec, err = c.initEnvelopeCodec()
		if err != nil {
			c.initErrors["envelopeCodec"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["envelopeCodec"]; exists {
		return nil, storedErr
	}
	return c.envelopeCodec, nil
}

// RotationUseCase returns the key rotation use case.
func (c *Container) RotationUseCase() (cryptoUseCase.RotationUseCase, error) {
	var err error
	c.rotationUseCaseInit.Do(func() {
		c.rotationUseCase, err = c.initRotationUseCase()
		if err != nil {
			c.initErrors["rotationUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["rotationUseCase"]; exists {
		return nil, storedErr
	}
	return c.rotationUseCase, nil
}

// RotationWorker returns the periodic rotation worker.
func (c *Container) RotationWorker() (*cryptoUseCase.RotationWorker, error) {
	var err error
	c.rotationWorkerInit.Do(func() {
		c.rotationWorker, err = c.initRotationWorker()
		if err != nil {
			c.initErrors["rotationWorker"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["rotationWorker"]; exists {
		return nil, storedErr
	}
	return c.rotationWorker, nil
}

// initKMSService creates the KMS service for wrapping key material.
func (c *Container) initKMSService() cryptoService.KMSService {
	return cryptoService.NewKMSService()
}

// initKMSKeeper opens the keeper for the configured KMS key URI.
func (c *Container) initKMSKeeper() (cryptoDomain.KMSKeeper, error) {
	if c.config.KMSKeyURI == "" {
		return nil, nil
	}

	keeper, err := c.KMSService().OpenKeeper(context.Background(), c.config.KMSKeyURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open kms keeper: %w", err)
	}
	return keeper, nil
}

// initKeyProvider creates the secrets manager key repository with all its dependencies.
func (c *Container) initKeyProvider() (cryptoService.KeyProvider, error) {
	keeper, err := c.KMSKeeper()
	if err != nil {
		return nil, fmt.Errorf("failed to get kms keeper for key provider: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for key provider: %w", err)
	}

	opts := []cryptoRepository.Option{
		cryptoRepository.WithRegionTimeout(c.config.SecretRegionTimeout),
		cryptoRepository.WithFetchBudget(c.config.SecretFetchBudget),
	}
	if c.config.SecretsManagerEndpoint != "" {
		opts = append(opts, cryptoRepository.WithEndpoint(c.config.SecretsManagerEndpoint))
	}

	provider, err := cryptoRepository.NewSecretsManagerKeyRepository(
		context.Background(),
		c.config.SecretRegionList(),
		c.config.KeyNamespace,
		keeper,
		businessMetrics,
		c.Logger(),
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets manager key repository: %w", err)
	}
	return provider, nil
}

// initRegistry creates the key registry and warms its version cache with
// fail-fast validation.
func (c *Container) initRegistry() (*cryptoService.Registry, error) {
	provider, err := c.KeyProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get key provider for registry: %w", err)
	}

	var fallbackKey []byte
	if c.config.FallbackKey != "" {
		if err := appValidation.Base64Key.Validate(c.config.FallbackKey); err != nil {
			return nil, fmt.Errorf("invalid fallback key: %w", err)
		}
		fallbackKey, err = base64.StdEncoding.DecodeString(c.config.FallbackKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode fallback key: %w", err)
		}
	}

	registry := cryptoService.NewRegistry(
		provider,
		cryptoDomain.Version(c.config.LegacyKeyVersion),
		c.config.RotationPeriod,
		c.Logger(),
	)
	if err := registry.WarmUp(context.Background(), fallbackKey); err != nil {
		return nil, fmt.Errorf("failed to warm up key registry: %w", err)
	}
	return registry, nil
}

// initEnvelopeCodec creates the envelope codec using the key registry.
func (c *Container) initEnvelopeCodec() (*cryptoService.EnvelopeCodec, error) {
	registry, err := c.Registry()
	if err != nil {
		return nil, fmt.Errorf("failed to get registry for envelope codec: %w", err)
	}
	return cryptoService.NewEnvelopeCodec(registry), nil
}

// initRotationUseCase creates the rotation use case with all its dependencies.
func (c *Container) initRotationUseCase() (cryptoUseCase.RotationUseCase, error) {
	registry, err := c.Registry()
	if err != nil {
		return nil, fmt.Errorf("failed to get registry for rotation use case: %w", err)
	}

	provider, err := c.KeyProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get key provider for rotation use case: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for rotation use case: %w", err)
	}

	return cryptoUseCase.NewRotationUseCase(
		registry,
		provider,
		businessMetrics,
		c.Logger(),
		c.config.RotationPeriod,
	), nil
}

// initRotationWorker creates the rotation worker.
func (c *Container) initRotationWorker() (*cryptoUseCase.RotationWorker, error) {
	rotationUseCase, err := c.RotationUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get rotation use case for rotation worker: %w", err)
	}

	return cryptoUseCase.NewRotationWorker(
		rotationUseCase,
		c.config.RotationCheckInterval,
		c.Logger(),
	), nil
}
