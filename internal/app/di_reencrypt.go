package app

import (
	"fmt"

	"github.com/carevault/fieldcrypt/internal/database"
	fieldsRepository "github.com/carevault/fieldcrypt/internal/fields/repository"
	reencryptUseCase "github.com/carevault/fieldcrypt/internal/reencrypt/usecase"
)

// ReencryptFieldRepository returns the field repository for the re-encryption
// use case based on database driver.
func (c *Container) ReencryptFieldRepository() (reencryptUseCase.FieldRepository, error) {
	var err error
	c.reencryptRepoInit.Do(func() {
		c.reencryptRepo, err = c.initReencryptFieldRepository()
		if err != nil {
			c.initErrors["reencryptRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["reencryptRepo"]; exists {
		return nil, storedErr
	}
	return c.reencryptRepo, nil
}

// MigratorUseCase returns the batch re-encryption use case.
func (c *Container) MigratorUseCase() (reencryptUseCase.MigratorUseCase, error) {
	var err error
	c.migratorUseCaseInit.Do(func() {
		c.migratorUseCase, err = c.initMigratorUseCase()
		if err != nil {
			c.initErrors["migratorUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["migratorUseCase"]; exists {
		return nil, storedErr
	}
	return c.migratorUseCase, nil
}

// initReencryptFieldRepository creates the field repository for the re-encryption
// use case based on the database driver.
func (c *Container) initReencryptFieldRepository() (reencryptUseCase.FieldRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for reencrypt field repository: %w", err)
	}

	switch database.NormalizeDriver(c.config.DBDriver) {
	case "postgres":
		return fieldsRepository.NewPostgreSQLFieldRepository(db), nil
	case "mysql":
		return fieldsRepository.NewMySQLFieldRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initMigratorUseCase creates the migrator use case with all its dependencies.
func (c *Container) initMigratorUseCase() (reencryptUseCase.MigratorUseCase, error) {
	reencryptRepo, err := c.ReencryptFieldRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get reencrypt field repository for migrator use case: %w", err)
	}

	registry, err := c.Registry()
	if err != nil {
		return nil, fmt.Errorf("failed to get registry for migrator use case: %w", err)
	}

	codec, err := c.EnvelopeCodec()
	if err != nil {
		return nil, fmt.Errorf("failed to get envelope codec for migrator use case: %w", err)
	}

	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for migrator use case: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for migrator use case: %w", err)
	}

	return reencryptUseCase.NewMigratorUseCase(
		reencryptRepo,
		registry,
		codec,
		txManager,
		businessMetrics,
		c.Logger(),
		c.config.ReencryptBatchSize,
		c.config.ReencryptRateLimit,
	), nil
}
