package app

import (
	"fmt"

	"github.com/carevault/fieldcrypt/internal/database"
	fieldsRepository "github.com/carevault/fieldcrypt/internal/fields/repository"
	fieldsUseCase "github.com/carevault/fieldcrypt/internal/fields/usecase"
)

// FieldRepository returns the encrypted field repository based on database driver.
func (c *Container) FieldRepository() (fieldsUseCase.FieldRepository, error) {
	var err error
	c.fieldRepoInit.Do(func() {
		c.fieldRepo, err = c.initFieldRepository()
		if err != nil {
			c.initErrors["fieldRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["fieldRepo"]; exists {
		return nil, storedErr
	}
	return c.fieldRepo, nil
}

// FieldUseCase returns the encrypted field use case.
func (c *Container) FieldUseCase() (fieldsUseCase.FieldUseCase, error) {
	var err error
	c.fieldUseCaseInit.Do(func() {
		c.fieldUseCase, err = c.initFieldUseCase()
		if err != nil {
			c.initErrors["fieldUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["fieldUseCase"]; exists {
		return nil, storedErr
	}
	return c.fieldUseCase, nil
}

// initFieldRepository creates the field repository based on the database driver.
func (c *Container) initFieldRepository() (fieldsUseCase.FieldRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for field repository: %w", err)
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

// initFieldUseCase creates the field use case with all its dependencies.
func (c *Container) initFieldUseCase() (fieldsUseCase.FieldUseCase, error) {
	fieldRepo, err := c.FieldRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get field repository for field use case: %w", err)
	}

	registry, err := c.Registry()
	if err != nil {
		return nil, fmt.Errorf("failed to get registry for field use case: %w", err)
	}

	codec, err := c.EnvelopeCodec()
	if err != nil {
		return nil, fmt.Errorf("failed to get envelope codec for field use case: %w", err)
	}

	fieldUseCase := fieldsUseCase.NewFieldUseCase(fieldRepo, registry, codec)

	// Wrap with metrics if enabled
	if c.config.MetricsEnabled {
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for field use case: %w", err)
		}
		fieldUseCase = fieldsUseCase.NewFieldUseCaseWithMetrics(fieldUseCase, businessMetrics)
	}

	return fieldUseCase, nil
}
