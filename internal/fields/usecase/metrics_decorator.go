package usecase

import (
	"context"
	"time"

	fieldsDomain "github.com/carevault/fieldcrypt/internal/fields/domain"
	"github.com/carevault/fieldcrypt/internal/metrics"
)

// fieldUseCaseWithMetrics decorates FieldUseCase with metrics instrumentation.
type fieldUseCaseWithMetrics struct {
	next    FieldUseCase
	metrics metrics.BusinessMetrics
}

// NewFieldUseCaseWithMetrics wraps a FieldUseCase with metrics recording.
func NewFieldUseCaseWithMetrics(useCase FieldUseCase, m metrics.BusinessMetrics) FieldUseCase {
	return &fieldUseCaseWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

// Put records metrics for field write operations.
func (f *fieldUseCaseWithMetrics) Put(
	ctx context.Context,
	entityType, entityID, fieldName string,
	value []byte,
) (*fieldsDomain.EncryptedField, error) {
	start := time.Now()
	field, err := f.next.Put(ctx, entityType, entityID, fieldName, value)

	status := "success"
	if err != nil {
		status = "error"
	}

	f.metrics.RecordOperation(ctx, "fields", "field_put", status)
	f.metrics.RecordDuration(ctx, "fields", "field_put", time.Since(start), status)

	return field, err
}

// Get records metrics for field read operations.
func (f *fieldUseCaseWithMetrics) Get(
	ctx context.Context,
	entityType, entityID, fieldName string,
) (*fieldsDomain.EncryptedField, error) {
	start := time.Now()
	field, err := f.next.Get(ctx, entityType, entityID, fieldName)

	status := "success"
	if err != nil {
		status = "error"
	}

	f.metrics.RecordOperation(ctx, "fields", "field_get", status)
	f.metrics.RecordDuration(ctx, "fields", "field_get", time.Since(start), status)

	return field, err
}
