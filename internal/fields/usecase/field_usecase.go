package usecase

import (
	"context"
	"errors"
	"time"

	validation "github.com/jellydator/validation"

	cryptoService "github.com/carevault/fieldcrypt/internal/crypto/service"
	apperrors "github.com/carevault/fieldcrypt/internal/errors"
	fieldsDomain "github.com/carevault/fieldcrypt/internal/fields/domain"
	appValidation "github.com/carevault/fieldcrypt/internal/validation"
)

// fieldUseCase implements the FieldUseCase interface for encrypted fields.
type fieldUseCase struct {
	repo     FieldRepository
	registry KeyRegistry
	codec    *cryptoService.EnvelopeCodec
}

// putFieldInput carries the Put arguments through validation.
type putFieldInput struct {
	EntityType string
	EntityID   string
	FieldName  string
	Value      []byte
}

// validatePutFieldInput validates the field coordinates and the value to store.
func (f *fieldUseCase) validatePutFieldInput(input putFieldInput) error {
	err := validation.ValidateStruct(&input,
		validation.Field(&input.EntityType,
			validation.Required.Error("entity type is required"),
			appValidation.NotBlank,
			validation.Length(1, 255).Error("entity type must be between 1 and 255 characters"),
		),
		validation.Field(&input.EntityID,
			validation.Required.Error("entity id is required"),
			appValidation.NotBlank,
			validation.Length(1, 255).Error("entity id must be between 1 and 255 characters"),
		),
		validation.Field(&input.FieldName,
			validation.Required.Error("field name is required"),
			appValidation.NotBlank,
			validation.Length(1, 255).Error("field name must be between 1 and 255 characters"),
		),
		validation.Field(&input.Value,
			validation.Required.Error("value is required"),
		),
	)
	return appValidation.WrapValidationError(err)
}

// Put encrypts value under the current key version and stores it for the
// given entity field.
func (f *fieldUseCase) Put(
	ctx context.Context,
	entityType, entityID, fieldName string,
	value []byte,
) (*fieldsDomain.EncryptedField, error) {
	input := putFieldInput{
		EntityType: entityType,
		EntityID:   entityID,
		FieldName:  fieldName,
		Value:      value,
	}
	if err := f.validatePutFieldInput(input); err != nil {
		return nil, err
	}

	// Registry metadata is shared state, the key must not be zeroed here.
	current, err := f.registry.CurrentKey()
	if err != nil {
		return nil, err
	}

	payload, err := f.codec.EncryptVersioned(value, current.Version, current.Key)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	field := &fieldsDomain.EncryptedField{
		EntityType: entityType,
		EntityID:   entityID,
		FieldName:  fieldName,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := f.repo.Upsert(ctx, field); err != nil {
		return nil, err
	}

	return field, nil
}

// Get retrieves and decrypts the value stored for the given entity field. The
// payload may carry any historical layout; the codec works out which key
// version opens it.
func (f *fieldUseCase) Get(
	ctx context.Context,
	entityType, entityID, fieldName string,
) (*fieldsDomain.EncryptedField, error) {
	field, err := f.repo.GetByName(ctx, entityType, entityID, fieldName)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fieldsDomain.ErrFieldNotFound
		}
		return nil, err
	}

	plaintext, _, err := f.codec.DecryptAny(ctx, field.Payload)
	if err != nil {
		return nil, err
	}

	// Populate the plaintext field
	field.Plaintext = plaintext

	return field, nil
}

// NewFieldUseCase creates a new field use case instance with the provided dependencies.
func NewFieldUseCase(
	repo FieldRepository,
	registry KeyRegistry,
	codec *cryptoService.EnvelopeCodec,
) FieldUseCase {
	return &fieldUseCase{
		repo:     repo,
		registry: registry,
		codec:    codec,
	}
}
