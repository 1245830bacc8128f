// Package repository implements persistence for the encrypted_fields table.
// Repositories support both PostgreSQL and MySQL; writes participate in the
// ambient transaction when one travels in the context.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/carevault/fieldcrypt/internal/database"
	apperrors "github.com/carevault/fieldcrypt/internal/errors"
	fieldsDomain "github.com/carevault/fieldcrypt/internal/fields/domain"
)

// PostgreSQLFieldRepository implements EncryptedField persistence for PostgreSQL databases.
type PostgreSQLFieldRepository struct {
	db *sql.DB
}

// Upsert inserts a field or replaces the payload of an existing one. The
// field's ID is populated from the row, whether inserted or updated.
func (p *PostgreSQLFieldRepository) Upsert(ctx context.Context, field *fieldsDomain.EncryptedField) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO encrypted_fields (entity_type, entity_id, field_name, payload, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (entity_type, entity_id, field_name)
			  DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
			  RETURNING id`

	err := querier.QueryRowContext(
		ctx,
		query,
		field.EntityType,
		field.EntityID,
		field.FieldName,
		field.Payload,
		field.CreatedAt,
		field.UpdatedAt,
	).Scan(&field.ID)
	if err != nil {
		return apperrors.Wrap(err, "failed to upsert encrypted field")
	}

	return nil
}

// GetByID retrieves a single field by its primary key.
func (p *PostgreSQLFieldRepository) GetByID(ctx context.Context, id int64) (*fieldsDomain.EncryptedField, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, entity_type, entity_id, field_name, payload, created_at, updated_at
			  FROM encrypted_fields
			  WHERE id = $1
			  LIMIT 1`

	var field fieldsDomain.EncryptedField
	err := querier.QueryRowContext(ctx, query, id).Scan(
		&field.ID,
		&field.EntityType,
		&field.EntityID,
		&field.FieldName,
		&field.Payload,
		&field.CreatedAt,
		&field.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get encrypted field by id")
	}

	return &field, nil
}

// GetByName retrieves a field by its unique (entity_type, entity_id, field_name) triple.
func (p *PostgreSQLFieldRepository) GetByName(
	ctx context.Context,
	entityType, entityID, fieldName string,
) (*fieldsDomain.EncryptedField, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, entity_type, entity_id, field_name, payload, created_at, updated_at
			  FROM encrypted_fields
			  WHERE entity_type = $1 AND entity_id = $2 AND field_name = $3
			  LIMIT 1`

	var field fieldsDomain.EncryptedField
	err := querier.QueryRowContext(ctx, query, entityType, entityID, fieldName).Scan(
		&field.ID,
		&field.EntityType,
		&field.EntityID,
		&field.FieldName,
		&field.Payload,
		&field.CreatedAt,
		&field.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get encrypted field by name")
	}

	return &field, nil
}

// ListBatch retrieves up to limit fields with ID greater than afterID, ordered
// by ID ascending. Returns an empty slice when the cursor is past the last row.
func (p *PostgreSQLFieldRepository) ListBatch(
	ctx context.Context,
	afterID int64,
	limit int,
) ([]*fieldsDomain.EncryptedField, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, entity_type, entity_id, field_name, payload, created_at, updated_at
			  FROM encrypted_fields
			  WHERE id > $1
			  ORDER BY id ASC
			  LIMIT $2`

	rows, err := querier.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list encrypted fields")
	}
	defer func() {
		_ = rows.Close()
	}()

	fields := make([]*fieldsDomain.EncryptedField, 0)
	for rows.Next() {
		var field fieldsDomain.EncryptedField

		err := rows.Scan(
			&field.ID,
			&field.EntityType,
			&field.EntityID,
			&field.FieldName,
			&field.Payload,
			&field.CreatedAt,
			&field.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan encrypted field")
		}

		fields = append(fields, &field)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate encrypted fields")
	}

	return fields, nil
}

// UpdatePayloads writes re-encrypted payloads back to their rows. Runs inside
// the ambient transaction so a whole batch commits or rolls back as one unit.
func (p *PostgreSQLFieldRepository) UpdatePayloads(
	ctx context.Context,
	updates []fieldsDomain.PayloadUpdate,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE encrypted_fields
			  SET payload = $1, updated_at = $2
			  WHERE id = $3`

	now := time.Now().UTC()
	for _, update := range updates {
		if _, err := querier.ExecContext(ctx, query, update.Payload, now, update.ID); err != nil {
			return apperrors.Wrap(err, "failed to update encrypted field payload")
		}
	}

	return nil
}

// CountAll returns the total number of stored fields.
func (p *PostgreSQLFieldRepository) CountAll(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT COUNT(*) FROM encrypted_fields`

	var count int64
	if err := querier.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, apperrors.Wrap(err, "failed to count encrypted fields")
	}

	return count, nil
}

// NewPostgreSQLFieldRepository creates a new PostgreSQL EncryptedField repository instance.
func NewPostgreSQLFieldRepository(db *sql.DB) *PostgreSQLFieldRepository {
	return &PostgreSQLFieldRepository{db: db}
}
