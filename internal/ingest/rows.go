package ingest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/docsend/internal/schema"
)

var ErrRowNotFound = errors.New("row record not found")

// RowSource tags where a row record's data came from.
const (
	RowSourceManual      = "manual"
	RowSourceSpreadsheet = "spreadsheet"
	RowSourceExternal    = "external"
)

// Values is the flexible field-key -> normalized-value map persisted as
// JSONB. Field schemas are user-authored at runtime, so rows cannot use
// fixed columns; the typed FieldDefinition catalog is the source of truth
// for interpretation.
type Values map[string]string

func (v Values) Value() (driver.Value, error) {
	return json.Marshal(v)
}

func (v *Values) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Values", value)
	}
	return json.Unmarshal(b, v)
}

// RowRecord is one recipient's resolved data values for a document type.
// One row per recipient per type; later uploads for the same recipient
// update rather than duplicate.
type RowRecord struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	DocumentTypeID uuid.UUID  `json:"document_type_id" db:"document_type_id"`
	RecipientID    string     `json:"recipient_id" db:"recipient_id"`
	RecipientName  string     `json:"recipient_name" db:"recipient_name"`
	Values         Values     `json:"values" db:"field_values"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	Source         string     `json:"source" db:"source"`
	UploadID       *uuid.UUID `json:"upload_id,omitempty" db:"upload_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// RowStore persists row records.
type RowStore struct {
	db *sql.DB
}

// NewRowStore creates a row store.
func NewRowStore(db *sql.DB) *RowStore {
	return &RowStore{db: db}
}

// Upsert inserts or updates the row keyed by (document type, recipient id).
func (s *RowStore) Upsert(ctx context.Context, row *RowRecord) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO row_records
		(id, document_type_id, recipient_id, recipient_name, field_values, is_active, source, upload_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (document_type_id, recipient_id) DO UPDATE SET
			recipient_name = EXCLUDED.recipient_name,
			field_values = EXCLUDED.field_values,
			is_active = EXCLUDED.is_active,
			source = EXCLUDED.source,
			upload_id = EXCLUDED.upload_id,
			updated_at = EXCLUDED.updated_at
	`, row.ID, row.DocumentTypeID, row.RecipientID, row.RecipientName, row.Values,
		row.IsActive, row.Source, row.UploadID, now)
	if err != nil {
		return fmt.Errorf("failed to upsert row record: %w", err)
	}
	row.UpdatedAt = now
	return nil
}

// Get returns one row record by id.
func (s *RowStore) Get(ctx context.Context, id uuid.UUID) (*RowRecord, error) {
	var row RowRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_type_id, recipient_id, recipient_name, field_values, is_active, source, upload_id, created_at, updated_at
		FROM row_records WHERE id = $1
	`, id).Scan(&row.ID, &row.DocumentTypeID, &row.RecipientID, &row.RecipientName,
		&row.Values, &row.IsActive, &row.Source, &row.UploadID, &row.CreatedAt, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get row record: %w", err)
	}
	return &row, nil
}

// ListByType returns active row records for a document type.
func (s *RowStore) ListByType(ctx context.Context, typeID uuid.UUID, limit, offset int) ([]RowRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_type_id, recipient_id, recipient_name, field_values, is_active, source, upload_id, created_at, updated_at
		FROM row_records
		WHERE document_type_id = $1 AND is_active = TRUE
		ORDER BY recipient_id
		LIMIT $2 OFFSET $3
	`, typeID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list row records: %w", err)
	}
	defer rows.Close()

	var records []RowRecord
	for rows.Next() {
		var row RowRecord
		if err := rows.Scan(&row.ID, &row.DocumentTypeID, &row.RecipientID, &row.RecipientName,
			&row.Values, &row.IsActive, &row.Source, &row.UploadID, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row record: %w", err)
		}
		records = append(records, row)
	}
	return records, rows.Err()
}

// GetMany returns the records for the given ids, skipping unknown ids.
func (s *RowStore) GetMany(ctx context.Context, ids []uuid.UUID) ([]RowRecord, error) {
	var records []RowRecord
	for _, id := range ids {
		row, err := s.Get(ctx, id)
		if err == ErrRowNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *row)
	}
	return records, nil
}

// MissingRequired returns the keys of required fields that have no value in
// the record. A record may not be used for generation or email until this
// list is empty.
func MissingRequired(row *RowRecord, fields []schema.FieldDefinition) []string {
	var missing []string
	for _, f := range fields {
		if f.IsRequired && row.Values[f.FieldKey] == "" {
			missing = append(missing, f.FieldKey)
		}
	}
	return missing
}
