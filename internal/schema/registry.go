package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SCHEMA REGISTRY
// =============================================================================
// Holds document-type definitions and their ordered field definitions.
// Field schemas are user-authored at runtime; all type coercion happens in
// the ingestion pipeline, so the registry only guards structural validity
// (unique keys, supported types, parseable validation rules).

var (
	ErrTypeNotFound      = errors.New("document type not found")
	ErrFieldNotFound     = errors.New("field definition not found")
	ErrDuplicateTypeKey  = errors.New("document type key already exists")
	ErrDuplicateFieldKey = errors.New("field key already exists for this document type")
	ErrUnsupportedType   = errors.New("unsupported field type")
	ErrInvalidFieldKey   = errors.New("invalid field key")
	ErrTypeInUse         = errors.New("document type has generated documents or email jobs")
)

// Registry provides data access for document types and field definitions.
type Registry struct {
	db *sql.DB
}

// NewRegistry creates a schema registry backed by the given database.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// CreateTypeRequest is the payload for creating a document type.
type CreateTypeRequest struct {
	TypeKey     string     `json:"type_key"`
	DisplayName string     `json:"display_name"`
	Description string     `json:"description"`
	DataSource  DataSource `json:"data_source"`
}

// CreateFieldRequest is the payload for adding a field to a document type.
type CreateFieldRequest struct {
	FieldKey       string    `json:"field_key"`
	DisplayName    string    `json:"display_name"`
	FieldType      FieldType `json:"field_type"`
	IsRequired     bool      `json:"is_required"`
	ValidationRule string    `json:"validation_rule,omitempty"`
	DefaultValue   *string   `json:"default_value,omitempty"`
}

// CreateType creates a new document type definition.
func (r *Registry) CreateType(ctx context.Context, req CreateTypeRequest) (*DocumentType, error) {
	key := NormalizeFieldKey(req.TypeKey)
	if !IsValidFieldKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFieldKey, req.TypeKey)
	}
	if req.DataSource == "" {
		req.DataSource = SourceSpreadsheet
	}
	if req.DataSource != SourceSpreadsheet && req.DataSource != SourceExternalTable {
		return nil, fmt.Errorf("invalid data source: %s", req.DataSource)
	}

	dt := &DocumentType{
		ID:          uuid.New(),
		TypeKey:     key,
		DisplayName: req.DisplayName,
		Description: req.Description,
		DataSource:  req.DataSource,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO document_types
		(id, type_key, display_name, description, data_source, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, dt.ID, dt.TypeKey, dt.DisplayName, dt.Description, dt.DataSource, dt.IsActive, dt.CreatedAt, dt.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTypeKey, key)
		}
		return nil, fmt.Errorf("failed to create document type: %w", err)
	}
	return dt, nil
}

// GetType returns a document type with its ordered field definitions.
func (r *Registry) GetType(ctx context.Context, typeID uuid.UUID) (*DocumentType, error) {
	var dt DocumentType
	err := r.db.QueryRowContext(ctx, `
		SELECT id, type_key, display_name, description, data_source, is_active, created_at, updated_at
		FROM document_types WHERE id = $1
	`, typeID).Scan(&dt.ID, &dt.TypeKey, &dt.DisplayName, &dt.Description, &dt.DataSource, &dt.IsActive, &dt.CreatedAt, &dt.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTypeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document type: %w", err)
	}

	fields, err := r.ListFields(ctx, typeID)
	if err != nil {
		return nil, err
	}
	dt.Fields = fields
	return &dt, nil
}

// ListTypes returns all active document types, fields not populated.
func (r *Registry) ListTypes(ctx context.Context) ([]DocumentType, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type_key, display_name, description, data_source, is_active, created_at, updated_at
		FROM document_types
		WHERE is_active = TRUE
		ORDER BY display_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list document types: %w", err)
	}
	defer rows.Close()

	var types []DocumentType
	for rows.Next() {
		var dt DocumentType
		if err := rows.Scan(&dt.ID, &dt.TypeKey, &dt.DisplayName, &dt.Description, &dt.DataSource, &dt.IsActive, &dt.CreatedAt, &dt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document type: %w", err)
		}
		types = append(types, dt)
	}
	return types, rows.Err()
}

// DeleteType removes a document type. Types that already have generated
// documents or email jobs are deactivated instead of removed so history
// stays intact; unused types are hard-deleted along with their fields.
func (r *Registry) DeleteType(ctx context.Context, typeID uuid.UUID) error {
	var inUse bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM generated_documents WHERE document_type_id = $1)
		    OR EXISTS(SELECT 1 FROM email_jobs WHERE document_type_id = $1)
	`, typeID).Scan(&inUse)
	if err != nil {
		return fmt.Errorf("failed to check document type usage: %w", err)
	}

	if inUse {
		res, err := r.db.ExecContext(ctx, `
			UPDATE document_types SET is_active = FALSE, updated_at = NOW() WHERE id = $1
		`, typeID)
		if err != nil {
			return fmt.Errorf("failed to deactivate document type: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrTypeNotFound
		}
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM field_definitions WHERE document_type_id = $1`, typeID); err != nil {
		return fmt.Errorf("failed to delete field definitions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM document_types WHERE id = $1`, typeID)
	if err != nil {
		return fmt.Errorf("failed to delete document type: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTypeNotFound
	}
	return tx.Commit()
}

// AddField appends a field definition to a document type. The sort order is
// assigned after the current last field.
func (r *Registry) AddField(ctx context.Context, typeID uuid.UUID, req CreateFieldRequest) (*FieldDefinition, error) {
	if err := ValidateFieldRequest(req); err != nil {
		return nil, err
	}
	key := NormalizeFieldKey(req.FieldKey)

	var nextOrder int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sort_order), -1) + 1 FROM field_definitions WHERE document_type_id = $1
	`, typeID).Scan(&nextOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to compute sort order: %w", err)
	}

	fd := &FieldDefinition{
		ID:             uuid.New(),
		DocumentTypeID: typeID,
		FieldKey:       key,
		DisplayName:    req.DisplayName,
		FieldType:      req.FieldType,
		IsRequired:     req.IsRequired,
		ValidationRule: req.ValidationRule,
		DefaultValue:   req.DefaultValue,
		SortOrder:      nextOrder,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO field_definitions
		(id, document_type_id, field_key, display_name, field_type, is_required, validation_rule, default_value, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, fd.ID, fd.DocumentTypeID, fd.FieldKey, fd.DisplayName, fd.FieldType, fd.IsRequired, fd.ValidationRule, fd.DefaultValue, fd.SortOrder, fd.CreatedAt, fd.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFieldKey, key)
		}
		return nil, fmt.Errorf("failed to create field definition: %w", err)
	}
	return fd, nil
}

// ListFields returns a type's field definitions in display order.
func (r *Registry) ListFields(ctx context.Context, typeID uuid.UUID) ([]FieldDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, document_type_id, field_key, display_name, field_type, is_required,
		       COALESCE(validation_rule, ''), default_value, sort_order, created_at, updated_at
		FROM field_definitions
		WHERE document_type_id = $1
		ORDER BY sort_order
	`, typeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list field definitions: %w", err)
	}
	defer rows.Close()

	var fields []FieldDefinition
	for rows.Next() {
		var fd FieldDefinition
		if err := rows.Scan(&fd.ID, &fd.DocumentTypeID, &fd.FieldKey, &fd.DisplayName, &fd.FieldType,
			&fd.IsRequired, &fd.ValidationRule, &fd.DefaultValue, &fd.SortOrder, &fd.CreatedAt, &fd.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan field definition: %w", err)
		}
		fields = append(fields, fd)
	}
	return fields, rows.Err()
}

// UpdateField updates a field definition's mutable attributes. The field key
// is stable and cannot change once rows reference it.
func (r *Registry) UpdateField(ctx context.Context, fieldID uuid.UUID, req CreateFieldRequest) (*FieldDefinition, error) {
	if err := ValidateFieldRequest(req); err != nil {
		return nil, err
	}

	var fd FieldDefinition
	err := r.db.QueryRowContext(ctx, `
		UPDATE field_definitions
		SET display_name = $1, field_type = $2, is_required = $3, validation_rule = $4,
		    default_value = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING id, document_type_id, field_key, display_name, field_type, is_required,
		          COALESCE(validation_rule, ''), default_value, sort_order, created_at, updated_at
	`, req.DisplayName, req.FieldType, req.IsRequired, req.ValidationRule, req.DefaultValue, fieldID).Scan(
		&fd.ID, &fd.DocumentTypeID, &fd.FieldKey, &fd.DisplayName, &fd.FieldType,
		&fd.IsRequired, &fd.ValidationRule, &fd.DefaultValue, &fd.SortOrder, &fd.CreatedAt, &fd.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrFieldNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update field definition: %w", err)
	}
	return &fd, nil
}

// DeleteField removes a field definition.
func (r *Registry) DeleteField(ctx context.Context, fieldID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM field_definitions WHERE id = $1`, fieldID)
	if err != nil {
		return fmt.Errorf("failed to delete field definition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFieldNotFound
	}
	return nil
}

// ReorderFields rewrites sort order to match the given field id sequence.
func (r *Registry) ReorderFields(ctx context.Context, typeID uuid.UUID, orderedIDs []uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for i, id := range orderedIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE field_definitions SET sort_order = $1, updated_at = NOW()
			WHERE id = $2 AND document_type_id = $3
		`, i, id, typeID); err != nil {
			return fmt.Errorf("failed to reorder field %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ValidateFieldRequest checks structural validity of a field definition:
// well-formed key, supported type, and a compilable regex rule when one is
// given for a text-like type.
func ValidateFieldRequest(req CreateFieldRequest) error {
	key := NormalizeFieldKey(req.FieldKey)
	if !IsValidFieldKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidFieldKey, req.FieldKey)
	}
	if !IsValidFieldType(req.FieldType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, req.FieldType)
	}
	if req.ValidationRule != "" {
		switch req.FieldType {
		case FieldTypeText, FieldTypeTextArea, FieldTypeEmail, FieldTypePhone, FieldTypeURL:
			if _, err := regexp.Compile(req.ValidationRule); err != nil {
				return fmt.Errorf("invalid validation rule for field %q: %w", key, err)
			}
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "unique constraint") ||
		strings.Contains(err.Error(), "duplicate key")
}
