package template

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrTemplateNotFound = errors.New("template not found")

// Template is a document or email body template owned by a document type.
// Content is the extracted plain-text form used for placeholder work; the
// original uploaded bytes live in blob storage under BlobRef.
type Template struct {
	ID             uuid.UUID `json:"id" db:"id"`
	DocumentTypeID uuid.UUID `json:"document_type_id" db:"document_type_id"`
	Name           string    `json:"name" db:"name"`
	Subject        string    `json:"subject" db:"subject"`
	Content        string    `json:"content" db:"content"`
	BlobRef        string    `json:"blob_ref,omitempty" db:"blob_ref"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Store persists templates.
type Store struct {
	db *sql.DB
}

// NewStore creates a template store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a template.
func (s *Store) Create(ctx context.Context, t *Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	t.IsActive = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates
		(id, document_type_id, name, subject, content, blob_ref, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.DocumentTypeID, t.Name, t.Subject, t.Content, t.BlobRef, t.IsActive, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// Get returns one template by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	var t Template
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_type_id, name, subject, content, COALESCE(blob_ref, ''), is_active, created_at, updated_at
		FROM templates WHERE id = $1
	`, id).Scan(&t.ID, &t.DocumentTypeID, &t.Name, &t.Subject, &t.Content, &t.BlobRef, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &t, nil
}

// ListByType returns active templates for a document type.
func (s *Store) ListByType(ctx context.Context, typeID uuid.UUID) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_type_id, name, subject, content, COALESCE(blob_ref, ''), is_active, created_at, updated_at
		FROM templates
		WHERE document_type_id = $1 AND is_active = TRUE
		ORDER BY name
	`, typeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.DocumentTypeID, &t.Name, &t.Subject, &t.Content, &t.BlobRef, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// Update rewrites a template's content and metadata.
func (s *Store) Update(ctx context.Context, t *Template) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE templates
		SET name = $1, subject = $2, content = $3, blob_ref = $4, updated_at = NOW()
		WHERE id = $5
	`, t.Name, t.Subject, t.Content, t.BlobRef, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// Delete soft-deletes a template.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE templates SET is_active = FALSE, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}
