package docgen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDocumentNotFound is returned when no generated document matches.
	ErrDocumentNotFound = errors.New("generated document not found")
	// ErrSignatureNotFound is returned when no signature asset matches.
	ErrSignatureNotFound = errors.New("signature not found")
)

// GeneratedDocument records one immutable generation. Regeneration inserts a
// new record; existing rows are never updated.
type GeneratedDocument struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	DocumentTypeID uuid.UUID  `db:"document_type_id" json:"document_type_id"`
	RecipientID    string     `db:"recipient_id" json:"recipient_id"`
	TemplateID     uuid.UUID  `db:"template_id" json:"template_id"`
	SignatureID    *uuid.UUID `db:"signature_id" json:"signature_id,omitempty"`
	BlobRef        string     `db:"blob_ref" json:"blob_ref"`
	GeneratedBy    string     `db:"generated_by" json:"generated_by"`
	GeneratedAt    time.Time  `db:"generated_at" json:"generated_at"`
}

// Store persists generated documents and signature assets.
type Store struct {
	db *sql.DB
}

// NewStore creates a document store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// =============================================================================
// Generated Documents
// =============================================================================

// Create inserts a new generated document record.
func (s *Store) Create(ctx context.Context, doc *GeneratedDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.GeneratedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generated_documents
			(id, document_type_id, recipient_id, template_id, signature_id, blob_ref, generated_by, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.DocumentTypeID, doc.RecipientID, doc.TemplateID,
		doc.SignatureID, doc.BlobRef, doc.GeneratedBy, doc.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to insert generated document: %w", err)
	}
	return nil
}

// Get fetches one generated document by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*GeneratedDocument, error) {
	doc := &GeneratedDocument{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_type_id, recipient_id, template_id, signature_id, blob_ref, generated_by, generated_at
		FROM generated_documents WHERE id = $1`, id).Scan(
		&doc.ID, &doc.DocumentTypeID, &doc.RecipientID, &doc.TemplateID,
		&doc.SignatureID, &doc.BlobRef, &doc.GeneratedBy, &doc.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generated document: %w", err)
	}
	return doc, nil
}

// Latest returns the most recent generation for a recipient and template.
// Older generations remain queryable but this is the one attached to sends.
func (s *Store) Latest(ctx context.Context, typeID uuid.UUID, recipientID string, templateID uuid.UUID) (*GeneratedDocument, error) {
	doc := &GeneratedDocument{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_type_id, recipient_id, template_id, signature_id, blob_ref, generated_by, generated_at
		FROM generated_documents
		WHERE document_type_id = $1 AND recipient_id = $2 AND template_id = $3
		ORDER BY generated_at DESC
		LIMIT 1`, typeID, recipientID, templateID).Scan(
		&doc.ID, &doc.DocumentTypeID, &doc.RecipientID, &doc.TemplateID,
		&doc.SignatureID, &doc.BlobRef, &doc.GeneratedBy, &doc.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest document: %w", err)
	}
	return doc, nil
}

// ListByType returns generations for a document type, newest first.
func (s *Store) ListByType(ctx context.Context, typeID uuid.UUID, limit int) ([]GeneratedDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_type_id, recipient_id, template_id, signature_id, blob_ref, generated_by, generated_at
		FROM generated_documents
		WHERE document_type_id = $1
		ORDER BY generated_at DESC
		LIMIT $2`, typeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list generated documents: %w", err)
	}
	defer rows.Close()

	var docs []GeneratedDocument
	for rows.Next() {
		var doc GeneratedDocument
		if err := rows.Scan(&doc.ID, &doc.DocumentTypeID, &doc.RecipientID, &doc.TemplateID,
			&doc.SignatureID, &doc.BlobRef, &doc.GeneratedBy, &doc.GeneratedAt); err != nil {
			return nil, fmt.Errorf("failed to scan generated document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountByType returns the number of generations for a document type.
func (s *Store) CountByType(ctx context.Context, typeID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generated_documents WHERE document_type_id = $1`, typeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count generated documents: %w", err)
	}
	return n, nil
}

// =============================================================================
// Signatures
// =============================================================================

// CreateSignature stores a signature asset reference.
func (s *Store) CreateSignature(ctx context.Context, sig *Signature) error {
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	sig.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signatures (id, name, blob_ref, created_at)
		VALUES ($1, $2, $3, $4)`,
		sig.ID, sig.Name, sig.BlobRef, sig.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert signature: %w", err)
	}
	return nil
}

// GetSignature fetches a signature asset by id.
func (s *Store) GetSignature(ctx context.Context, id uuid.UUID) (*Signature, error) {
	sig := &Signature{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, blob_ref, created_at FROM signatures WHERE id = $1`, id).Scan(
		&sig.ID, &sig.Name, &sig.BlobRef, &sig.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSignatureNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signature: %w", err)
	}
	return sig, nil
}

// ListSignatures returns all signature assets.
func (s *Store) ListSignatures(ctx context.Context) ([]Signature, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, blob_ref, created_at FROM signatures ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list signatures: %w", err)
	}
	defer rows.Close()

	var sigs []Signature
	for rows.Next() {
		var sig Signature
		if err := rows.Scan(&sig.ID, &sig.Name, &sig.BlobRef, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signature: %w", err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}
