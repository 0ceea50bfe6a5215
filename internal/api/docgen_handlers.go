package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/docsend/internal/docgen"
	"github.com/ignite/docsend/internal/pkg/httputil"
	"github.com/ignite/docsend/internal/pkg/logger"
	"github.com/ignite/docsend/internal/storage"
	"github.com/ignite/docsend/internal/template"
)

// GenerateItemResult is the per-recipient outcome of a generation request.
type GenerateItemResult struct {
	RowID       uuid.UUID `json:"row_id"`
	RecipientID string    `json:"recipient_id,omitempty"`
	DocumentID  uuid.UUID `json:"document_id,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// GenerateDocuments produces one document per requested row record. Rows
// that fail are reported individually; the batch always completes.
func (h *Handlers) GenerateDocuments(w http.ResponseWriter, r *http.Request) {
	typeID, ok := urlUUID(w, r, "typeID")
	if !ok {
		return
	}
	var req struct {
		TemplateID  uuid.UUID   `json:"template_id"`
		RowIDs      []uuid.UUID `json:"row_ids"`
		SignatureID *uuid.UUID  `json:"signature_id,omitempty"`
		GeneratedBy string      `json:"generated_by"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.RowIDs) == 0 {
		httputil.BadRequest(w, "at least one row is required")
		return
	}

	tpl, err := h.deps.Tpls.Get(r.Context(), req.TemplateID)
	if err != nil {
		if errors.Is(err, template.ErrTemplateNotFound) {
			httputil.NotFound(w, "template not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	if tpl.DocumentTypeID != typeID {
		httputil.BadRequest(w, "template belongs to another document type")
		return
	}

	fields, err := h.deps.Registry.ListFields(r.Context(), typeID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	var sig *docgen.Signature
	if req.SignatureID != nil {
		if sig, err = h.deps.Docs.GetSignature(r.Context(), *req.SignatureID); err != nil {
			if errors.Is(err, docgen.ErrSignatureNotFound) {
				httputil.NotFound(w, "signature not found")
				return
			}
			httputil.InternalError(w, err)
			return
		}
	}

	generator := docgen.NewGenerator()
	results := make([]GenerateItemResult, 0, len(req.RowIDs))

	for _, rowID := range req.RowIDs {
		item := GenerateItemResult{RowID: rowID}

		row, err := h.deps.Rows.Get(r.Context(), rowID)
		if err != nil {
			item.Error = "row record not found"
			results = append(results, item)
			continue
		}
		item.RecipientID = row.RecipientID

		if missing := docgen.CheckRowReady(row, fields); len(missing) > 0 {
			item.Error = fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", "))
			results = append(results, item)
			continue
		}

		rendered, err := generator.Generate(r.Context(), docgen.GenerateRequest{
			Template:  tpl,
			Fields:    fields,
			Row:       row,
			Signature: sig,
			Generator: req.GeneratedBy,
		})
		if err != nil {
			item.Error = err.Error()
			results = append(results, item)
			continue
		}
		item.Warnings = rendered.Warnings

		doc := &docgen.GeneratedDocument{
			ID:             uuid.New(),
			DocumentTypeID: typeID,
			RecipientID:    row.RecipientID,
			TemplateID:     tpl.ID,
			SignatureID:    req.SignatureID,
			GeneratedBy:    req.GeneratedBy,
		}
		doc.BlobRef = fmt.Sprintf("documents/%s/%s", typeID, doc.ID)

		if err := h.deps.Blobs.Put(r.Context(), doc.BlobRef,
			strings.NewReader(rendered.Content), "text/html"); err != nil {
			item.Error = "failed to store document"
			logger.Error("blob write failed", "document_id", doc.ID.String(), "error", err.Error())
			results = append(results, item)
			continue
		}
		if err := h.deps.Docs.Create(r.Context(), doc); err != nil {
			item.Error = "failed to record document"
			results = append(results, item)
			continue
		}

		item.DocumentID = doc.ID
		results = append(results, item)
	}

	httputil.OK(w, map[string]any{
		"template_id": tpl.ID,
		"results":     results,
	})
}

// GetDocument returns a generated document's metadata.
func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	documentID, ok := urlUUID(w, r, "documentID")
	if !ok {
		return
	}
	doc, err := h.deps.Docs.Get(r.Context(), documentID)
	if err != nil {
		if errors.Is(err, docgen.ErrDocumentNotFound) {
			httputil.NotFound(w, "document not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, doc)
}

// DownloadDocument streams a generated document's content.
func (h *Handlers) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	documentID, ok := urlUUID(w, r, "documentID")
	if !ok {
		return
	}
	doc, err := h.deps.Docs.Get(r.Context(), documentID)
	if err != nil {
		if errors.Is(err, docgen.ErrDocumentNotFound) {
			httputil.NotFound(w, "document not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	blob, err := h.deps.Blobs.Get(r.Context(), doc.BlobRef)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			httputil.NotFound(w, "document content not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := io.Copy(w, blob); err != nil {
		logger.Warn("document stream interrupted", "document_id", documentID.String(), "error", err.Error())
	}
}

// CreateSignature uploads a signature asset.
func (h *Handlers) CreateSignature(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(h.cfg.Ingest.MaxUploadBytes)
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		httputil.BadRequest(w, "upload too large or malformed")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "missing file")
		return
	}
	defer file.Close()

	sig := &docgen.Signature{ID: uuid.New(), Name: name}
	sig.BlobRef = fmt.Sprintf("signatures/%s", sig.ID)

	contentType := header.Header.Get("Content-Type")
	if err := h.deps.Blobs.Put(r.Context(), sig.BlobRef, file, contentType); err != nil {
		httputil.InternalError(w, err)
		return
	}
	if err := h.deps.Docs.CreateSignature(r.Context(), sig); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, sig)
}

// ListSignatures returns all signature assets.
func (h *Handlers) ListSignatures(w http.ResponseWriter, r *http.Request) {
	sigs, err := h.deps.Docs.ListSignatures(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, sigs)
}
