package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/ignite/docsend/internal/pkg/httputil"
	"github.com/ignite/docsend/internal/schema"
)

// CreateDocumentType registers a new document type.
func (h *Handlers) CreateDocumentType(w http.ResponseWriter, r *http.Request) {
	var req schema.CreateTypeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	dt, err := h.deps.Registry.CreateType(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, schema.ErrDuplicateTypeKey):
			httputil.Conflict(w, err.Error())
		default:
			httputil.BadRequest(w, err.Error())
		}
		return
	}
	httputil.Created(w, dt)
}

// ListDocumentTypes returns all document types.
func (h *Handlers) ListDocumentTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.deps.Registry.ListTypes(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, types)
}

// GetDocumentType returns one type with its ordered fields.
func (h *Handlers) GetDocumentType(w http.ResponseWriter, r *http.Request) {
	typeID, ok := urlUUID(w, r, "typeID")
	if !ok {
		return
	}
	dt, err := h.deps.Registry.GetType(r.Context(), typeID)
	if err != nil {
		if errors.Is(err, schema.ErrTypeNotFound) {
			httputil.NotFound(w, "document type not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, dt)
}

// DeleteDocumentType deactivates or removes a document type.
func (h *Handlers) DeleteDocumentType(w http.ResponseWriter, r *http.Request) {
	typeID, ok := urlUUID(w, r, "typeID")
	if !ok {
		return
	}
	if err := h.deps.Registry.DeleteType(r.Context(), typeID); err != nil {
		if errors.Is(err, schema.ErrTypeNotFound) {
			httputil.NotFound(w, "document type not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// AddField appends a field definition to a type's schema.
func (h *Handlers) AddField(w http.ResponseWriter, r *http.Request) {
	typeID, ok := urlUUID(w, r, "typeID")
	if !ok {
		return
	}
	var req schema.CreateFieldRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	field, err := h.deps.Registry.AddField(r.Context(), typeID, req)
	if err != nil {
		switch {
		case errors.Is(err, schema.ErrTypeNotFound):
			httputil.NotFound(w, "document type not found")
		case errors.Is(err, schema.ErrDuplicateFieldKey):
			httputil.Conflict(w, err.Error())
		default:
			httputil.BadRequest(w, err.Error())
		}
		return
	}
	httputil.Created(w, field)
}

// ListFields returns a type's field definitions in display order.
func (h *Handlers) ListFields(w http.ResponseWriter, r *http.Request) {
	typeID, ok := urlUUID(w, r, "typeID")
	if !ok {
		return
	}
	fields, err := h.deps.Registry.ListFields(r.Context(), typeID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, fields)
}

// UpdateField modifies one field definition.
func (h *Handlers) UpdateField(w http.ResponseWriter, r *http.Request) {
	fieldID, ok := urlUUID(w, r, "fieldID")
	if !ok {
		return
	}
	var req schema.CreateFieldRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	field, err := h.deps.Registry.UpdateField(r.Context(), fieldID, req)
	if err != nil {
		switch {
		case errors.Is(err, schema.ErrFieldNotFound):
			httputil.NotFound(w, "field not found")
		case errors.Is(err, schema.ErrDuplicateFieldKey):
			httputil.Conflict(w, err.Error())
		default:
			httputil.BadRequest(w, err.Error())
		}
		return
	}
	httputil.OK(w, field)
}

// DeleteField removes one field definition.
func (h *Handlers) DeleteField(w http.ResponseWriter, r *http.Request) {
	fieldID, ok := urlUUID(w, r, "fieldID")
	if !ok {
		return
	}
	if err := h.deps.Registry.DeleteField(r.Context(), fieldID); err != nil {
		if errors.Is(err, schema.ErrFieldNotFound) {
			httputil.NotFound(w, "field not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ReorderFields rewrites a type's field display order.
func (h *Handlers) ReorderFields(w http.ResponseWriter, r *http.Request) {
	typeID, ok := urlUUID(w, r, "typeID")
	if !ok {
		return
	}
	var req struct {
		FieldIDs []uuid.UUID `json:"field_ids"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.deps.Registry.ReorderFields(r.Context(), typeID, req.FieldIDs); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.NoContent(w)
}
