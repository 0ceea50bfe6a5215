package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ignite/docsend/internal/pkg/httputil"
	"github.com/ignite/docsend/internal/template"
)

// CreateTemplate stores a new template for a document type.
func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	typeID, ok := urlUUID(w, r, "typeID")
	if !ok {
		return
	}
	var req struct {
		Name    string `json:"name"`
		Subject string `json:"subject"`
		Content string `json:"content"`
		BlobRef string `json:"blob_ref,omitempty"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.Content == "" {
		httputil.BadRequest(w, "name and content are required")
		return
	}

	tpl := &template.Template{
		DocumentTypeID: typeID,
		Name:           req.Name,
		Subject:        req.Subject,
		Content:        req.Content,
		BlobRef:        req.BlobRef,
		IsActive:       true,
	}
	if err := h.deps.Tpls.Create(r.Context(), tpl); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, tpl)
}

// ListTemplates returns a type's active templates.
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	typeID, ok := urlUUID(w, r, "typeID")
	if !ok {
		return
	}
	templates, err := h.deps.Tpls.ListByType(r.Context(), typeID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, templates)
}

// GetTemplate returns one template.
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, ok := urlUUID(w, r, "templateID")
	if !ok {
		return
	}
	tpl, err := h.deps.Tpls.Get(r.Context(), templateID)
	if err != nil {
		if errors.Is(err, template.ErrTemplateNotFound) {
			httputil.NotFound(w, "template not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, tpl)
}

// UpdateTemplate modifies a template's name, subject, or content.
func (h *Handlers) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, ok := urlUUID(w, r, "templateID")
	if !ok {
		return
	}
	tpl, err := h.deps.Tpls.Get(r.Context(), templateID)
	if err != nil {
		if errors.Is(err, template.ErrTemplateNotFound) {
			httputil.NotFound(w, "template not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	var req struct {
		Name    *string `json:"name"`
		Subject *string `json:"subject"`
		Content *string `json:"content"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Name != nil {
		tpl.Name = *req.Name
	}
	if req.Subject != nil {
		tpl.Subject = *req.Subject
	}
	if req.Content != nil {
		tpl.Content = *req.Content
	}

	if err := h.deps.Tpls.Update(r.Context(), tpl); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, tpl)
}

// DeleteTemplate deactivates a template.
func (h *Handlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, ok := urlUUID(w, r, "templateID")
	if !ok {
		return
	}
	if err := h.deps.Tpls.Delete(r.Context(), templateID); err != nil {
		if errors.Is(err, template.ErrTemplateNotFound) {
			httputil.NotFound(w, "template not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// PreviewTemplate renders a template's subject and content against sample
// values supplied by the caller, so authors can see the personalized output
// before any row data exists.
func (h *Handlers) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, ok := urlUUID(w, r, "templateID")
	if !ok {
		return
	}
	tpl, err := h.deps.Tpls.Get(r.Context(), templateID)
	if err != nil {
		if errors.Is(err, template.ErrTemplateNotFound) {
			httputil.NotFound(w, "template not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	var req struct {
		Values map[string]interface{} `json:"values"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}

	cacheKey := tpl.ID.String() + ":" + tpl.UpdatedAt.Format(time.RFC3339Nano)
	content, err := h.deps.Renderer.Render(cacheKey+":content", tpl.Content, req.Values)
	if err != nil {
		httputil.BadRequest(w, "template render failed: "+err.Error())
		return
	}
	subject := tpl.Subject
	if subject != "" {
		if subject, err = h.deps.Renderer.Render(cacheKey+":subject", tpl.Subject, req.Values); err != nil {
			httputil.BadRequest(w, "subject render failed: "+err.Error())
			return
		}
	}

	httputil.OK(w, map[string]string{
		"subject": subject,
		"content": content,
	})
}

// ValidateTemplate extracts the template's placeholders and checks them
// against its document type's schema. Missing required fields block
// ready-to-send status; unknown placeholders are warnings only.
func (h *Handlers) ValidateTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, ok := urlUUID(w, r, "templateID")
	if !ok {
		return
	}
	tpl, err := h.deps.Tpls.Get(r.Context(), templateID)
	if err != nil {
		if errors.Is(err, template.ErrTemplateNotFound) {
			httputil.NotFound(w, "template not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	fields, err := h.deps.Registry.ListFields(r.Context(), tpl.DocumentTypeID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	var required, known []string
	for _, f := range fields {
		known = append(known, f.FieldKey)
		if f.IsRequired {
			required = append(required, f.FieldKey)
		}
	}
	httputil.OK(w, template.Validate(tpl.Content, required, known))
}
