package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ignite/docsend/internal/ingest"
	"github.com/ignite/docsend/internal/pkg/httputil"
	"github.com/ignite/docsend/internal/schema"
)

// UploadSpreadsheet ingests a spreadsheet for a document type. The multipart
// form carries the file under "file" and, optionally, a JSON-encoded mapping
// override list under "mapping".
func (h *Handlers) UploadSpreadsheet(w http.ResponseWriter, r *http.Request) {
	typeID, ok := urlUUID(w, r, "typeID")
	if !ok {
		return
	}

	maxBytes := int64(h.cfg.Ingest.MaxUploadBytes)
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		httputil.BadRequest(w, "upload too large or malformed")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		httputil.InternalError(w, fmt.Errorf("reading upload: %w", err))
		return
	}

	var overrides []ingest.MappingOverride
	if raw := r.FormValue("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
			httputil.BadRequest(w, "invalid mapping overrides")
			return
		}
	}

	result, err := h.deps.Pipeline.Ingest(r.Context(), typeID, data, overrides)
	if err != nil {
		switch {
		case errors.Is(err, schema.ErrTypeNotFound):
			httputil.NotFound(w, "document type not found")
		case errors.Is(err, ingest.ErrEmptyFile),
			errors.Is(err, ingest.ErrNoHeaderRow),
			errors.Is(err, ingest.ErrNoDataRows),
			errors.Is(err, ingest.ErrUnknownFormat):
			httputil.BadRequest(w, err.Error())
		default:
			httputil.InternalError(w, err)
		}
		return
	}
	httputil.OK(w, result)
}

// PreviewMapping runs the heuristic mapper against uploaded headers without
// persisting anything, so a caller can confirm or correct the assignment
// before the real ingest.
func (h *Handlers) PreviewMapping(w http.ResponseWriter, r *http.Request) {
	typeID, ok := urlUUID(w, r, "typeID")
	if !ok {
		return
	}
	var req struct {
		Headers []string `json:"headers"`
		// Samples holds a few cell values per column, indexed like Headers,
		// used only to suggest a field type for unmapped columns.
		Samples [][]string `json:"samples,omitempty"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.Headers) == 0 {
		httputil.BadRequest(w, "headers are required")
		return
	}

	fields, err := h.deps.Registry.ListFields(r.Context(), typeID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	result := h.deps.Mapper.MapColumns(req.Headers, fields)

	var suggestions map[string]schema.FieldType
	for i, m := range result.Mappings {
		if m.FieldKey != "" {
			continue
		}
		var samples []string
		if i < len(req.Samples) {
			samples = req.Samples[i]
		}
		if suggestions == nil {
			suggestions = make(map[string]schema.FieldType)
		}
		suggestions[m.ColumnName] = ingest.SuggestFieldType(m.ColumnName, samples)
	}

	httputil.OK(w, struct {
		*ingest.MappingResult
		SuggestedTypes map[string]schema.FieldType `json:"suggested_types,omitempty"`
	}{result, suggestions})
}

// UploadProgress returns live ingest progress for an upload id.
func (h *Handlers) UploadProgress(w http.ResponseWriter, r *http.Request) {
	uploadID, ok := urlUUID(w, r, "uploadID")
	if !ok {
		return
	}
	progress, err := h.deps.Pipeline.Progress(r.Context(), uploadID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if progress == nil {
		httputil.NotFound(w, "no progress for upload")
		return
	}
	httputil.OK(w, progress)
}

// ListRows pages through a type's row records.
func (h *Handlers) ListRows(w http.ResponseWriter, r *http.Request) {
	typeID, ok := urlUUID(w, r, "typeID")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := h.deps.Rows.ListByType(r.Context(), typeID, limit, offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rows)
}

// GetRow returns one row record.
func (h *Handlers) GetRow(w http.ResponseWriter, r *http.Request) {
	rowID, ok := urlUUID(w, r, "rowID")
	if !ok {
		return
	}
	row, err := h.deps.Rows.Get(r.Context(), rowID)
	if err != nil {
		if errors.Is(err, ingest.ErrRowNotFound) {
			httputil.NotFound(w, "row record not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, row)
}
