package ingest

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/docsend/internal/pkg/distlock"
	"github.com/ignite/docsend/internal/pkg/logger"
	"github.com/ignite/docsend/internal/schema"
)

// =============================================================================
// INGESTION PIPELINE
// =============================================================================
// Turns an uploaded spreadsheet into validated row records. Processing is
// per-row: a malformed recipient is recorded as a row error and never blocks
// the rest of the batch.

const progressUpdateEvery = 250

// RowError describes why one data row was rejected.
type RowError struct {
	RowNumber int    `json:"row_number"` // 1-based, counting data rows
	FieldKey  string `json:"field,omitempty"`
	Reason    string `json:"reason"`
}

// IngestResult is the structured outcome of one upload.
type IngestResult struct {
	UploadID     uuid.UUID      `json:"upload_id"`
	TotalRows    int            `json:"total_rows"` // non-empty data rows
	ValidRows    int            `json:"valid_rows"`
	InvalidRows  int            `json:"invalid_rows"`
	SkippedEmpty int            `json:"skipped_empty"`
	Errors       []RowError     `json:"errors,omitempty"`
	Mapping      *MappingResult `json:"mapping"`
	Duration     time.Duration  `json:"-"`
}

// MappingOverride is an explicit column -> field-key assignment supplied by
// the caller to bypass the heuristic mapper for a known layout.
type MappingOverride struct {
	ColumnName string `json:"column_name"`
	FieldKey   string `json:"field_key"`
}

// Pipeline ingests spreadsheets for a document type.
type Pipeline struct {
	db       *sql.DB
	redis    *redis.Client
	registry *schema.Registry
	rows     *RowStore
	mapper   *Mapper

	// Row persistence serializes per document type so two concurrent
	// uploads cannot interleave partial writes for the same recipient.
	typeLocks sync.Map // uuid.UUID -> *sync.Mutex

	skipEmptyRows bool
}

// NewPipeline creates an ingestion pipeline. The redis client is optional;
// without it progress tracking and saved-layout lookup are disabled.
func NewPipeline(db *sql.DB, redisClient *redis.Client, registry *schema.Registry) *Pipeline {
	return &Pipeline{
		db:            db,
		redis:         redisClient,
		registry:      registry,
		rows:          NewRowStore(db),
		mapper:        NewMapper(),
		skipEmptyRows: true,
	}
}

// SetMapper swaps the column matching strategy.
func (p *Pipeline) SetMapper(m *Mapper) { p.mapper = m }

// SetSkipEmptyRows controls whether blank data rows are skipped or run
// through validation like any other row.
func (p *Pipeline) SetSkipEmptyRows(skip bool) { p.skipEmptyRows = skip }

// Ingest parses the upload, resolves the column mapping, then coerces,
// validates, and upserts each data row. Partial success is the normal
// outcome: per-row failures are collected in the result, and the resolved
// mapping is returned so callers can persist it for layouts they reupload.
func (p *Pipeline) Ingest(ctx context.Context, typeID uuid.UUID, data []byte, overrides []MappingOverride) (*IngestResult, error) {
	start := time.Now()

	dt, err := p.registry.GetType(ctx, typeID)
	if err != nil {
		return nil, err
	}

	sheet, err := ParseSpreadsheet(data)
	if err != nil {
		return nil, err
	}

	mapping := p.resolveMapping(ctx, typeID, sheet.Headers, dt.Fields, overrides)

	result := &IngestResult{
		UploadID: uuid.New(),
		Mapping:  mapping,
	}

	fieldsByKey := make(map[string]schema.FieldDefinition, len(dt.Fields))
	for _, f := range dt.Fields {
		fieldsByKey[f.FieldKey] = f
	}
	recipientKey := recipientIdentifierKey(dt.Fields)
	nameKey := recipientNameKey(dt.Fields)

	lock := p.lockForType(typeID)
	lock.Lock()
	defer lock.Unlock()

	// Cross-process guard: two replicas ingesting the same type must not
	// interleave upserts for the same recipient.
	release, err := p.acquireTypeLock(ctx, typeID)
	if err != nil {
		return nil, err
	}
	defer release()

	totalRecords := len(sheet.Rows) + len(sheet.BadRows)
	for _, bad := range sheet.BadRows {
		result.TotalRows++
		result.InvalidRows++
		result.Errors = append(result.Errors, RowError{RowNumber: bad.Num, Reason: bad.Reason})
	}

	for _, row := range sheet.Rows {
		rowNum := row.Num

		if p.skipEmptyRows && IsEmptyRow(row.Cells) {
			result.SkippedEmpty++
			continue
		}
		result.TotalRows++

		values, rowErrs := p.buildRowValues(dt.Fields, fieldsByKey, mapping.Mappings, row.Cells, rowNum)
		if len(rowErrs) > 0 {
			result.InvalidRows++
			result.Errors = append(result.Errors, rowErrs...)
			continue
		}

		recipientID := values[recipientKey]
		if recipientID == "" {
			result.InvalidRows++
			result.Errors = append(result.Errors, RowError{
				RowNumber: rowNum, FieldKey: recipientKey,
				Reason: "missing recipient identifier",
			})
			continue
		}

		record := &RowRecord{
			DocumentTypeID: typeID,
			RecipientID:    recipientID,
			RecipientName:  values[nameKey],
			Values:         values,
			IsActive:       true,
			Source:         RowSourceSpreadsheet,
			UploadID:       &result.UploadID,
		}
		if err := p.rows.Upsert(ctx, record); err != nil {
			result.InvalidRows++
			result.Errors = append(result.Errors, RowError{RowNumber: rowNum, Reason: err.Error()})
			logger.Error("row upsert failed", "upload_id", result.UploadID, "row", rowNum, "error", err)
			continue
		}
		result.ValidRows++

		if rowNum%progressUpdateEvery == 0 {
			p.publishProgress(ctx, result, totalRecords)
		}
	}

	result.Duration = time.Since(start)
	p.publishProgress(ctx, result, totalRecords)
	p.recordUpload(ctx, typeID, result)
	p.saveLayoutMapping(ctx, typeID, sheet.Headers, mapping)

	logger.Info("spreadsheet ingested",
		"upload_id", result.UploadID,
		"document_type", dt.TypeKey,
		"valid", result.ValidRows,
		"invalid", result.InvalidRows,
		"duration_ms", result.Duration.Milliseconds())

	return result, nil
}

// buildRowValues reads every mapped column of one data row, coercing and
// validating against the field catalog, then checks required coverage.
func (p *Pipeline) buildRowValues(fields []schema.FieldDefinition, fieldsByKey map[string]schema.FieldDefinition, mappings []FieldMapping, row []string, rowNum int) (Values, []RowError) {
	values := Values{}
	var errs []RowError

	for _, m := range mappings {
		if m.FieldKey == "" || m.ColumnIndex >= len(row) {
			continue
		}
		field := fieldsByKey[m.FieldKey]
		coerced, err := CoerceValue(field, row[m.ColumnIndex])
		if err != nil {
			errs = append(errs, RowError{RowNumber: rowNum, FieldKey: m.FieldKey, Reason: err.Error()})
			continue
		}
		if err := ValidateValue(field, coerced); err != nil {
			errs = append(errs, RowError{RowNumber: rowNum, FieldKey: m.FieldKey, Reason: err.Error()})
			continue
		}
		values[m.FieldKey] = coerced
	}

	// Defaults for unmapped fields, then the required check.
	for _, f := range fields {
		if values[f.FieldKey] == "" && f.DefaultValue != nil && *f.DefaultValue != "" {
			values[f.FieldKey] = *f.DefaultValue
		}
		if f.IsRequired && values[f.FieldKey] == "" {
			errs = append(errs, RowError{RowNumber: rowNum, FieldKey: f.FieldKey, Reason: "required value missing"})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return values, nil
}

// resolveMapping prefers explicit overrides, then a previously saved mapping
// for this exact layout, then the heuristic mapper.
func (p *Pipeline) resolveMapping(ctx context.Context, typeID uuid.UUID, headers []string, fields []schema.FieldDefinition, overrides []MappingOverride) *MappingResult {
	if len(overrides) > 0 {
		return applyOverrides(headers, fields, overrides)
	}
	if saved := p.loadLayoutMapping(ctx, typeID, headers); saved != nil {
		return saved
	}
	return p.mapper.MapColumns(headers, fields)
}

func applyOverrides(headers []string, fields []schema.FieldDefinition, overrides []MappingOverride) *MappingResult {
	byKey := make(map[string]schema.FieldDefinition, len(fields))
	for _, f := range fields {
		byKey[f.FieldKey] = f
	}
	byColumn := make(map[string]string, len(overrides))
	for _, o := range overrides {
		byColumn[NormalizeHeader(o.ColumnName)] = o.FieldKey
	}

	result := &MappingResult{Mappings: make([]FieldMapping, len(headers))}
	claimed := make(map[string]bool)
	for i, h := range headers {
		result.Mappings[i] = FieldMapping{ColumnIndex: i, ColumnName: h}
		key, ok := byColumn[NormalizeHeader(h)]
		if !ok {
			continue
		}
		field, ok := byKey[key]
		if !ok || claimed[key] {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("override for column %q targets unknown or already-claimed field %q", h, key))
			continue
		}
		claimed[key] = true
		result.Mappings[i] = FieldMapping{
			ColumnIndex: i, ColumnName: h,
			FieldKey: field.FieldKey, FieldType: field.FieldType,
			IsRequired: field.IsRequired, Confidence: ConfidenceExact,
		}
	}
	for _, f := range fields {
		if f.IsRequired && !claimed[f.FieldKey] {
			result.UnmappedRequired = append(result.UnmappedRequired, f.FieldKey)
		}
	}
	return result
}

// recipientIdentifierKey picks the field whose value keys a recipient:
// the first required non-email field in display order, falling back to the
// first field. Schemas in the wild put the identifier column first.
func recipientIdentifierKey(fields []schema.FieldDefinition) string {
	for _, f := range fields {
		if f.IsRequired && f.FieldType != schema.FieldTypeEmail {
			return f.FieldKey
		}
	}
	if len(fields) > 0 {
		return fields[0].FieldKey
	}
	return ""
}

func recipientNameKey(fields []schema.FieldDefinition) string {
	for _, f := range fields {
		key := f.FieldKey
		if key == "name" || key == "full_name" || strings.HasSuffix(key, "_name") {
			return key
		}
	}
	return ""
}

func (p *Pipeline) lockForType(typeID uuid.UUID) *sync.Mutex {
	v, _ := p.typeLocks.LoadOrStore(typeID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// acquireTypeLock takes the distributed per-type ingest lock, polling until
// it is free or the context ends. The returned func releases it.
func (p *Pipeline) acquireTypeLock(ctx context.Context, typeID uuid.UUID) (func(), error) {
	lock := distlock.NewLock(p.redis, p.db, "ingest:type:"+typeID.String(), 10*time.Minute)
	for {
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire ingest lock: %w", err)
		}
		if acquired {
			return func() {
				if err := lock.Release(context.Background()); err != nil {
					logger.Warn("failed to release ingest lock", "document_type_id", typeID, "error", err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// =============================================================================
// PROGRESS & LAYOUT MAPPING CACHE (Redis)
// =============================================================================

const uploadProgressTTL = 24 * time.Hour

// UploadProgress is the live state of one ingest, published to Redis.
type UploadProgress struct {
	UploadID    string    `json:"upload_id"`
	TotalRows   int       `json:"total_rows"`
	ValidRows   int       `json:"valid_rows"`
	InvalidRows int       `json:"invalid_rows"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (p *Pipeline) publishProgress(ctx context.Context, result *IngestResult, totalRows int) {
	if p.redis == nil {
		return
	}
	progress := UploadProgress{
		UploadID:    result.UploadID.String(),
		TotalRows:   totalRows,
		ValidRows:   result.ValidRows,
		InvalidRows: result.InvalidRows,
		UpdatedAt:   time.Now().UTC(),
	}
	data, _ := json.Marshal(progress)
	if err := p.redis.Set(ctx, "ingest:progress:"+progress.UploadID, data, uploadProgressTTL).Err(); err != nil {
		logger.Warn("failed to publish upload progress", "upload_id", progress.UploadID, "error", err)
	}
}

// Progress returns the live progress for an upload id, or nil if unknown.
func (p *Pipeline) Progress(ctx context.Context, uploadID uuid.UUID) (*UploadProgress, error) {
	if p.redis == nil {
		return nil, nil
	}
	data, err := p.redis.Get(ctx, "ingest:progress:"+uploadID.String()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read upload progress: %w", err)
	}
	var progress UploadProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("corrupt upload progress: %w", err)
	}
	return &progress, nil
}

// layoutHash fingerprints a header layout so repeat uploads of the same file
// shape reuse the mapping the caller last confirmed.
func layoutHash(headers []string) string {
	h := sha256.New()
	for _, header := range headers {
		h.Write([]byte(NormalizeHeader(header)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (p *Pipeline) saveLayoutMapping(ctx context.Context, typeID uuid.UUID, headers []string, mapping *MappingResult) {
	if p.redis == nil {
		return
	}
	data, _ := json.Marshal(mapping)
	key := fmt.Sprintf("ingest:layout:%s:%s", typeID, layoutHash(headers))
	if err := p.redis.Set(ctx, key, data, 30*24*time.Hour).Err(); err != nil {
		logger.Warn("failed to save layout mapping", "document_type_id", typeID, "error", err)
	}
}

func (p *Pipeline) loadLayoutMapping(ctx context.Context, typeID uuid.UUID, headers []string) *MappingResult {
	if p.redis == nil {
		return nil
	}
	key := fmt.Sprintf("ingest:layout:%s:%s", typeID, layoutHash(headers))
	data, err := p.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	var mapping MappingResult
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil
	}
	return &mapping
}

// recordUpload writes an audit row for the upload itself.
func (p *Pipeline) recordUpload(ctx context.Context, typeID uuid.UUID, result *IngestResult) {
	errorsJSON, _ := json.Marshal(result.Errors)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO spreadsheet_uploads
		(id, document_type_id, total_rows, valid_rows, invalid_rows, errors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, result.UploadID, typeID, result.TotalRows, result.ValidRows, result.InvalidRows, errorsJSON)
	if err != nil {
		logger.Warn("failed to record upload", "upload_id", result.UploadID, "error", err)
	}
}
