package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/docsend/internal/schema"
)

// newTestPipeline wires a pipeline over sqlmock and miniredis and queues the
// document-type lookup every Ingest call starts with.
func newTestPipeline(t *testing.T) (*Pipeline, sqlmock.Sqlmock, uuid.UUID) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	typeID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM document_types WHERE id`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "type_key", "display_name", "description", "data_source", "is_active", "created_at", "updated_at",
		}).AddRow(typeID.String(), "offer_letter", "Offer Letter", "", "spreadsheet", true, now, now))
	mock.ExpectQuery(`SELECT .+ FROM field_definitions`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "document_type_id", "field_key", "display_name", "field_type",
			"is_required", "validation_rule", "default_value", "sort_order", "created_at", "updated_at",
		}).
			AddRow(uuid.NewString(), typeID.String(), "employee_id", "Employee ID", "text", true, "", nil, 0, now, now).
			AddRow(uuid.NewString(), typeID.String(), "email", "Email", "email", true, "", nil, 1, now, now).
			AddRow(uuid.NewString(), typeID.String(), "salary", "Salary", "currency", false, "", nil, 2, now, now))

	return NewPipeline(db, client, schema.NewRegistry(db)), mock, typeID
}

func TestIngest_PartialSuccess(t *testing.T) {
	p, mock, typeID := newTestPipeline(t)

	// Row 1 is clean, row 2 has a malformed email, row 3 is blank.
	csv := []byte("Emp ID,Work Email,Salary\n" +
		"E1,alice@example.com,\"$85,000\"\n" +
		"E2,not-an-email,90000\n" +
		",,\n")

	mock.ExpectExec(`INSERT INTO row_records`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO spreadsheet_uploads`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := p.Ingest(context.Background(), typeID, csv, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if result.TotalRows != 2 {
		t.Errorf("TotalRows = %d, want 2", result.TotalRows)
	}
	if result.ValidRows != 1 {
		t.Errorf("ValidRows = %d, want 1", result.ValidRows)
	}
	if result.InvalidRows != 1 {
		t.Errorf("InvalidRows = %d, want 1", result.InvalidRows)
	}
	if result.SkippedEmpty != 1 {
		t.Errorf("SkippedEmpty = %d, want 1", result.SkippedEmpty)
	}

	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly one", result.Errors)
	}
	e := result.Errors[0]
	if e.RowNumber != 2 || e.FieldKey != "email" || e.Reason != "invalid format" {
		t.Errorf("row error = %+v, want row 2 / email / invalid format", e)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIngest_MalformedRowDoesNotConsumeNeighbor(t *testing.T) {
	p, mock, typeID := newTestPipeline(t)

	// The stray quote on E1's row must produce one row error while E2's row
	// survives untouched.
	csv := []byte("Emp ID,Work Email\n" +
		"\"E1\"x,alice@example.com\n" +
		"E2,bob@example.com\n")

	mock.ExpectExec(`INSERT INTO row_records`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO spreadsheet_uploads`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := p.Ingest(context.Background(), typeID, csv, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if result.TotalRows != 2 || result.ValidRows != 1 || result.InvalidRows != 1 {
		t.Errorf("total/valid/invalid = %d/%d/%d, want 2/1/1",
			result.TotalRows, result.ValidRows, result.InvalidRows)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %+v, want exactly one", result.Errors)
	}
	e := result.Errors[0]
	if e.RowNumber != 1 || !strings.Contains(e.Reason, "malformed CSV") {
		t.Errorf("row error = %+v, want row 1 flagged as malformed", e)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIngest_EmptyRowsValidatedWhenSkipDisabled(t *testing.T) {
	p, mock, typeID := newTestPipeline(t)
	p.SetSkipEmptyRows(false)

	csv := []byte("Emp ID,Work Email\nE1,alice@example.com\n,\n")

	mock.ExpectExec(`INSERT INTO row_records`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO spreadsheet_uploads`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := p.Ingest(context.Background(), typeID, csv, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if result.SkippedEmpty != 0 {
		t.Errorf("SkippedEmpty = %d, want 0", result.SkippedEmpty)
	}
	if result.TotalRows != 2 || result.ValidRows != 1 || result.InvalidRows != 1 {
		t.Errorf("total/valid/invalid = %d/%d/%d, want 2/1/1",
			result.TotalRows, result.ValidRows, result.InvalidRows)
	}
}

func TestIngest_MissingRecipientIdentifier(t *testing.T) {
	p, mock, typeID := newTestPipeline(t)

	// The identifier column is absent entirely; the email satisfies its own
	// required check but the row has nothing to key the recipient on.
	csv := []byte("Work Email\nalice@example.com\n")

	mock.ExpectExec(`INSERT INTO spreadsheet_uploads`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := p.Ingest(context.Background(), typeID, csv, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.ValidRows != 0 || result.InvalidRows != 1 {
		t.Errorf("valid/invalid = %d/%d, want 0/1", result.ValidRows, result.InvalidRows)
	}
	found := false
	for _, e := range result.Errors {
		if e.FieldKey == "employee_id" {
			found = true
		}
	}
	if !found {
		t.Errorf("Errors = %v, want one naming employee_id", result.Errors)
	}
}

func TestIngest_MappingOverrides(t *testing.T) {
	p, mock, typeID := newTestPipeline(t)

	// "Who" would never map heuristically; the override pins it.
	csv := []byte("Who,Work Email\nE7,carol@example.com\n")

	mock.ExpectExec(`INSERT INTO row_records`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO spreadsheet_uploads`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	overrides := []MappingOverride{
		{ColumnName: "Who", FieldKey: "employee_id"},
		{ColumnName: "Work Email", FieldKey: "email"},
	}
	result, err := p.Ingest(context.Background(), typeID, csv, overrides)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.ValidRows != 1 {
		t.Fatalf("ValidRows = %d, want 1: %+v", result.ValidRows, result.Errors)
	}

	who := result.Mapping.Mappings[0]
	if who.FieldKey != "employee_id" || who.Confidence != ConfidenceExact {
		t.Errorf("override mapping = %+v", who)
	}
}

func TestIngest_ParseErrorAbortsUpload(t *testing.T) {
	p, _, typeID := newTestPipeline(t)

	if _, err := p.Ingest(context.Background(), typeID, []byte("   "), nil); err == nil {
		t.Fatal("expected an error for an empty upload")
	}
}

func TestProgressRoundTrip(t *testing.T) {
	p, mock, typeID := newTestPipeline(t)

	csv := []byte("Emp ID,Work Email\nE1,alice@example.com\n")
	mock.ExpectExec(`INSERT INTO row_records`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO spreadsheet_uploads`).WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := p.Ingest(context.Background(), typeID, csv, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	progress, err := p.Progress(context.Background(), result.UploadID)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress == nil || progress.ValidRows != 1 {
		t.Errorf("progress = %+v, want 1 valid row", progress)
	}

	unknown, err := p.Progress(context.Background(), uuid.New())
	if err != nil || unknown != nil {
		t.Errorf("unknown upload progress = (%+v, %v), want (nil, nil)", unknown, err)
	}
}

func TestApplyOverrides_UnknownFieldWarns(t *testing.T) {
	fields := []schema.FieldDefinition{
		{FieldKey: "email", FieldType: schema.FieldTypeEmail, IsRequired: true},
	}
	result := applyOverrides([]string{"Email"}, fields, []MappingOverride{
		{ColumnName: "Email", FieldKey: "no_such_field"},
	})
	if len(result.Warnings) == 0 {
		t.Error("expected a warning for the unknown override target")
	}
	if len(result.UnmappedRequired) != 1 {
		t.Errorf("UnmappedRequired = %v, want [email]", result.UnmappedRequired)
	}
}

func TestRecipientKeys(t *testing.T) {
	fields := []schema.FieldDefinition{
		{FieldKey: "email", FieldType: schema.FieldTypeEmail, IsRequired: true},
		{FieldKey: "employee_id", FieldType: schema.FieldTypeText, IsRequired: true},
		{FieldKey: "full_name", FieldType: schema.FieldTypeText},
	}
	if got := recipientIdentifierKey(fields); got != "employee_id" {
		t.Errorf("recipientIdentifierKey = %q, want employee_id", got)
	}
	if got := recipientNameKey(fields); got != "full_name" {
		t.Errorf("recipientNameKey = %q, want full_name", got)
	}
}
