package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/ignite/docsend/internal/docgen"
	"github.com/ignite/docsend/internal/ingest"
	"github.com/ignite/docsend/internal/schema"
	"github.com/ignite/docsend/internal/template"
)

func newMockBuilder(t *testing.T) (*Builder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	b := NewBuilder(
		schema.NewRegistry(db),
		ingest.NewRowStore(db),
		template.NewStore(db),
		docgen.NewStore(db),
		NewJobStore(db),
		"",
	)
	return b, mock
}

func expectTypeWithFields(mock sqlmock.Sqlmock, typeID uuid.UUID) {
	now := time.Now()
	typeRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"id", "type_key", "display_name", "description", "data_source", "is_active", "created_at", "updated_at",
		}).AddRow(typeID.String(), "offer_letter", "Offer Letter", "", "spreadsheet", true, now, now)
	}
	fieldRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"id", "document_type_id", "field_key", "display_name", "field_type",
			"is_required", "validation_rule", "default_value", "sort_order", "created_at", "updated_at",
		}).
			AddRow(uuid.NewString(), typeID.String(), "employee_id", "Employee ID", "text", true, "", nil, 0, now, now).
			AddRow(uuid.NewString(), typeID.String(), "first_name", "First Name", "text", false, "", nil, 1, now, now).
			AddRow(uuid.NewString(), typeID.String(), "email", "Email", "email", true, "", nil, 2, now, now)
	}

	// GetType loads the type and its fields, then Build lists fields again.
	mock.ExpectQuery(`SELECT .+ FROM document_types WHERE id`).WillReturnRows(typeRows())
	mock.ExpectQuery(`SELECT .+ FROM field_definitions`).WillReturnRows(fieldRows())
	mock.ExpectQuery(`SELECT .+ FROM field_definitions`).WillReturnRows(fieldRows())
}

func expectRowRecord(mock sqlmock.Sqlmock, rowID, typeID uuid.UUID, recipientID string, values string) {
	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM row_records WHERE id`).
		WithArgs(rowID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "document_type_id", "recipient_id", "recipient_name", "field_values",
			"is_active", "source", "upload_id", "created_at", "updated_at",
		}).AddRow(rowID.String(), typeID.String(), recipientID, "", []byte(values), true, "spreadsheet", nil, now, now))
}

func TestBuild_PerRecipientOutcomes(t *testing.T) {
	b, mock := newMockBuilder(t)
	typeID := uuid.New()
	goodRow := uuid.New()
	noEmailRow := uuid.New()

	expectTypeWithFields(mock, typeID)
	expectRowRecord(mock, goodRow, typeID, "E1",
		`{"employee_id":"E1","first_name":"Alice","email":"alice@example.com"}`)
	expectRowRecord(mock, noEmailRow, typeID, "E2",
		`{"employee_id":"E2","first_name":"Bob","email":""}`)

	mock.ExpectExec(`INSERT INTO send_batches`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO email_jobs`).WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := b.Build(context.Background(), SendRequest{
		DocumentTypeID: typeID,
		RowIDs:         []uuid.UUID{goodRow, noEmailRow},
		Subject:        "Welcome {{first_name}}",
		Body:           "Hello {{first_name}}, your id is {{employee_id}}.",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if result.Requested != 2 || result.Created != 1 || result.Skipped != 1 {
		t.Fatalf("result = %d/%d/%d, want 2 requested, 1 created, 1 skipped",
			result.Requested, result.Created, result.Skipped)
	}

	var created, failed *RecipientResult
	for i := range result.Recipients {
		r := &result.Recipients[i]
		switch r.RowID {
		case goodRow:
			created = r
		case noEmailRow:
			failed = r
		}
	}
	if created == nil || created.TrackingID == "" || created.JobID == uuid.Nil {
		t.Errorf("created recipient missing job identifiers: %+v", created)
	}
	if failed == nil || failed.Error == "" {
		t.Errorf("recipient without email got no error: %+v", failed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestBuild_ValidatesRequest(t *testing.T) {
	b, _ := newMockBuilder(t)
	ctx := context.Background()
	rowID := uuid.New()

	cases := []SendRequest{
		{DocumentTypeID: uuid.New(), RowIDs: []uuid.UUID{rowID}, Body: "b"},    // no subject
		{DocumentTypeID: uuid.New(), RowIDs: []uuid.UUID{rowID}, Subject: "s"}, // no body
		{DocumentTypeID: uuid.New(), Subject: "s", Body: "b"},                  // no rows
	}
	for i, req := range cases {
		if _, err := b.Build(ctx, req); err == nil {
			t.Errorf("case %d: invalid request accepted", i)
		}
	}
}

func TestBuild_MissingRowRecorded(t *testing.T) {
	b, mock := newMockBuilder(t)
	typeID := uuid.New()
	unknownRow := uuid.New()

	expectTypeWithFields(mock, typeID)
	mock.ExpectQuery(`SELECT .+ FROM row_records WHERE id`).
		WithArgs(unknownRow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO send_batches`).WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := b.Build(context.Background(), SendRequest{
		DocumentTypeID: typeID,
		RowIDs:         []uuid.UUID{unknownRow},
		Subject:        "s",
		Body:           "b",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.Created != 0 || result.Skipped != 1 {
		t.Errorf("result = %+v, want the unknown row skipped", result)
	}
}

func TestEmailFieldKey(t *testing.T) {
	fields := []schema.FieldDefinition{
		{FieldKey: "name", FieldType: schema.FieldTypeText},
		{FieldKey: "work_email", FieldType: schema.FieldTypeEmail},
		{FieldKey: "alt_email", FieldType: schema.FieldTypeEmail},
	}
	if got := emailFieldKey(fields); got != "work_email" {
		t.Errorf("emailFieldKey = %q, want work_email", got)
	}
	if got := emailFieldKey(nil); got != "" {
		t.Errorf("emailFieldKey(nil) = %q, want empty", got)
	}
}
