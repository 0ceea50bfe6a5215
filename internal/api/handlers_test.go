package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/ignite/docsend/internal/config"
	"github.com/ignite/docsend/internal/dispatch"
	"github.com/ignite/docsend/internal/template"
	"github.com/ignite/docsend/internal/tracking"
)

func newTestServer(t *testing.T) (*httptest.Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	jobs := dispatch.NewJobStore(db)
	handlers := NewHandlers(config.Config{}, Deps{
		DB:       db,
		Tpls:     template.NewStore(db),
		Renderer: template.NewRenderer(),
		Jobs:     jobs,
		Tracker:  tracking.NewTracker(jobs, tracking.NewEventStore(db)),
	})
	srv := httptest.NewServer(SetupRoutes(handlers))
	t.Cleanup(srv.Close)
	return srv, mock
}

// =============================================================================
// Webhook Ingress
// =============================================================================

func TestReceiveDeliveryEvents_AcknowledgesGarbage(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/webhooks/delivery", "application/json",
		strings.NewReader("this is not json"))
	if err != nil {
		t.Fatalf("POST webhook: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200; the provider must never see a failure", resp.StatusCode)
	}
	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["received"] != 0 {
		t.Errorf("received = %d, want 0", body["received"])
	}
}

func TestReceiveDeliveryEvents_CountsDropped(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := `[{"event_type":"teleported","tracking_id":"trk-1","event_id":"e1"}]`
	resp, err := http.Post(srv.URL+"/webhooks/delivery", "application/json",
		strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST webhook: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var result tracking.BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.Received != 1 || result.Dropped != 1 {
		t.Errorf("result = %+v, want received 1, dropped 1", result)
	}
}

// =============================================================================
// Template Preview
// =============================================================================

var templatePreviewColumns = []string{
	"id", "document_type_id", "name", "subject", "content", "blob_ref", "is_active", "created_at", "updated_at",
}

func expectTemplate(mock sqlmock.Sqlmock, id uuid.UUID, subject, content string) {
	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM templates WHERE id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(templatePreviewColumns).
			AddRow(id.String(), uuid.NewString(), "Offer Letter", subject, content, "", true, now, now))
}

func TestPreviewTemplate_RendersSubjectAndContent(t *testing.T) {
	srv, mock := newTestServer(t)
	templateID := uuid.New()

	expectTemplate(mock, templateID,
		"Your offer, {{ first_name }}",
		"Dear {{ first_name }}, welcome to {{ company | default: \"Ignite\" }}.")

	body := `{"values":{"first_name":"Alice"}}`
	resp, err := http.Post(srv.URL+"/api/templates/"+templateID.String()+"/preview",
		"application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST preview: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out["subject"] != "Your offer, Alice" {
		t.Errorf("subject = %q", out["subject"])
	}
	if out["content"] != "Dear Alice, welcome to Ignite." {
		t.Errorf("content = %q", out["content"])
	}
}

func TestPreviewTemplate_BadTemplateSyntax(t *testing.T) {
	srv, mock := newTestServer(t)
	templateID := uuid.New()

	expectTemplate(mock, templateID, "", "{% if %}broken")

	resp, err := http.Post(srv.URL+"/api/templates/"+templateID.String()+"/preview",
		"application/json", strings.NewReader(`{"values":{}}`))
	if err != nil {
		t.Fatalf("POST preview: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPreviewTemplate_NotFound(t *testing.T) {
	srv, mock := newTestServer(t)
	templateID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM templates WHERE id`).
		WillReturnRows(sqlmock.NewRows(templatePreviewColumns))

	resp, err := http.Post(srv.URL+"/api/templates/"+templateID.String()+"/preview",
		"application/json", strings.NewReader(`{"values":{}}`))
	if err != nil {
		t.Fatalf("POST preview: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPreviewTemplate_BadID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/templates/not-a-uuid/preview",
		"application/json", strings.NewReader(`{"values":{}}`))
	if err != nil {
		t.Fatalf("POST preview: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
