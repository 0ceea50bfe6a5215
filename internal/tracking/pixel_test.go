package tracking

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/ignite/docsend/internal/dispatch"
)

func newPixelServer(t *testing.T) (*httptest.Server, sqlmock.Sqlmock) {
	t.Helper()
	tracker, mock := newMockTracker(t)
	srv := httptest.NewServer(NewPixelHandler(tracker).Routes())
	t.Cleanup(srv.Close)
	return srv, mock
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestHandleOpen_RecordsAndServesPixel(t *testing.T) {
	srv, mock := newPixelServer(t)
	jobID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM email_jobs WHERE tracking_id`).
		WithArgs("trk-1").
		WillReturnRows(trackerJobRow(jobID, "trk-1", dispatch.StatusSent))
	mock.ExpectExec(`INSERT INTO delivery_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM delivery_events`).
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow(eventRow(jobID, EventOpened, time.Now().UTC())...))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE email_jobs SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE email_jobs SET opened_at`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := http.Get(srv.URL + "/open/" + dispatch.EncodeOpenLink("trk-1"))
	if err != nil {
		t.Fatalf("GET open: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/gif" {
		t.Errorf("Content-Type = %q, want image/gif", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, pixelGIF) {
		t.Error("response body is not the tracking pixel")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHandleOpen_UnknownTrackingIDStillServesPixel(t *testing.T) {
	srv, mock := newPixelServer(t)

	mock.ExpectQuery(`SELECT .+ FROM email_jobs WHERE tracking_id`).
		WillReturnRows(sqlmock.NewRows(trackerJobColumns))

	resp, err := http.Get(srv.URL + "/open/" + dispatch.EncodeOpenLink("ghost"))
	if err != nil {
		t.Fatalf("GET open: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/gif" {
		t.Errorf("Content-Type = %q, want image/gif", ct)
	}
}

func TestHandleOpen_MalformedPayloadServesPixel(t *testing.T) {
	srv, _ := newPixelServer(t)

	// Not valid base64; no database activity expected.
	resp, err := http.Get(srv.URL + "/open/%21%21%21")
	if err != nil {
		t.Fatalf("GET open: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleClick_RecordsAndRedirects(t *testing.T) {
	srv, mock := newPixelServer(t)
	jobID := uuid.New()
	target := "https://example.com/offer"

	mock.ExpectQuery(`SELECT .+ FROM email_jobs WHERE tracking_id`).
		WithArgs("trk-1").
		WillReturnRows(trackerJobRow(jobID, "trk-1", dispatch.StatusDelivered))
	mock.ExpectExec(`INSERT INTO delivery_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM delivery_events`).
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow(eventRow(jobID, EventClicked, time.Now().UTC())...))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE email_jobs SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE email_jobs SET clicked_at`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := noRedirectClient().Get(srv.URL + "/click/" + dispatch.EncodeClickLink("trk-1", target))
	if err != nil {
		t.Fatalf("GET click: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != target {
		t.Errorf("Location = %q, want %q", loc, target)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHandleClick_RejectsNonHTTPTarget(t *testing.T) {
	srv, _ := newPixelServer(t)

	resp, err := noRedirectClient().Get(srv.URL + "/click/" + dispatch.EncodeClickLink("trk-1", "javascript:alert(1)"))
	if err != nil {
		t.Fatalf("GET click: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleUnsubscribe_SetsAnnotation(t *testing.T) {
	srv, mock := newPixelServer(t)
	jobID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM email_jobs WHERE tracking_id`).
		WithArgs("trk-1").
		WillReturnRows(trackerJobRow(jobID, "trk-1", dispatch.StatusDelivered))
	mock.ExpectExec(`INSERT INTO delivery_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE email_jobs SET unsubscribed = TRUE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp, err := http.Get(srv.URL + "/unsubscribe/" + dispatch.EncodeOpenLink("trk-1"))
	if err != nil {
		t.Fatalf("GET unsubscribe: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "unsubscribed") {
		t.Error("confirmation page missing")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDecodeLink(t *testing.T) {
	tests := []struct {
		name      string
		encoded   string
		wantParts int
		wantID    string
		wantExtra string
		wantOK    bool
	}{
		{"open link", dispatch.EncodeOpenLink("trk-1"), 1, "trk-1", "", true},
		{"click link", dispatch.EncodeClickLink("trk-1", "https://example.com?a=1|b=2"), 2, "trk-1", "https://example.com?a=1|b=2", true},
		{"click payload missing target", dispatch.EncodeOpenLink("trk-1"), 2, "", "", false},
		{"empty tracking id", dispatch.EncodeOpenLink(""), 1, "", "", false},
		{"not base64", "###", 1, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, extra, ok := decodeLink(tt.encoded, tt.wantParts)
			if ok != tt.wantOK {
				t.Fatalf("decodeLink() ok = %v, want %v", ok, tt.wantOK)
			}
			if id != tt.wantID || extra != tt.wantExtra {
				t.Errorf("decodeLink() = (%q, %q), want (%q, %q)", id, extra, tt.wantID, tt.wantExtra)
			}
		})
	}
}

func TestDedupID_DistinguishesTargets(t *testing.T) {
	a := dedupID("click", "trk-1", "https://example.com/a")
	b := dedupID("click", "trk-1", "https://example.com/b")
	if a == b {
		t.Error("different targets produced the same dedup id")
	}
	if !strings.HasPrefix(a, "click:trk-1:") {
		t.Errorf("dedup id = %q, want click:trk-1: prefix", a)
	}
}
