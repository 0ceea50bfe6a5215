package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ignite/docsend/internal/config"
)

func newHTTPProvider(baseURL string) *HTTPProvider {
	return NewHTTPProvider(config.ProviderConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		TimeoutSeconds: 5,
	})
}

func TestHTTPProvider_Send(t *testing.T) {
	var got SendMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"message_id": "prov-123"})
	}))
	defer server.Close()

	msgID, err := newHTTPProvider(server.URL).Send(context.Background(), SendMessage{
		To:         "alice@example.com",
		Subject:    "Hi",
		Body:       "Body",
		TrackingID: "trk-1",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msgID != "prov-123" {
		t.Errorf("msgID = %q, want prov-123", msgID)
	}
	if got.TrackingID != "trk-1" {
		t.Errorf("provider received tracking id %q", got.TrackingID)
	}
}

func TestHTTPProvider_Rejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "mailbox does not exist"})
	}))
	defer server.Close()

	_, err := newHTTPProvider(server.URL).Send(context.Background(), SendMessage{To: "x@example.com"})
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("error = %v, want ErrProviderRejected", err)
	}
}

func TestHTTPProvider_MissingMessageID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	if _, err := newHTTPProvider(server.URL).Send(context.Background(), SendMessage{To: "x@example.com"}); err == nil {
		t.Fatal("accepted a response without a message id")
	}
}

func TestStubProvider(t *testing.T) {
	stub := NewStubProvider()

	if _, err := stub.Send(context.Background(), SendMessage{To: "a@example.com"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	stub.FailNext(errors.New("boom"))
	if _, err := stub.Send(context.Background(), SendMessage{To: "b@example.com"}); err == nil {
		t.Fatal("FailNext did not fail the send")
	}

	if _, err := stub.Send(context.Background(), SendMessage{To: "c@example.com"}); err != nil {
		t.Fatalf("send after FailNext: %v", err)
	}
	if got := len(stub.Sent()); got != 2 {
		t.Errorf("Sent() length = %d, want 2", got)
	}
}
