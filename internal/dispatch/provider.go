package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/docsend/internal/config"
)

// ErrProviderRejected wraps an immediate provider rejection. The job moves
// straight to failed; any further attempt is an explicit retry.
var ErrProviderRejected = errors.New("provider rejected submission")

// SendMessage is one outbound email handed to the transport provider.
type SendMessage struct {
	To          string            `json:"to"`
	ToName      string            `json:"to_name,omitempty"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Attachments []string          `json:"attachments,omitempty"`
	TrackingID  string            `json:"tracking_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Provider is the outbound transport boundary. Implementations return the
// provider's opaque message id on acceptance.
type Provider interface {
	Send(ctx context.Context, msg SendMessage) (providerMsgID string, err error)
}

// =============================================================================
// HTTP Provider
// =============================================================================

// HTTPProvider submits messages to a remote transport API.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider client from config. The client timeout
// bounds every submission; a timed-out submission fails the job.
func NewHTTPProvider(cfg config.ProviderConfig) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
	}
}

type providerSendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// Send posts one message to the provider's send endpoint.
func (p *HTTPProvider) Send(ctx context.Context, msg SendMessage) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshaling send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading send response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		var parsed providerSendResponse
		reason := string(body)
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
			reason = parsed.Error
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrProviderRejected, resp.StatusCode, reason)
	}

	var parsed providerSendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding send response: %w", err)
	}
	if parsed.MessageID == "" {
		return "", fmt.Errorf("provider returned no message id")
	}
	return parsed.MessageID, nil
}

// =============================================================================
// Stub Provider
// =============================================================================

// StubProvider accepts everything locally. Used for development and tests.
type StubProvider struct {
	mu       sync.Mutex
	sent     []SendMessage
	failNext error
	delay    time.Duration
}

// NewStubProvider creates an always-accepting provider.
func NewStubProvider() *StubProvider {
	return &StubProvider{}
}

// Send records the message and returns a generated message id.
func (p *StubProvider) Send(ctx context.Context, msg SendMessage) (string, error) {
	p.mu.Lock()
	failErr := p.failNext
	p.failNext = nil
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if failErr != nil {
		return "", failErr
	}

	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()
	return "stub-" + uuid.NewString(), nil
}

// FailNext makes the next Send return the given error.
func (p *StubProvider) FailNext(err error) {
	p.mu.Lock()
	p.failNext = err
	p.mu.Unlock()
}

// SetDelay makes every Send block for d before responding.
func (p *StubProvider) SetDelay(d time.Duration) {
	p.mu.Lock()
	p.delay = d
	p.mu.Unlock()
}

// Sent returns a copy of everything accepted so far.
func (p *StubProvider) Sent() []SendMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SendMessage, len(p.sent))
	copy(out, p.sent)
	return out
}
