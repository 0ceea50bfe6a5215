package api

import (
	"io"
	"net/http"

	"github.com/ignite/docsend/internal/pkg/httputil"
	"github.com/ignite/docsend/internal/pkg/logger"
	"github.com/ignite/docsend/internal/tracking"
)

// webhookMaxBytes bounds one webhook delivery. Providers batch aggressively
// but a single call should never approach this.
const webhookMaxBytes = 10 << 20

// ReceiveDeliveryEvents ingests provider delivery events, single or batched.
// It always acknowledges with 200 once the payload has been read: a non-2xx
// makes the provider re-deliver the whole batch, and the event log already
// absorbs duplicates, so malformed or unknown events are logged and dropped
// instead of surfaced.
func (h *Handlers) ReceiveDeliveryEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBytes))
	if err != nil {
		logger.Warn("failed to read webhook body", "error", err.Error())
		httputil.OK(w, map[string]any{"received": 0})
		return
	}

	events, err := tracking.ParseWebhookPayload(body)
	if err != nil {
		logger.Warn("unparseable webhook payload", "error", err.Error())
		httputil.OK(w, map[string]any{"received": 0})
		return
	}

	result := h.deps.Tracker.ProcessBatch(r.Context(), events)
	logger.Debug("webhook batch processed",
		"received", result.Received,
		"applied", result.Applied,
		"duplicates", result.Duplicates,
		"dropped", result.Dropped)
	httputil.OK(w, result)
}
