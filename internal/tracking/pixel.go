package tracking

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/docsend/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// PixelHandler serves first-party open/click/unsubscribe tracking endpoints.
// Hits are folded into the same event log the provider webhooks feed, with
// synthesized event ids so a mail client re-fetching the pixel stays
// idempotent within its dedup window.
type PixelHandler struct {
	tracker *Tracker
}

// NewPixelHandler creates the tracking endpoint handler.
func NewPixelHandler(tracker *Tracker) *PixelHandler {
	return &PixelHandler{tracker: tracker}
}

// Routes returns the tracking router, intended to be mounted at /t.
func (h *PixelHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/open/{data}", h.HandleOpen)
	r.Get("/click/{data}", h.HandleClick)
	r.Get("/unsubscribe/{data}", h.HandleUnsubscribe)
	return r
}

// HandleOpen records an open and serves the pixel. Every failure path still
// serves the pixel; tracking must never break image rendering.
func (h *PixelHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	trackingID, _, ok := decodeLink(chi.URLParam(r, "data"), 1)
	if !ok {
		h.servePixel(w)
		return
	}

	h.apply(r, WebhookEvent{
		EventType:       "opened",
		TrackingID:      trackingID,
		ProviderEventID: dedupID("open", trackingID, ""),
	})
	h.servePixel(w)
}

// HandleClick records a click and redirects to the original URL.
func (h *PixelHandler) HandleClick(w http.ResponseWriter, r *http.Request) {
	trackingID, target, ok := decodeLink(chi.URLParam(r, "data"), 2)
	if !ok || !strings.HasPrefix(target, "http") {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	h.apply(r, WebhookEvent{
		EventType:       "clicked",
		TrackingID:      trackingID,
		ProviderEventID: dedupID("click", trackingID, target),
		URL:             target,
	})
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// HandleUnsubscribe records the annotation and confirms to the recipient.
func (h *PixelHandler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	trackingID, _, ok := decodeLink(chi.URLParam(r, "data"), 1)
	if !ok {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	h.apply(r, WebhookEvent{
		EventType:       "unsubscribed",
		TrackingID:      trackingID,
		ProviderEventID: "unsub:" + trackingID,
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from us.</p>
	</body></html>`))
}

func (h *PixelHandler) apply(r *http.Request, ev WebhookEvent) {
	ev.Timestamp = WebhookTimestamp{Time: time.Now().UTC()}
	ev.UserAgent = r.UserAgent()
	ev.IPAddress = realIP(r)

	if _, err := h.tracker.ProcessEvent(r.Context(), ev); err != nil {
		logger.Debug("tracking hit dropped",
			"event_type", ev.EventType,
			"tracking_id", ev.TrackingID,
			"error", err.Error())
	}
}

func (h *PixelHandler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

// decodeLink unpacks a base64 payload of pipe-separated parts. The first
// part is always the tracking id.
func decodeLink(encoded string, wantParts int) (trackingID, extra string, ok bool) {
	decoded, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) < wantParts || parts[0] == "" {
		return "", "", false
	}
	if len(parts) > 1 {
		extra = parts[1]
	}
	return parts[0], extra, true
}

// dedupID synthesizes a provider event id for a first-party hit. The minute
// bucket lets a re-fetching mail client collapse to one event without
// suppressing genuinely repeated engagement later.
func dedupID(kind, trackingID, target string) string {
	bucket := time.Now().UTC().Unix() / 60
	if target == "" {
		return fmt.Sprintf("%s:%s:%d", kind, trackingID, bucket)
	}
	sum := sha256.Sum256([]byte(target))
	return fmt.Sprintf("%s:%s:%s:%d", kind, trackingID, hex.EncodeToString(sum[:8]), bucket)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
