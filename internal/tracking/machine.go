package tracking

import (
	"time"

	"github.com/ignite/docsend/internal/dispatch"
)

// eventStatus maps each event type to the primary status it implies.
// Annotation events imply no status change.
var eventStatus = map[EventType]dispatch.JobStatus{
	EventSent:      dispatch.StatusSent,
	EventDelivered: dispatch.StatusDelivered,
	EventOpened:    dispatch.StatusOpened,
	EventClicked:   dispatch.StatusClicked,
	EventBounced:   dispatch.StatusBounced,
	EventDropped:   dispatch.StatusDropped,
	EventFailed:    dispatch.StatusFailed,
}

// eventTimestampColumn maps event types to the job timestamp they stamp.
var eventTimestampColumn = map[EventType]string{
	EventSent:      "sent_at",
	EventDelivered: "delivered_at",
	EventOpened:    "opened_at",
	EventClicked:   "clicked_at",
	EventBounced:   "bounced_at",
	EventDropped:   "dropped_at",
}

// IsAnnotation reports whether the event is a terminal side-annotation that
// never changes the primary status.
func (t EventType) IsAnnotation() bool {
	return t == EventSpamReported || t == EventUnsubscribed
}

// DeriveStatus folds an event log into the most-advanced primary status.
// The zero-event result is the base status passed in; events only ever
// advance it. Open/click events advance through the delivery branch even if
// the delivered event has not arrived yet.
func DeriveStatus(base dispatch.JobStatus, events []DeliveryEvent) dispatch.JobStatus {
	status := base
	for _, ev := range events {
		implied, ok := eventStatus[ev.EventType]
		if !ok {
			continue
		}
		if implied.Rank() > status.Rank() {
			status = implied
		}
	}
	return status
}

// DeriveTimestamps collects the earliest provider timestamp per timestamp
// column across an event log. Each flag is additive: an opened-at can be
// recorded before a delivered-at without either being lost.
func DeriveTimestamps(events []DeliveryEvent) map[string]time.Time {
	out := make(map[string]time.Time)
	for _, ev := range events {
		col, ok := eventTimestampColumn[ev.EventType]
		if !ok || ev.Timestamp.IsZero() {
			continue
		}
		if existing, seen := out[col]; !seen || ev.Timestamp.Before(existing) {
			out[col] = ev.Timestamp
		}
	}
	return out
}
