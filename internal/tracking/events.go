// Package tracking applies provider delivery events to email jobs. Status is
// event-sourced: the append-only event log is the source of truth and the
// job's status field is a derived view, so duplicated and out-of-order
// webhooks cannot corrupt state.
package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is a provider delivery event kind.
type EventType string

const (
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventDropped      EventType = "dropped"
	EventFailed       EventType = "failed"
	EventSpamReported EventType = "spam_reported"
	EventUnsubscribed EventType = "unsubscribed"
)

// knownEventTypes maps the wire names providers use onto our event types.
var knownEventTypes = map[string]EventType{
	"sent":          EventSent,
	"delivery":      EventDelivered,
	"delivered":     EventDelivered,
	"open":          EventOpened,
	"opened":        EventOpened,
	"click":         EventClicked,
	"clicked":       EventClicked,
	"bounce":        EventBounced,
	"bounced":       EventBounced,
	"drop":          EventDropped,
	"dropped":       EventDropped,
	"failed":        EventFailed,
	"spam_report":   EventSpamReported,
	"spam_reported": EventSpamReported,
	"complaint":     EventSpamReported,
	"unsubscribe":   EventUnsubscribed,
	"unsubscribed":  EventUnsubscribed,
}

// ParseEventType resolves a provider wire name. ok is false for unknown types.
func ParseEventType(wire string) (EventType, bool) {
	t, ok := knownEventTypes[wire]
	return t, ok
}

// DeliveryEvent is one applied provider event. Rows are append-only.
type DeliveryEvent struct {
	ID              uuid.UUID `db:"id" json:"id"`
	JobID           uuid.UUID `db:"job_id" json:"job_id"`
	TrackingID      string    `db:"tracking_id" json:"tracking_id"`
	EventType       EventType `db:"event_type" json:"event_type"`
	ProviderEventID string    `db:"provider_event_id" json:"provider_event_id"`
	ProviderMsgID   string    `db:"provider_msg_id" json:"provider_msg_id,omitempty"`
	Timestamp       time.Time `db:"timestamp" json:"timestamp"`
	Reason          string    `db:"reason" json:"reason,omitempty"`
	URL             string    `db:"url" json:"url,omitempty"`
	UserAgent       string    `db:"user_agent" json:"user_agent,omitempty"`
	IPAddress       string    `db:"ip_address" json:"ip_address,omitempty"`
	ReceivedAt      time.Time `db:"received_at" json:"received_at"`
}

// EventStore persists the delivery event log.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates an event store.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Insert appends one event. The unique index on provider_event_id makes
// replayed webhooks no-ops; the bool reports whether the event was new.
func (s *EventStore) Insert(ctx context.Context, ev *DeliveryEvent) (bool, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.ReceivedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_events
			(id, job_id, tracking_id, event_type, provider_event_id, provider_msg_id,
			 timestamp, reason, url, user_agent, ip_address, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (provider_event_id) DO NOTHING`,
		ev.ID, ev.JobID, ev.TrackingID, ev.EventType, ev.ProviderEventID,
		ev.ProviderMsgID, ev.Timestamp, ev.Reason, ev.URL, ev.UserAgent,
		ev.IPAddress, ev.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert delivery event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByJob returns a job's events ordered by provider timestamp, then
// arrival, so callers see the delivery history in causal order even when
// the webhooks arrived shuffled.
func (s *EventStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]DeliveryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, tracking_id, event_type, provider_event_id, provider_msg_id,
		       timestamp, reason, url, user_agent, ip_address, received_at
		FROM delivery_events
		WHERE job_id = $1
		ORDER BY timestamp ASC, received_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery events: %w", err)
	}
	defer rows.Close()

	var events []DeliveryEvent
	for rows.Next() {
		var ev DeliveryEvent
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.TrackingID, &ev.EventType,
			&ev.ProviderEventID, &ev.ProviderMsgID, &ev.Timestamp, &ev.Reason,
			&ev.URL, &ev.UserAgent, &ev.IPAddress, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
