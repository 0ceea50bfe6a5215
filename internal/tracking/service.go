package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/docsend/internal/dispatch"
	"github.com/ignite/docsend/internal/pkg/logger"
)

// WebhookTimestamp accepts both RFC3339 strings and unix-seconds numbers,
// since providers disagree on how to encode event times.
type WebhookTimestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *WebhookTimestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		return nil
	}
	if s[0] == '"' {
		parsed, err := time.Parse(time.RFC3339, s[1:len(s)-1])
		if err != nil {
			return fmt.Errorf("invalid event timestamp %s: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid event timestamp %s: %w", s, err)
	}
	t.Time = time.Unix(int64(secs), 0).UTC()
	return nil
}

// WebhookEvent is the provider's wire format for one delivery event.
type WebhookEvent struct {
	EventType       string           `json:"event_type"`
	TrackingID      string           `json:"tracking_id"`
	ProviderMsgID   string           `json:"message_id"`
	ProviderEventID string           `json:"event_id"`
	Timestamp       WebhookTimestamp `json:"timestamp"`
	Reason          string           `json:"reason,omitempty"`
	URL             string           `json:"url,omitempty"`
	UserAgent       string           `json:"user_agent,omitempty"`
	IPAddress       string           `json:"ip_address,omitempty"`
}

// ParseWebhookPayload accepts either a single event object or a batched
// array of events.
func ParseWebhookPayload(body []byte) ([]WebhookEvent, error) {
	var batch []WebhookEvent
	if err := json.Unmarshal(body, &batch); err == nil {
		return batch, nil
	}
	var single WebhookEvent
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("unrecognized webhook payload: %w", err)
	}
	return []WebhookEvent{single}, nil
}

// BatchResult summarizes one webhook delivery.
type BatchResult struct {
	Received   int `json:"received"`
	Applied    int `json:"applied"`
	Duplicates int `json:"duplicates"`
	Dropped    int `json:"dropped"`
}

// Tracker applies delivery events to jobs and owns the explicit job
// lifecycle operations: retry, resend, cancel.
type Tracker struct {
	jobs   *dispatch.JobStore
	events *EventStore
}

// NewTracker creates a tracker.
func NewTracker(jobs *dispatch.JobStore, events *EventStore) *Tracker {
	return &Tracker{jobs: jobs, events: events}
}

// ProcessBatch applies a batch of webhook events. Individual failures are
// counted, never returned: the webhook endpoint must always acknowledge.
func (t *Tracker) ProcessBatch(ctx context.Context, events []WebhookEvent) BatchResult {
	result := BatchResult{Received: len(events)}
	for _, ev := range events {
		applied, err := t.ProcessEvent(ctx, ev)
		switch {
		case err != nil:
			result.Dropped++
			logger.Warn("dropping delivery event",
				"tracking_id", ev.TrackingID,
				"event_type", ev.EventType,
				"error", err.Error())
		case applied:
			result.Applied++
		default:
			result.Duplicates++
		}
	}
	return result
}

// ProcessEvent applies one provider event. Unknown event types and unknown
// tracking ids are dropped with an error describing why; replayed provider
// event ids return (false, nil) and trigger no side effects.
func (t *Tracker) ProcessEvent(ctx context.Context, ev WebhookEvent) (bool, error) {
	eventType, ok := ParseEventType(ev.EventType)
	if !ok {
		return false, fmt.Errorf("unknown event type %q", ev.EventType)
	}
	if ev.TrackingID == "" {
		return false, errors.New("event has no tracking id")
	}
	if ev.ProviderEventID == "" {
		return false, errors.New("event has no provider event id")
	}

	job, err := t.jobs.GetByTrackingID(ctx, ev.TrackingID)
	if err != nil {
		if errors.Is(err, dispatch.ErrJobNotFound) {
			return false, fmt.Errorf("no job for tracking id %s", ev.TrackingID)
		}
		return false, err
	}

	inserted, err := t.events.Insert(ctx, &DeliveryEvent{
		JobID:           job.ID,
		TrackingID:      ev.TrackingID,
		EventType:       eventType,
		ProviderEventID: ev.ProviderEventID,
		ProviderMsgID:   ev.ProviderMsgID,
		Timestamp:       ev.Timestamp.Time,
		Reason:          ev.Reason,
		URL:             ev.URL,
		UserAgent:       ev.UserAgent,
		IPAddress:       ev.IPAddress,
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		// Already applied; providers retry webhook delivery freely.
		return false, nil
	}

	if eventType.IsAnnotation() {
		column := "spam_reported"
		if eventType == EventUnsubscribed {
			column = "unsubscribed"
		}
		return true, t.jobs.SetAnnotation(ctx, job.ID, column)
	}

	return true, t.refreshDerivedState(ctx, job)
}

// refreshDerivedState recomputes the job's status and timestamps from the
// event log of the current attempt and writes the result.
func (t *Tracker) refreshDerivedState(ctx context.Context, job *dispatch.EmailJob) error {
	log, err := t.events.ListByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	log = currentAttemptEvents(job, log)
	if len(log) == 0 {
		return nil
	}

	status := DeriveStatus(job.Status, log)
	timestamps := DeriveTimestamps(log)

	if err := t.jobs.ApplyDerivedState(ctx, job.ID, status, timestamps); err != nil {
		return err
	}

	if eventBounceReason := latestFailureReason(log); eventBounceReason != "" &&
		(status == dispatch.StatusBounced || status == dispatch.StatusDropped || status == dispatch.StatusFailed) {
		if err := t.jobs.MarkFailureReason(ctx, job.ID, eventBounceReason); err != nil {
			logger.Warn("failed to record failure reason", "job_id", job.ID.String(), "error", err.Error())
		}
	}
	return nil
}

// currentAttemptEvents drops events stamped before the job's last retry. A
// late-arriving event from a superseded attempt must not pull a requeued job
// back out of pending. Events without a provider timestamp are kept.
func currentAttemptEvents(job *dispatch.EmailJob, events []DeliveryEvent) []DeliveryEvent {
	if job.LastRetryAt == nil {
		return events
	}
	kept := make([]DeliveryEvent, 0, len(events))
	for _, ev := range events {
		if ev.Timestamp.IsZero() || !ev.Timestamp.Before(*job.LastRetryAt) {
			kept = append(kept, ev)
		}
	}
	return kept
}

func latestFailureReason(events []DeliveryEvent) string {
	reason := ""
	for _, ev := range events {
		if ev.Reason == "" {
			continue
		}
		switch ev.EventType {
		case EventBounced, EventDropped, EventFailed:
			reason = ev.Reason
		}
	}
	return reason
}

// JobView is the job query surface: current status, retry bookkeeping, and
// the ordered event history for a tracking id.
type JobView struct {
	Job    *dispatch.EmailJob `json:"job"`
	Events []DeliveryEvent    `json:"events"`
}

// JobByTrackingID returns the job and its ordered event history.
func (t *Tracker) JobByTrackingID(ctx context.Context, trackingID string) (*JobView, error) {
	job, err := t.jobs.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	events, err := t.events.ListByJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return &JobView{Job: job, Events: events}, nil
}

// Retry re-queues a failed job for another send attempt on the same job and
// tracking id. Only bounced, dropped, and failed jobs qualify, up to the
// retry ceiling.
func (t *Tracker) Retry(ctx context.Context, jobID uuid.UUID) (*dispatch.EmailJob, error) {
	job, err := t.jobs.RequeueForRetry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	logger.Info("job requeued for retry",
		"job_id", job.ID.String(),
		"tracking_id", job.TrackingID,
		"retry_count", job.RetryCount)
	return job, nil
}

// Resend creates a genuinely new job for the same recipient and content,
// with a fresh tracking id and a zero retry count. The original job and its
// history are left untouched.
func (t *Tracker) Resend(ctx context.Context, jobID uuid.UUID) (*dispatch.EmailJob, error) {
	original, err := t.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	clone := &dispatch.EmailJob{
		BatchID:        original.BatchID,
		DocumentTypeID: original.DocumentTypeID,
		RecipientID:    original.RecipientID,
		RecipientName:  original.RecipientName,
		RecipientEmail: original.RecipientEmail,
		DocumentID:     original.DocumentID,
		TemplateID:     original.TemplateID,
		Subject:        original.Subject,
		Body:           original.Body,
		Attachments:    original.Attachments,
		Priority:       original.Priority,
		Status:         dispatch.StatusPending,
	}
	if err := t.jobs.Create(ctx, clone); err != nil {
		return nil, err
	}

	logger.Info("job resent as new job",
		"original_job_id", original.ID.String(),
		"new_job_id", clone.ID.String(),
		"new_tracking_id", clone.TrackingID)
	return clone, nil
}

// Cancel stops a job that has not reached a terminal delivery outcome.
func (t *Tracker) Cancel(ctx context.Context, jobID uuid.UUID) error {
	if err := t.jobs.Cancel(ctx, jobID); err != nil {
		return err
	}
	logger.Info("job cancelled", "job_id", jobID.String())
	return nil
}
