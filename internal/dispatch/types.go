// Package dispatch builds per-recipient email jobs and submits them to the
// transport provider under a configurable rate limit.
package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the primary delivery state of an email job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusSent      JobStatus = "sent"
	StatusDelivered JobStatus = "delivered"
	StatusOpened    JobStatus = "opened"
	StatusClicked   JobStatus = "clicked"
	StatusBounced   JobStatus = "bounced"
	StatusDropped   JobStatus = "dropped"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// statusRank orders statuses by how far along the delivery path they are.
// Derived status is the most-advanced state observed, so late or duplicate
// events never rewind a job. Failure outcomes rank past sent but below the
// delivery branch, so a bounce arriving after a delivery keeps the delivery.
var statusRank = map[JobStatus]int{
	StatusPending:   0,
	StatusCancelled: 1,
	StatusSent:      2,
	StatusFailed:    3,
	StatusDropped:   4,
	StatusBounced:   5,
	StatusDelivered: 6,
	StatusOpened:    7,
	StatusClicked:   8,
}

// Rank returns the advancement rank of a status. Unknown statuses rank lowest.
func (s JobStatus) Rank() int {
	return statusRank[s]
}

// IsRetryable reports whether a job in this status may be retried.
func (s JobStatus) IsRetryable() bool {
	return s == StatusBounced || s == StatusDropped || s == StatusFailed
}

// IsCancellable reports whether a job in this status may be cancelled.
// Once a terminal delivery outcome is recorded, cancellation is rejected.
func (s JobStatus) IsCancellable() bool {
	return s == StatusPending || s == StatusSent
}

// MaxRetries is the fixed retry ceiling per job. Retries re-attempt the same
// job and tracking id; once exhausted the job stays in its failure state.
const MaxRetries = 3

// EmailJob is one send to one recipient. Status and the event-derived
// timestamps are the only fields mutated after creation.
type EmailJob struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	BatchID        uuid.UUID  `db:"batch_id" json:"batch_id"`
	DocumentTypeID uuid.UUID  `db:"document_type_id" json:"document_type_id"`
	RecipientID    string     `db:"recipient_id" json:"recipient_id"`
	RecipientName  string     `db:"recipient_name" json:"recipient_name"`
	RecipientEmail string     `db:"recipient_email" json:"recipient_email"`
	DocumentID     *uuid.UUID `db:"document_id" json:"document_id,omitempty"`
	TemplateID     *uuid.UUID `db:"template_id" json:"template_id,omitempty"`
	Subject        string     `db:"subject" json:"subject"`
	Body           string     `db:"body" json:"body"`
	Attachments    []string   `db:"attachments" json:"attachments,omitempty"`
	Status         JobStatus  `db:"status" json:"status"`
	TrackingID     string     `db:"tracking_id" json:"tracking_id"`
	ProviderMsgID  string     `db:"provider_msg_id" json:"provider_msg_id,omitempty"`
	Priority       int        `db:"priority" json:"priority"`
	RetryCount     int        `db:"retry_count" json:"retry_count"`
	LastRetryAt    *time.Time `db:"last_retry_at" json:"last_retry_at,omitempty"`
	ErrorMessage   string     `db:"error_message" json:"error_message,omitempty"`
	ScheduledFor   *time.Time `db:"scheduled_for" json:"scheduled_for,omitempty"`

	// Side-annotations that never change the primary status.
	SpamReported bool `db:"spam_reported" json:"spam_reported"`
	Unsubscribed bool `db:"unsubscribed" json:"unsubscribed"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	SentAt      *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	OpenedAt    *time.Time `db:"opened_at" json:"opened_at,omitempty"`
	ClickedAt   *time.Time `db:"clicked_at" json:"clicked_at,omitempty"`
	BouncedAt   *time.Time `db:"bounced_at" json:"bounced_at,omitempty"`
	DroppedAt   *time.Time `db:"dropped_at" json:"dropped_at,omitempty"`
}

// AttachmentPolicy controls what gets attached to each job.
type AttachmentPolicy string

const (
	// AttachNone sends the email without attachments.
	AttachNone AttachmentPolicy = "none"
	// AttachDocument attaches each recipient's latest generated document.
	AttachDocument AttachmentPolicy = "document"
)

// SendRequest describes one bulk send.
type SendRequest struct {
	DocumentTypeID   uuid.UUID        `json:"document_type_id"`
	RowIDs           []uuid.UUID      `json:"row_ids"`
	TemplateID       *uuid.UUID       `json:"template_id,omitempty"`
	SignatureID      *uuid.UUID       `json:"signature_id,omitempty"`
	Subject          string           `json:"subject"`
	Body             string           `json:"body"`
	AttachmentPolicy AttachmentPolicy `json:"attachment_policy"`
	Priority         int              `json:"priority"`
	RatePerMinute    int              `json:"rate_per_minute"`
	SendImmediately  bool             `json:"send_immediately"`
	ScheduledFor     *time.Time       `json:"scheduled_for,omitempty"`
	RequestedBy      string           `json:"requested_by"`
}

// RecipientResult is the per-recipient outcome of job creation. Bulk sends
// never fail as a whole; callers get one entry per requested row.
type RecipientResult struct {
	RowID       uuid.UUID `json:"row_id"`
	RecipientID string    `json:"recipient_id"`
	JobID       uuid.UUID `json:"job_id,omitempty"`
	TrackingID  string    `json:"tracking_id,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// SendResult summarizes one bulk send request.
type SendResult struct {
	BatchID    uuid.UUID         `json:"batch_id"`
	Requested  int               `json:"requested"`
	Created    int               `json:"created"`
	Skipped    int               `json:"skipped"`
	Recipients []RecipientResult `json:"recipients"`
}

// SendBatch groups the jobs of one bulk request and carries the batch-level
// dispatch parameters.
type SendBatch struct {
	ID             uuid.UUID `db:"id" json:"id"`
	DocumentTypeID uuid.UUID `db:"document_type_id" json:"document_type_id"`
	RatePerMinute  int       `db:"rate_per_minute" json:"rate_per_minute"`
	RequestedBy    string    `db:"requested_by" json:"requested_by"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// BatchStats aggregates job statuses for one batch.
type BatchStats struct {
	BatchID   uuid.UUID         `json:"batch_id"`
	Total     int               `json:"total"`
	ByStatus  map[JobStatus]int `json:"by_status"`
	CreatedAt time.Time         `json:"created_at"`
}
