package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	// ErrJobNotFound is returned when no email job matches.
	ErrJobNotFound = errors.New("email job not found")
	// ErrNotCancellable is returned when a cancel hits a job past the point
	// of cancellation.
	ErrNotCancellable = errors.New("job can no longer be cancelled")
	// ErrNotRetryable is returned when a retry targets a job that is not in
	// a failure state.
	ErrNotRetryable = errors.New("job is not in a retryable state")
	// ErrRetriesExhausted is returned once the retry ceiling is reached.
	ErrRetriesExhausted = errors.New("job retry limit reached")
)

const jobColumns = `id, batch_id, document_type_id, recipient_id, recipient_name, recipient_email,
	document_id, template_id, subject, body, attachments, status, tracking_id, provider_msg_id,
	priority, retry_count, last_retry_at, error_message, scheduled_for, spam_reported, unsubscribed,
	created_at, sent_at, delivered_at, opened_at, clicked_at, bounced_at, dropped_at`

// JobStore persists email jobs.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a job store.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// Create inserts a new pending job.
func (s *JobStore) Create(ctx context.Context, job *EmailJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.TrackingID == "" {
		job.TrackingID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	job.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_jobs
			(id, batch_id, document_type_id, recipient_id, recipient_name, recipient_email,
			 document_id, template_id, subject, body, attachments, status, tracking_id,
			 priority, scheduled_for, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		job.ID, job.BatchID, job.DocumentTypeID, job.RecipientID, job.RecipientName,
		job.RecipientEmail, job.DocumentID, job.TemplateID, job.Subject, job.Body,
		pq.Array(job.Attachments), job.Status, job.TrackingID, job.Priority,
		job.ScheduledFor, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert email job: %w", err)
	}
	return nil
}

// Get fetches one job by id.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*EmailJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM email_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// GetByTrackingID fetches one job by its tracking id. Webhook events
// correlate through this path.
func (s *JobStore) GetByTrackingID(ctx context.Context, trackingID string) (*EmailJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM email_jobs WHERE tracking_id = $1`, trackingID)
	return scanJob(row)
}

// ClaimPending atomically claims up to limit due pending jobs for dispatch.
// SKIP LOCKED keeps concurrent claim transactions off the same rows, and the
// claimed_at predicate keeps later polls off a batch that is still being
// worked. A claim whose dispatcher died goes stale and becomes claimable
// again after five minutes.
func (s *JobStore) ClaimPending(ctx context.Context, limit int) ([]EmailJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM email_jobs
		WHERE status = 'pending'
		  AND (scheduled_for IS NULL OR scheduled_for <= NOW())
		  AND (claimed_at IS NULL OR claimed_at < NOW() - INTERVAL '5 minutes')
		ORDER BY priority DESC, created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending jobs: %w", err)
	}

	var jobs []EmailJob
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(jobs) > 0 {
		ids := make([]uuid.UUID, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE email_jobs SET claimed_at = NOW() WHERE id = ANY($1)`,
			pq.Array(ids)); err != nil {
			return nil, fmt.Errorf("failed to mark jobs claimed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return jobs, nil
}

// MarkSent records a successful provider submission.
func (s *JobStore) MarkSent(ctx context.Context, id uuid.UUID, providerMsgID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'sent', provider_msg_id = $2, sent_at = NOW(), error_message = ''
		WHERE id = $1 AND status = 'pending'`, id, providerMsgID)
	if err != nil {
		return fmt.Errorf("failed to mark job sent: %w", err)
	}
	return requireRow(res)
}

// MarkFailed records an immediate provider rejection.
func (s *JobStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'failed', error_message = $2
		WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return requireRow(res)
}

// MarkFailureReason records the provider's stated reason without touching
// the status; event-derived state owns the status itself.
func (s *JobStore) MarkFailureReason(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE email_jobs SET error_message = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("failed to record failure reason: %w", err)
	}
	return nil
}

// Cancel moves a job to cancelled. Only pending and sent jobs qualify; the
// status predicate makes the check race-safe against a concurrent dispatcher.
func (s *JobStore) Cancel(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'cancelled'
		WHERE id = $1 AND status IN ('pending', 'sent')`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrNotCancellable
	}
	return nil
}

// RequeueForRetry moves a failed job back to pending for another attempt on
// the same tracking id, incrementing the retry counter. The status and retry
// predicates enforce the retry policy atomically.
func (s *JobStore) RequeueForRetry(ctx context.Context, id uuid.UUID) (*EmailJob, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'pending', retry_count = retry_count + 1,
		    last_retry_at = NOW(), claimed_at = NULL, error_message = ''
		WHERE id = $1
		  AND status IN ('bounced', 'dropped', 'failed')
		  AND retry_count < $2`, id, MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		job, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if !job.Status.IsRetryable() {
			return nil, ErrNotRetryable
		}
		return nil, ErrRetriesExhausted
	}
	return s.Get(ctx, id)
}

// SetAnnotation records a spam-report or unsubscribe side-annotation without
// touching the primary status.
func (s *JobStore) SetAnnotation(ctx context.Context, id uuid.UUID, column string) error {
	if column != "spam_reported" && column != "unsubscribed" {
		return fmt.Errorf("unknown annotation column: %s", column)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE email_jobs SET `+column+` = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to set annotation: %w", err)
	}
	return nil
}

// ApplyDerivedState writes the event-derived status and timestamps. The rank
// predicate keeps concurrent event application from rewinding the status.
func (s *JobStore) ApplyDerivedState(ctx context.Context, id uuid.UUID, status JobStatus, timestamps map[string]time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin state tx: %w", err)
	}
	defer tx.Rollback()

	ranked := make([]string, 0, len(statusRank))
	for st, r := range statusRank {
		if r < status.Rank() {
			ranked = append(ranked, string(st))
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE email_jobs SET status = $2
		WHERE id = $1 AND status = ANY($3)`,
		id, status, pq.Array(ranked)); err != nil {
		return fmt.Errorf("failed to advance job status: %w", err)
	}

	for column, ts := range timestamps {
		switch column {
		case "delivered_at", "opened_at", "clicked_at", "bounced_at", "dropped_at", "sent_at":
		default:
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE email_jobs SET `+column+` = COALESCE(`+column+`, $2) WHERE id = $1`,
			id, ts); err != nil {
			return fmt.Errorf("failed to set %s: %w", column, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state update: %w", err)
	}
	return nil
}

// CreateBatch records the batch-level send parameters the dispatcher needs
// when it picks the jobs up later.
func (s *JobStore) CreateBatch(ctx context.Context, batch *SendBatch) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	batch.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO send_batches (id, document_type_id, rate_per_minute, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		batch.ID, batch.DocumentTypeID, batch.RatePerMinute, batch.RequestedBy, batch.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert send batch: %w", err)
	}
	return nil
}

// GetBatch fetches batch-level send parameters.
func (s *JobStore) GetBatch(ctx context.Context, id uuid.UUID) (*SendBatch, error) {
	batch := &SendBatch{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_type_id, rate_per_minute, requested_by, created_at
		FROM send_batches WHERE id = $1`, id).Scan(
		&batch.ID, &batch.DocumentTypeID, &batch.RatePerMinute, &batch.RequestedBy, &batch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get send batch: %w", err)
	}
	return batch, nil
}

// ListByBatch returns all jobs in a batch, oldest first.
func (s *JobStore) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]EmailJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM email_jobs WHERE batch_id = $1 ORDER BY created_at ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch jobs: %w", err)
	}
	defer rows.Close()

	var jobs []EmailJob
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Stats aggregates job counts by status for a batch.
func (s *JobStore) Stats(ctx context.Context, batchID uuid.UUID) (*BatchStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM email_jobs
		WHERE batch_id = $1 GROUP BY status`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch stats: %w", err)
	}
	defer rows.Close()

	stats := &BatchStats{BatchID: batchID, ByStatus: make(map[JobStatus]int)}
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan batch stats: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row *sql.Row) (*EmailJob, error) {
	job, err := scanJobRows(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

func scanJobRows(sc rowScanner) (*EmailJob, error) {
	job := &EmailJob{}
	var attachments pq.StringArray
	var providerMsgID, errorMessage sql.NullString
	err := sc.Scan(
		&job.ID, &job.BatchID, &job.DocumentTypeID, &job.RecipientID, &job.RecipientName,
		&job.RecipientEmail, &job.DocumentID, &job.TemplateID, &job.Subject, &job.Body,
		&attachments, &job.Status, &job.TrackingID, &providerMsgID, &job.Priority,
		&job.RetryCount, &job.LastRetryAt, &errorMessage, &job.ScheduledFor,
		&job.SpamReported, &job.Unsubscribed, &job.CreatedAt, &job.SentAt,
		&job.DeliveredAt, &job.OpenedAt, &job.ClickedAt, &job.BouncedAt, &job.DroppedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan email job: %w", err)
	}
	job.Attachments = attachments
	job.ProviderMsgID = providerMsgID.String
	job.ErrorMessage = errorMessage.String
	return job, nil
}
