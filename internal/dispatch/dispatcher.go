package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/docsend/internal/pkg/logger"
)

// DispatcherConfig tunes the background sender.
type DispatcherConfig struct {
	// PollInterval is how often the dispatcher looks for due pending jobs.
	PollInterval time.Duration
	// BatchSize is the maximum number of jobs claimed per poll.
	BatchSize int
	// Workers is the number of concurrent submission goroutines.
	Workers int
	// SendTimeout bounds each provider submission call.
	SendTimeout time.Duration
	// DefaultRatePerMinute applies to batches created without an explicit
	// rate. Zero disables the default ceiling.
	DefaultRatePerMinute int
}

func (c *DispatcherConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
}

// Dispatcher drains pending jobs into the transport provider, holding each
// batch at or below its configured sends-per-minute ceiling. Excess jobs
// wait for a slot; they are never dropped.
type Dispatcher struct {
	jobs     *JobStore
	provider Provider
	limiter  SlotLimiter
	cfg      DispatcherConfig

	rateMu    sync.Mutex
	batchRate map[uuid.UUID]int
}

// NewDispatcher creates a dispatcher. A nil limiter disables rate limiting.
func NewDispatcher(jobs *JobStore, provider Provider, limiter SlotLimiter, cfg DispatcherConfig) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		jobs:      jobs,
		provider:  provider,
		limiter:   limiter,
		cfg:       cfg,
		batchRate: make(map[uuid.UUID]int),
	}
}

// Run polls for due jobs until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	logger.Info("dispatcher started",
		"poll_interval", d.cfg.PollInterval.String(),
		"workers", d.cfg.Workers)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("dispatcher stopped")
			return
		case <-ticker.C:
			if n := d.DispatchDue(ctx); n > 0 {
				logger.Debug("dispatch cycle complete", "submitted", n)
			}
		}
	}
}

// DispatchDue claims and submits one batch of due pending jobs. Returns the
// number of jobs handed to the provider.
func (d *Dispatcher) DispatchDue(ctx context.Context) int {
	jobs, err := d.jobs.ClaimPending(ctx, d.cfg.BatchSize)
	if err != nil {
		logger.Error("failed to claim pending jobs", "error", err.Error())
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	var submitted int64
	var mu sync.Mutex

	work := make(chan EmailJob)
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range work {
				if d.dispatchOne(ctx, job) {
					mu.Lock()
					submitted++
					mu.Unlock()
				}
			}
		}()
	}

	for _, job := range jobs {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return int(submitted)
		case work <- job:
		}
	}
	close(work)
	wg.Wait()
	return int(submitted)
}

// dispatchOne submits one job, honoring the batch rate limit and the
// cancellation race. Returns true if the job reached the provider.
func (d *Dispatcher) dispatchOne(ctx context.Context, job EmailJob) bool {
	if !d.waitForSlot(ctx, job) {
		return false
	}

	// A cancel can land between claim and submission. Re-read immediately
	// before sending and skip anything no longer pending.
	current, err := d.jobs.Get(ctx, job.ID)
	if err != nil {
		logger.Error("failed to re-check job before send", "job_id", job.ID.String(), "error", err.Error())
		return false
	}
	if current.Status != StatusPending {
		logger.Debug("skipping job no longer pending",
			"job_id", job.ID.String(), "status", string(current.Status))
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	msgID, err := d.provider.Send(sendCtx, SendMessage{
		To:          job.RecipientEmail,
		ToName:      job.RecipientName,
		Subject:     job.Subject,
		Body:        job.Body,
		Attachments: job.Attachments,
		TrackingID:  job.TrackingID,
		Metadata: map[string]string{
			"batch_id": job.BatchID.String(),
			"job_id":   job.ID.String(),
		},
	})
	if err != nil {
		logger.Warn("provider rejected submission",
			"job_id", job.ID.String(),
			"recipient_email", job.RecipientEmail,
			"error", err.Error())
		if markErr := d.jobs.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			logger.Error("failed to mark job failed", "job_id", job.ID.String(), "error", markErr.Error())
		}
		return false
	}

	if err := d.jobs.MarkSent(ctx, job.ID, msgID); err != nil {
		// The status predicate lost: most likely a cancel raced the send.
		logger.Warn("could not mark job sent", "job_id", job.ID.String(), "error", err.Error())
		return true
	}
	return true
}

// waitForSlot blocks until the job's batch has rate capacity or the context
// is cancelled.
func (d *Dispatcher) waitForSlot(ctx context.Context, job EmailJob) bool {
	if d.limiter == nil {
		return true
	}
	rate := d.rateFor(ctx, job.BatchID)
	if rate <= 0 {
		return true
	}

	for {
		allowed, wait, err := d.limiter.Acquire(ctx, job.BatchID.String(), rate, job.ID.String())
		if err != nil {
			logger.Error("rate limit check failed, allowing send", "error", err.Error())
			return true
		}
		if allowed {
			return true
		}
		if wait <= 0 {
			wait = 250 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// rateFor resolves and caches the batch's sends-per-minute ceiling.
func (d *Dispatcher) rateFor(ctx context.Context, batchID uuid.UUID) int {
	d.rateMu.Lock()
	if rate, ok := d.batchRate[batchID]; ok {
		d.rateMu.Unlock()
		return rate
	}
	d.rateMu.Unlock()

	rate := d.cfg.DefaultRatePerMinute
	batch, err := d.jobs.GetBatch(ctx, batchID)
	if err != nil {
		if !errors.Is(err, ErrJobNotFound) {
			logger.Error("failed to load batch rate", "batch_id", batchID.String(), "error", err.Error())
		}
	} else if batch.RatePerMinute > 0 {
		rate = batch.RatePerMinute
	}

	d.rateMu.Lock()
	d.batchRate[batchID] = rate
	d.rateMu.Unlock()
	return rate
}
