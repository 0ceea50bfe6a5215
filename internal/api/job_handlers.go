package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/docsend/internal/dispatch"
	"github.com/ignite/docsend/internal/pkg/httputil"
)

// BulkSend creates one pending email job per requested recipient. The
// response lists every recipient's outcome; job submission happens
// asynchronously in the dispatcher.
func (h *Handlers) BulkSend(w http.ResponseWriter, r *http.Request) {
	typeID, ok := urlUUID(w, r, "typeID")
	if !ok {
		return
	}
	var req dispatch.SendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	req.DocumentTypeID = typeID

	result, err := h.deps.Builder.Build(r.Context(), req)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, result)
}

// GetJob returns one email job.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := urlUUID(w, r, "jobID")
	if !ok {
		return
	}
	job, err := h.deps.Jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, dispatch.ErrJobNotFound) {
			httputil.NotFound(w, "job not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, job)
}

// JobByTrackingID returns a job plus its ordered delivery event history.
func (h *Handlers) JobByTrackingID(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingID")
	view, err := h.deps.Tracker.JobByTrackingID(r.Context(), trackingID)
	if err != nil {
		if errors.Is(err, dispatch.ErrJobNotFound) {
			httputil.NotFound(w, "no job for tracking id")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, view)
}

// CancelJob cancels a job that has not reached a terminal delivery outcome.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := urlUUID(w, r, "jobID")
	if !ok {
		return
	}
	if err := h.deps.Tracker.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, dispatch.ErrJobNotFound):
			httputil.NotFound(w, "job not found")
		case errors.Is(err, dispatch.ErrNotCancellable):
			httputil.Conflict(w, err.Error())
		default:
			httputil.InternalError(w, err)
		}
		return
	}
	httputil.NoContent(w)
}

// RetryJob re-queues a failed job on the same tracking id.
func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := urlUUID(w, r, "jobID")
	if !ok {
		return
	}
	job, err := h.deps.Tracker.Retry(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrJobNotFound):
			httputil.NotFound(w, "job not found")
		case errors.Is(err, dispatch.ErrNotRetryable),
			errors.Is(err, dispatch.ErrRetriesExhausted):
			httputil.Conflict(w, err.Error())
		default:
			httputil.InternalError(w, err)
		}
		return
	}
	httputil.OK(w, job)
}

// ResendJob creates a fresh job for the same recipient and content.
func (h *Handlers) ResendJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := urlUUID(w, r, "jobID")
	if !ok {
		return
	}
	job, err := h.deps.Tracker.Resend(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, dispatch.ErrJobNotFound) {
			httputil.NotFound(w, "job not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, job)
}

// BatchStats aggregates job counts by status for one batch.
func (h *Handlers) BatchStats(w http.ResponseWriter, r *http.Request) {
	batchID, ok := urlUUID(w, r, "batchID")
	if !ok {
		return
	}
	stats, err := h.deps.Jobs.Stats(r.Context(), batchID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// BatchJobs lists a batch's jobs.
func (h *Handlers) BatchJobs(w http.ResponseWriter, r *http.Request) {
	batchID, ok := urlUUID(w, r, "batchID")
	if !ok {
		return
	}
	jobs, err := h.deps.Jobs.ListByBatch(r.Context(), batchID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, jobs)
}
