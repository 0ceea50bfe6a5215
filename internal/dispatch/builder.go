package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/docsend/internal/docgen"
	"github.com/ignite/docsend/internal/ingest"
	"github.com/ignite/docsend/internal/pkg/logger"
	"github.com/ignite/docsend/internal/schema"
	"github.com/ignite/docsend/internal/template"
)

// ErrNoRecipientEmail is recorded when a row has no value for any
// email-typed field.
var ErrNoRecipientEmail = errors.New("row has no recipient email")

// Builder turns a send request into one pending job per recipient.
type Builder struct {
	registry  *schema.Registry
	rows      *ingest.RowStore
	templates *template.Store
	docs      *docgen.Store
	generator *docgen.Generator
	jobs      *JobStore

	// trackingBaseURL is the public origin for open/click/unsubscribe
	// links. Empty disables body instrumentation.
	trackingBaseURL string
}

// NewBuilder creates a job builder.
func NewBuilder(registry *schema.Registry, rows *ingest.RowStore, templates *template.Store, docs *docgen.Store, jobs *JobStore, trackingBaseURL string) *Builder {
	return &Builder{
		registry:        registry,
		rows:            rows,
		templates:       templates,
		docs:            docs,
		generator:       docgen.NewGenerator(),
		jobs:            jobs,
		trackingBaseURL: trackingBaseURL,
	}
}

// Build creates pending jobs for every requested row. Per-recipient failures
// (missing email, unsatisfied required fields) are recorded in the result and
// never abort the batch.
func (b *Builder) Build(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if req.Body == "" {
		return nil, fmt.Errorf("body is required")
	}
	if len(req.RowIDs) == 0 {
		return nil, fmt.Errorf("at least one recipient row is required")
	}

	if _, err := b.registry.GetType(ctx, req.DocumentTypeID); err != nil {
		return nil, err
	}
	fields, err := b.registry.ListFields(ctx, req.DocumentTypeID)
	if err != nil {
		return nil, err
	}
	emailKey := emailFieldKey(fields)

	var tpl *template.Template
	if req.TemplateID != nil {
		if tpl, err = b.templates.Get(ctx, *req.TemplateID); err != nil {
			return nil, err
		}
	}

	var sig *docgen.Signature
	if req.SignatureID != nil {
		if sig, err = b.docs.GetSignature(ctx, *req.SignatureID); err != nil {
			return nil, err
		}
	}

	records, err := b.rows.GetMany(ctx, req.RowIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*ingest.RowRecord, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}

	batch := &SendBatch{
		DocumentTypeID: req.DocumentTypeID,
		RatePerMinute:  req.RatePerMinute,
		RequestedBy:    req.RequestedBy,
	}
	if err := b.jobs.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	result := &SendResult{BatchID: batch.ID, Requested: len(req.RowIDs)}

	for _, rowID := range req.RowIDs {
		row, ok := byID[rowID]
		if !ok {
			result.Skipped++
			result.Recipients = append(result.Recipients, RecipientResult{
				RowID: rowID, Error: "row record not found",
			})
			continue
		}

		job, err := b.buildJob(ctx, req, result.BatchID, row, fields, emailKey, tpl, sig)
		if err != nil {
			result.Skipped++
			result.Recipients = append(result.Recipients, RecipientResult{
				RowID: rowID, RecipientID: row.RecipientID, Error: err.Error(),
			})
			continue
		}

		if err := b.jobs.Create(ctx, job); err != nil {
			logger.Error("failed to persist email job",
				"recipient", row.RecipientID, "error", err.Error())
			result.Skipped++
			result.Recipients = append(result.Recipients, RecipientResult{
				RowID: rowID, RecipientID: row.RecipientID, Error: "failed to persist job",
			})
			continue
		}

		result.Created++
		result.Recipients = append(result.Recipients, RecipientResult{
			RowID:       rowID,
			RecipientID: row.RecipientID,
			JobID:       job.ID,
			TrackingID:  job.TrackingID,
		})
	}

	logger.Info("bulk send jobs created",
		"batch_id", result.BatchID.String(),
		"requested", result.Requested,
		"created", result.Created,
		"skipped", result.Skipped)
	return result, nil
}

func (b *Builder) buildJob(ctx context.Context, req SendRequest, batchID uuid.UUID, row *ingest.RowRecord, fields []schema.FieldDefinition, emailKey string, tpl *template.Template, sig *docgen.Signature) (*EmailJob, error) {
	if missing := ingest.MissingRequired(row, fields); len(missing) > 0 {
		return nil, fmt.Errorf("missing required fields: %v", missing)
	}

	email := ""
	if emailKey != "" {
		email = row.Values[emailKey]
	}
	if email == "" {
		return nil, ErrNoRecipientEmail
	}

	subject, err := b.render(ctx, req.Subject, row, fields, nil)
	if err != nil {
		return nil, fmt.Errorf("rendering subject: %w", err)
	}
	body, err := b.render(ctx, req.Body, row, fields, sig)
	if err != nil {
		return nil, fmt.Errorf("rendering body: %w", err)
	}

	job := &EmailJob{
		BatchID:        batchID,
		DocumentTypeID: req.DocumentTypeID,
		RecipientID:    row.RecipientID,
		RecipientName:  row.RecipientName,
		RecipientEmail: email,
		Subject:        subject,
		Body:           body,
		TrackingID:     uuid.NewString(),
		Priority:       req.Priority,
		Status:         StatusPending,
	}
	if b.trackingBaseURL != "" {
		job.Body = decorateBody(job.Body, b.trackingBaseURL, job.TrackingID)
	}
	if !req.SendImmediately && req.ScheduledFor != nil {
		job.ScheduledFor = req.ScheduledFor
	}
	if tpl != nil {
		job.TemplateID = &tpl.ID
	}

	if req.AttachmentPolicy == AttachDocument && tpl != nil {
		doc, err := b.docs.Latest(ctx, req.DocumentTypeID, row.RecipientID, tpl.ID)
		if err != nil {
			if errors.Is(err, docgen.ErrDocumentNotFound) {
				return nil, fmt.Errorf("no generated document to attach for recipient %s", row.RecipientID)
			}
			return nil, err
		}
		job.DocumentID = &doc.ID
		job.Attachments = []string{doc.BlobRef}
	}

	return job, nil
}

// render runs the subject/body text through the same placeholder
// substitution used for documents.
func (b *Builder) render(ctx context.Context, text string, row *ingest.RowRecord, fields []schema.FieldDefinition, sig *docgen.Signature) (string, error) {
	res, err := b.generator.Generate(ctx, docgen.GenerateRequest{
		Template:  &template.Template{Content: text},
		Fields:    fields,
		Row:       row,
		Signature: sig,
	})
	if err != nil {
		return "", err
	}
	for _, w := range res.Warnings {
		logger.Debug("send template warning", "recipient", row.RecipientID, "warning", w)
	}
	return res.Content, nil
}

// emailFieldKey returns the key of the first email-typed field.
func emailFieldKey(fields []schema.FieldDefinition) string {
	for _, f := range fields {
		if f.FieldType == schema.FieldTypeEmail {
			return f.FieldKey
		}
	}
	return ""
}
