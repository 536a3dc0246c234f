package redaction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taxvault/pkg/domain"
	"taxvault/pkg/ocr"
	"taxvault/pkg/pii"
	"taxvault/pkg/storage"
	"taxvault/pkg/store"
)

// PageRenderer produces the redacted artifact for a document.
type PageRenderer interface {
	Render(ctx context.Context, data []byte, mimeType string, boxes []domain.RedactionBox) ([]byte, error)
}

// Pipeline drives one document from uploaded to redacted or redaction_failed.
type Pipeline struct {
	store     store.Store
	staging   storage.ObjectStore
	extractor ocr.Extractor
	detector  pii.Detector
	renderer  PageRenderer
	logger    *slog.Logger

	maxAttempts int
	retryBase   time.Duration
}

// PipelineOptions tunes retry behavior for transport failures.
type PipelineOptions struct {
	MaxAttempts int
	RetryBase   time.Duration
}

// NewPipeline wires the pipeline stages together.
func NewPipeline(st store.Store, staging storage.ObjectStore, extractor ocr.Extractor, detector pii.Detector, renderer PageRenderer, logger *slog.Logger, opts PipelineOptions) *Pipeline {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	return &Pipeline{
		store:       st,
		staging:     staging,
		extractor:   extractor,
		detector:    detector,
		renderer:    renderer,
		logger:      logger,
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBase,
	}
}

// Run processes one uploaded document end to end. It claims the document via
// a conditional transition, so concurrent runs for the same id are harmless:
// exactly one claims it, the rest return ErrConflictingState.
func (p *Pipeline) Run(ctx context.Context, documentID string) error {
	doc, err := p.store.TransitionDocument(documentID, domain.StatusUploaded, domain.StatusRedacting, store.DocumentUpdate{})
	if err != nil {
		return err
	}
	log := p.logger.With("document_id", documentID)
	log.Info("redaction started", "mime_type", doc.MimeType, "size_bytes", doc.SizeBytes)

	redacted, piiCount, runErr := p.process(ctx, log, doc)
	if runErr != nil {
		p.fail(ctx, log, doc, runErr)
		return runErr
	}

	redactedKey := doc.StagingKey + "-redacted.pdf"
	if err := p.staging.Put(ctx, redactedKey, bytes.NewReader(redacted), int64(len(redacted)), "application/pdf"); err != nil {
		p.fail(ctx, log, doc, fmt.Errorf("store redacted copy: %w", err))
		return err
	}
	if _, err := p.store.TransitionDocument(documentID, domain.StatusRedacting, domain.StatusRedacted, store.DocumentUpdate{
		PIICount:    &piiCount,
		RedactedKey: &redactedKey,
	}); err != nil {
		return err
	}
	log.Info("redaction completed", "pii_count", piiCount, "redacted_bytes", len(redacted))
	return nil
}

func (p *Pipeline) process(ctx context.Context, log *slog.Logger, doc domain.Document) ([]byte, int, error) {
	data, err := p.staging.Get(ctx, doc.StagingKey)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch original: %w", err)
	}

	var text domain.DocumentText
	err = p.withRetry(ctx, log, "ocr", func() error {
		var exErr error
		text, exErr = p.extractor.Extract(ctx, data, doc.MimeType)
		return exErr
	})
	if err != nil {
		return nil, 0, err
	}

	var findings []domain.PiiFinding
	err = p.withRetry(ctx, log, "pii", func() error {
		var dErr error
		findings, dErr = p.detector.Detect(ctx, text.Text)
		return dErr
	})
	if err != nil {
		return nil, 0, err
	}
	log.Info("detection completed", "findings", len(findings))

	boxes, err := MapFindings(text, findings)
	if err != nil {
		return nil, 0, err
	}

	redacted, err := p.renderer.Render(ctx, data, doc.MimeType, boxes)
	if err != nil {
		return nil, 0, fmt.Errorf("render: %w", err)
	}

	if err := p.validate(ctx, log, redacted); err != nil {
		return nil, 0, err
	}
	return redacted, len(findings), nil
}

// validate re-runs the detection loop against the redacted output. The
// document passes only on a verified empty finding set: an output the
// extractor cannot read is a corrupt artifact and fails the document, and a
// leak is never retried into success.
func (p *Pipeline) validate(ctx context.Context, log *slog.Logger, redacted []byte) error {
	var text domain.DocumentText
	err := p.withRetry(ctx, log, "validation ocr", func() error {
		var exErr error
		text, exErr = p.extractor.Extract(ctx, redacted, "application/pdf")
		return exErr
	})
	if err != nil {
		return fmt.Errorf("validate rendered output: %w", err)
	}

	var residual []domain.PiiFinding
	err = p.withRetry(ctx, log, "validation pii", func() error {
		var dErr error
		residual, dErr = p.detector.Detect(ctx, text.Text)
		return dErr
	})
	if err != nil {
		return err
	}
	if len(residual) > 0 {
		return fmt.Errorf("%w: %d findings in redacted output", domain.ErrResidualPII, len(residual))
	}
	return nil
}

// withRetry retries transport failures with exponential backoff. Anything
// else is permanent and returns immediately.
func (p *Pipeline) withRetry(ctx context.Context, log *slog.Logger, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err = fn()
		if err == nil || !domain.IsTransport(err) {
			return err
		}
		if attempt == p.maxAttempts {
			break
		}
		delay := p.retryBase << (attempt - 1)
		log.Warn("transient failure, retrying", "op", op, "attempt", attempt, "delay", delay.String(), "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// fail purges staged objects and records the terminal failure. Original
// bytes never outlive a failed redaction.
func (p *Pipeline) fail(ctx context.Context, log *slog.Logger, doc domain.Document, cause error) {
	reason := failureReason(cause)
	if err := p.staging.Delete(ctx, doc.StagingKey); err != nil {
		log.Error("purge staging failed", "error", err)
	}
	emptyKey := ""
	if _, err := p.store.TransitionDocument(doc.ID, domain.StatusRedacting, domain.StatusRedactionFailed, store.DocumentUpdate{
		FailureReason: &reason,
		StagingKey:    &emptyKey,
	}); err != nil {
		log.Error("record failure transition failed", "error", err)
	}
	log.Warn("redaction failed", "reason", reason, "error", cause)
}

// failureReason maps internal errors to the coarse reasons surfaced to users.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnsupportedDocument):
		return "unsupported_document"
	case errors.Is(err, domain.ErrMappingFailure):
		return "mapping_failure"
	case errors.Is(err, domain.ErrResidualPII):
		return "residual_pii"
	case domain.IsTransport(err):
		return "upstream_unavailable"
	default:
		return "internal_error"
	}
}
