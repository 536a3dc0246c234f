package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"taxvault/pkg/ai"
	"taxvault/pkg/domain"
	"taxvault/pkg/ocr"
	"taxvault/pkg/storage"
	"taxvault/pkg/store"
)

// Orchestrator runs field extraction for approved documents, detached from
// the approval request. At most one extraction runs per document: the
// in-process map cuts off repeat starts early, and the conditional
// not_started to extracting transition is the authoritative guard across
// processes.
type Orchestrator struct {
	store     store.Store
	vault     storage.ObjectStore
	extractor ocr.Extractor
	generator ai.TextGenerator
	logger    *slog.Logger
	timeout   time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewOrchestrator wires the extraction dependencies together.
func NewOrchestrator(st store.Store, vault storage.ObjectStore, extractor ocr.Extractor, generator ai.TextGenerator, logger *slog.Logger, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Orchestrator{
		store:     st,
		vault:     vault,
		extractor: extractor,
		generator: generator,
		logger:    logger,
		timeout:   timeout,
		inflight:  make(map[string]struct{}),
	}
}

// Start launches extraction for a document in the background. Duplicate
// starts are no-ops. The goroutine gets a fresh context so it survives the
// HTTP request that triggered it.
func (o *Orchestrator) Start(documentID string) {
	o.mu.Lock()
	if _, running := o.inflight[documentID]; running {
		o.mu.Unlock()
		return
	}
	o.inflight[documentID] = struct{}{}
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.inflight, documentID)
			o.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()
		if err := o.run(ctx, documentID); err != nil && !errors.Is(err, domain.ErrConflictingState) {
			o.logger.Error("extraction failed", "document_id", documentID, "error", err)
		}
	}()
}

func (o *Orchestrator) run(ctx context.Context, documentID string) error {
	if _, err := o.store.TransitionExtraction(documentID, domain.ExtractionNotStarted, domain.ExtractionRunning, store.ExtractionUpdate{}); err != nil {
		return err
	}
	log := o.logger.With("document_id", documentID)
	log.Info("extraction started")

	fields, err := o.extract(ctx, documentID)
	if err != nil {
		msg := err.Error()
		if _, tErr := o.store.TransitionExtraction(documentID, domain.ExtractionRunning, domain.ExtractionFailed, store.ExtractionUpdate{Error: &msg}); tErr != nil {
			log.Error("record extraction failure failed", "error", tErr)
		}
		return err
	}

	if _, err := o.store.TransitionExtraction(documentID, domain.ExtractionRunning, domain.ExtractionCompleted, store.ExtractionUpdate{
		Fields:      fields,
		ExtractedAt: true,
	}); err != nil {
		return err
	}
	log.Info("extraction completed")
	return nil
}

func (o *Orchestrator) extract(ctx context.Context, documentID string) (*domain.TaxFields, error) {
	doc, ok, err := o.store.GetDocument(documentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	if doc.VaultKey == "" {
		return nil, fmt.Errorf("document %s has no vault copy", documentID)
	}
	data, err := o.vault.Get(ctx, doc.VaultKey)
	if err != nil {
		return nil, fmt.Errorf("fetch vault copy: %w", err)
	}

	// The vault always holds the renderer's image-only PDF, whatever the
	// original upload type was.
	text, err := o.extractor.Extract(ctx, data, "application/pdf")
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}
	response, err := o.generator.GenerateText(ctx, systemPrompt, buildUserPrompt(text.Text))
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	fields, err := parseFields(response)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return fields, nil
}
