// Package app implements the document lifecycle operations behind the HTTP
// surface: upload, review, approval, rejection, and deletion.
package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taxvault/internal/extraction"
	"taxvault/internal/redaction"
	"taxvault/internal/util"
	"taxvault/pkg/domain"
	"taxvault/pkg/storage"
	"taxvault/pkg/store"
)

// MaxUploadBytes caps uploaded document size.
const MaxUploadBytes = 20 << 20

const presignExpiry = 15 * time.Minute

var allowedMimeTypes = map[string]struct{}{
	"application/pdf": {},
	"image/jpeg":      {},
	"image/png":       {},
}

// ErrInvalidUpload rejects uploads before any byte is stored.
type ErrInvalidUpload struct{ Reason string }

func (e ErrInvalidUpload) Error() string { return "invalid upload: " + e.Reason }

// App coordinates stores, the redaction pipeline, and the extraction
// orchestrator for one deployment.
type App struct {
	store        store.Store
	staging      storage.ObjectStore
	vault        storage.ObjectStore
	pipeline     *redaction.Pipeline
	orchestrator *extraction.Orchestrator
	logger       *slog.Logger

	pipelineTimeout time.Duration
}

// New wires the application together.
func New(st store.Store, staging, vault storage.ObjectStore, pipeline *redaction.Pipeline, orchestrator *extraction.Orchestrator, logger *slog.Logger, pipelineTimeout time.Duration) *App {
	if pipelineTimeout <= 0 {
		pipelineTimeout = 10 * time.Minute
	}
	return &App{
		store:           st,
		staging:         staging,
		vault:           vault,
		pipeline:        pipeline,
		orchestrator:    orchestrator,
		logger:          logger,
		pipelineTimeout: pipelineTimeout,
	}
}

// Upload stores the original in staging, records the document, and kicks off
// redaction in the background. The response never waits for the pipeline.
func (a *App) Upload(ctx context.Context, ownerID, filename, mimeType string, data []byte) (domain.Document, error) {
	if _, ok := allowedMimeTypes[mimeType]; !ok {
		return domain.Document{}, ErrInvalidUpload{Reason: fmt.Sprintf("unsupported content type %q", mimeType)}
	}
	if len(data) == 0 {
		return domain.Document{}, ErrInvalidUpload{Reason: "empty file"}
	}
	if len(data) > MaxUploadBytes {
		return domain.Document{}, ErrInvalidUpload{Reason: fmt.Sprintf("file exceeds %d bytes", MaxUploadBytes)}
	}

	filename = sanitizeFilename(filename)

	id := util.NewID()
	stagingKey := fmt.Sprintf("users/%s/staging/%s", ownerID, id)
	if err := a.staging.Put(ctx, stagingKey, bytes.NewReader(data), int64(len(data)), mimeType); err != nil {
		return domain.Document{}, fmt.Errorf("stage upload: %w", err)
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:         id,
		OwnerID:    ownerID,
		Filename:   filename,
		MimeType:   mimeType,
		SizeBytes:  int64(len(data)),
		Status:     domain.StatusUploaded,
		StagingKey: stagingKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.CreateDocument(doc); err != nil {
		if delErr := a.staging.Delete(ctx, stagingKey); delErr != nil {
			a.logger.Error("orphaned staging object", "key", stagingKey, "error", delErr)
		}
		return domain.Document{}, err
	}
	a.logger.Info("document uploaded", "document_id", id, "owner_id", ownerID, "mime_type", mimeType, "size_bytes", len(data))

	// Detached from the request context; the upload response returns while
	// redaction runs.
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), a.pipelineTimeout)
		defer cancel()
		if err := a.pipeline.Run(runCtx, id); err != nil {
			a.logger.Warn("redaction run ended with error", "document_id", id, "error", err)
		}
	}()
	return doc, nil
}

// GetDocument returns a document owned by the caller.
func (a *App) GetDocument(ownerID, id string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, err
	}
	// A foreign document looks identical to a missing one.
	if !ok || doc.OwnerID != ownerID {
		return domain.Document{}, domain.ErrNotFound
	}
	return doc, nil
}

// ListDocuments returns the caller's documents in upload order.
func (a *App) ListDocuments(ownerID string) ([]domain.Document, error) {
	return a.store.ListDocumentsByOwner(ownerID)
}

// DeleteDocument removes the record and every stored object for it.
func (a *App) DeleteDocument(ctx context.Context, ownerID, id string) error {
	doc, err := a.GetDocument(ownerID, id)
	if err != nil {
		return err
	}
	a.purgeObjects(ctx, doc)
	if err := a.store.DeleteDocument(id); err != nil {
		return err
	}
	a.logger.Info("document deleted", "document_id", id, "owner_id", ownerID)
	return nil
}

// Approve copies the redacted artifact into the vault, transitions the
// document, purges staging, and starts field extraction. The vault copy
// happens before the transition: the copy is idempotent, so a racing
// double-approve either loses the transition cleanly or repeats a
// byte-identical write.
func (a *App) Approve(ctx context.Context, ownerID, id string) (domain.Document, error) {
	doc, err := a.GetDocument(ownerID, id)
	if err != nil {
		return domain.Document{}, err
	}
	if doc.Status != domain.StatusRedacted {
		return domain.Document{}, fmt.Errorf("%w: document is %s", domain.ErrConflictingState, doc.Status)
	}

	redacted, err := a.staging.Get(ctx, doc.RedactedKey)
	if err != nil {
		// A racing approval may have won the transition and purged staging
		// between our status check and this read.
		if cur, curErr := a.GetDocument(ownerID, id); curErr == nil && cur.Status != domain.StatusRedacted {
			return domain.Document{}, fmt.Errorf("%w: document is %s", domain.ErrConflictingState, cur.Status)
		}
		return domain.Document{}, fmt.Errorf("fetch redacted copy: %w", err)
	}
	vaultKey := fmt.Sprintf("users/%s/vault/%s.pdf", ownerID, id)
	if err := a.vault.Put(ctx, vaultKey, bytes.NewReader(redacted), int64(len(redacted)), "application/pdf"); err != nil {
		return domain.Document{}, fmt.Errorf("store vault copy: %w", err)
	}

	emptyKey := ""
	updated, err := a.store.TransitionDocument(id, domain.StatusRedacted, domain.StatusApproved, store.DocumentUpdate{
		VaultKey:    &vaultKey,
		StagingKey:  &emptyKey,
		RedactedKey: &emptyKey,
	})
	if err != nil {
		return domain.Document{}, err
	}

	// Only the transition winner purges and starts extraction.
	a.purgeObjects(ctx, doc)
	if err := a.store.CreateExtraction(domain.Extraction{
		DocumentID: id,
		Status:     domain.ExtractionNotStarted,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		a.logger.Error("create extraction record failed", "document_id", id, "error", err)
	} else {
		a.orchestrator.Start(id)
	}
	a.logger.Info("document approved", "document_id", id, "owner_id", ownerID)
	return updated, nil
}

// Reject discards the document entirely: transition, purge, then drop the
// record. Nothing of a rejected upload survives.
func (a *App) Reject(ctx context.Context, ownerID, id string) error {
	doc, err := a.GetDocument(ownerID, id)
	if err != nil {
		return err
	}
	if doc.Status != domain.StatusRedacted {
		return fmt.Errorf("%w: document is %s", domain.ErrConflictingState, doc.Status)
	}
	if _, err := a.store.TransitionDocument(id, domain.StatusRedacted, domain.StatusRejected, store.DocumentUpdate{}); err != nil {
		return err
	}
	a.purgeObjects(ctx, doc)
	if err := a.store.DeleteDocument(id); err != nil {
		return err
	}
	a.logger.Info("document rejected", "document_id", id, "owner_id", ownerID)
	return nil
}

// GetExtraction returns the extraction record for an owned document.
func (a *App) GetExtraction(ownerID, documentID string) (domain.Extraction, error) {
	if _, err := a.GetDocument(ownerID, documentID); err != nil {
		return domain.Extraction{}, err
	}
	ex, ok, err := a.store.GetExtraction(documentID)
	if err != nil {
		return domain.Extraction{}, err
	}
	if !ok {
		return domain.Extraction{}, domain.ErrNotFound
	}
	return ex, nil
}

// PreviewURL returns a short-lived URL for the redacted artifact. Previews
// exist while the document awaits review and after approval; originals are
// never previewable.
func (a *App) PreviewURL(ctx context.Context, ownerID, id string) (string, error) {
	doc, err := a.GetDocument(ownerID, id)
	if err != nil {
		return "", err
	}
	switch doc.Status {
	case domain.StatusRedacted:
		return a.staging.PresignGet(ctx, doc.RedactedKey, presignExpiry)
	case domain.StatusApproved:
		return a.vault.PresignGet(ctx, doc.VaultKey, presignExpiry)
	default:
		return "", fmt.Errorf("%w: no preview while document is %s", domain.ErrConflictingState, doc.Status)
	}
}

// DownloadURL returns a short-lived URL for the vault copy of an approved
// document.
func (a *App) DownloadURL(ctx context.Context, ownerID, id string) (string, error) {
	doc, err := a.GetDocument(ownerID, id)
	if err != nil {
		return "", err
	}
	if doc.Status != domain.StatusApproved {
		return "", fmt.Errorf("%w: no download while document is %s", domain.ErrConflictingState, doc.Status)
	}
	return a.vault.PresignGet(ctx, doc.VaultKey, presignExpiry)
}

// sanitizeFilename keeps only the base name and caps its length. The name is
// display metadata; storage keys never derive from it.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if len(name) > 255 {
		name = name[:255]
	}
	if name == "" {
		name = "document"
	}
	return name
}

// purgeObjects best-effort deletes every staging object a document may hold.
func (a *App) purgeObjects(ctx context.Context, doc domain.Document) {
	for _, key := range []string{doc.StagingKey, doc.RedactedKey} {
		if key == "" {
			continue
		}
		if err := a.staging.Delete(ctx, key); err != nil {
			a.logger.Error("purge staging object failed", "document_id", doc.ID, "key", key, "error", err)
		}
	}
	if doc.VaultKey != "" {
		if err := a.vault.Delete(ctx, doc.VaultKey); err != nil {
			a.logger.Error("purge vault object failed", "document_id", doc.ID, "key", doc.VaultKey, "error", err)
		}
	}
}
