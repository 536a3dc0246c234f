package store

import (
	"errors"
	"testing"
	"time"

	"taxvault/pkg/domain"
)

func seedDocument(t *testing.T, s *MemoryStore, status domain.DocumentStatus) domain.Document {
	t.Helper()
	doc := domain.Document{
		ID:         "doc-1",
		OwnerID:    "user-1",
		Filename:   "1040.pdf",
		MimeType:   "application/pdf",
		SizeBytes:  1024,
		Status:     status,
		StagingKey: "users/user-1/staging/doc-1",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.CreateDocument(doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func TestTransitionDocumentGuardsSourceStatus(t *testing.T) {
	s := NewMemoryStore()
	seedDocument(t, s, domain.StatusUploaded)

	doc, err := s.TransitionDocument("doc-1", domain.StatusUploaded, domain.StatusRedacting, DocumentUpdate{})
	if err != nil {
		t.Fatalf("uploaded -> redacting should succeed: %v", err)
	}
	if doc.Status != domain.StatusRedacting {
		t.Fatalf("status = %q, want redacting", doc.Status)
	}

	// Second attempt from the stale source state must lose.
	doc, err = s.TransitionDocument("doc-1", domain.StatusUploaded, domain.StatusRedacting, DocumentUpdate{})
	if !errors.Is(err, domain.ErrConflictingState) {
		t.Fatalf("err = %v, want ErrConflictingState", err)
	}
	if doc.Status != domain.StatusRedacting {
		t.Fatalf("losing transition must not change status, got %q", doc.Status)
	}
}

func TestTransitionDocumentMissingRow(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.TransitionDocument("nope", domain.StatusUploaded, domain.StatusRedacting, DocumentUpdate{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTransitionDocumentAppliesUpdates(t *testing.T) {
	s := NewMemoryStore()
	seedDocument(t, s, domain.StatusRedacting)

	count := 3
	redactedKey := "users/user-1/staging/doc-1_redacted"
	doc, err := s.TransitionDocument("doc-1", domain.StatusRedacting, domain.StatusRedacted, DocumentUpdate{
		PIICount:    &count,
		RedactedKey: &redactedKey,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if doc.PIICount != 3 || doc.RedactedKey != redactedKey {
		t.Fatalf("updates not applied: %+v", doc)
	}
	if doc.StagingKey == "" {
		t.Fatalf("untouched fields must survive the transition")
	}
}

func TestTransitionExtractionLifecycle(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	if err := s.CreateExtraction(domain.Extraction{
		DocumentID: "doc-1",
		Status:     domain.ExtractionNotStarted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("create extraction: %v", err)
	}

	if _, err := s.TransitionExtraction("doc-1", domain.ExtractionNotStarted, domain.ExtractionRunning, ExtractionUpdate{}); err != nil {
		t.Fatalf("not_started -> extracting: %v", err)
	}
	// A duplicate start attempt loses.
	if _, err := s.TransitionExtraction("doc-1", domain.ExtractionNotStarted, domain.ExtractionRunning, ExtractionUpdate{}); !errors.Is(err, domain.ErrConflictingState) {
		t.Fatalf("duplicate start err = %v, want ErrConflictingState", err)
	}

	wages := 75000.0
	ex, err := s.TransitionExtraction("doc-1", domain.ExtractionRunning, domain.ExtractionCompleted, ExtractionUpdate{
		Fields:      &domain.TaxFields{W2Wages: &wages},
		ExtractedAt: true,
	})
	if err != nil {
		t.Fatalf("extracting -> completed: %v", err)
	}
	if ex.Fields == nil || ex.Fields.W2Wages == nil || *ex.Fields.W2Wages != wages {
		t.Fatalf("fields not stored: %+v", ex.Fields)
	}
	if ex.ExtractedAt == nil {
		t.Fatalf("extracted_at should be stamped")
	}
}

func TestDeleteDocumentRemovesExtraction(t *testing.T) {
	s := NewMemoryStore()
	seedDocument(t, s, domain.StatusApproved)
	_ = s.CreateExtraction(domain.Extraction{DocumentID: "doc-1", Status: domain.ExtractionNotStarted})

	if err := s.DeleteDocument("doc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetDocument("doc-1"); ok {
		t.Fatalf("document should be gone")
	}
	if _, ok, _ := s.GetExtraction("doc-1"); ok {
		t.Fatalf("extraction should be gone")
	}
}
