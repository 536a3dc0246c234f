package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"taxvault/pkg/ai"
	"taxvault/pkg/domain"
	"taxvault/pkg/storage"
	"taxvault/pkg/store"
)

type stubExtractor struct {
	text string
	err  error
}

func (s *stubExtractor) Extract(context.Context, []byte, string) (domain.DocumentText, error) {
	return domain.DocumentText{Text: s.text}, s.err
}

func seedApproved(t *testing.T, st store.Store, vault storage.ObjectStore, id string) {
	t.Helper()
	doc := domain.Document{
		ID:       id,
		OwnerID:  "owner-1",
		MimeType: "application/pdf",
		Status:   domain.StatusApproved,
		VaultKey: "users/owner-1/vault/" + id,
	}
	if err := st.CreateDocument(doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := vault.Put(context.Background(), doc.VaultKey, bytes.NewReader([]byte("%PDF")), 4, "application/pdf"); err != nil {
		t.Fatalf("put vault: %v", err)
	}
	if err := st.CreateExtraction(domain.Extraction{DocumentID: id, Status: domain.ExtractionNotStarted}); err != nil {
		t.Fatalf("create extraction: %v", err)
	}
}

func TestOrchestratorRunCompletes(t *testing.T) {
	st := store.NewMemoryStore()
	vault := storage.NewMemoryObjectStore()
	seedApproved(t, st, vault, "doc-1")

	gen := &ai.StaticGenerator{Response: `{"filing_status":"single","w2_wages":42000,"total_deductions":13850,"ira_distributions_total":null,"capital_gain_or_loss":null}`}
	o := NewOrchestrator(st, vault, &stubExtractor{text: "Form 1040"}, gen, slog.New(slog.DiscardHandler), time.Minute)

	if err := o.run(context.Background(), "doc-1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	ex, ok, err := st.GetExtraction("doc-1")
	if err != nil || !ok {
		t.Fatalf("get extraction: ok=%v err=%v", ok, err)
	}
	if ex.Status != domain.ExtractionCompleted {
		t.Fatalf("status = %s, want completed", ex.Status)
	}
	if ex.Fields == nil || ex.Fields.W2Wages == nil || *ex.Fields.W2Wages != 42000 {
		t.Fatalf("fields = %+v", ex.Fields)
	}
	if ex.Fields.IRADistributionsTotal != nil {
		t.Fatal("null field must stay nil")
	}
	if ex.ExtractedAt == nil {
		t.Fatal("extracted_at not stamped")
	}
}

func TestOrchestratorReadsVaultCopyAsPDF(t *testing.T) {
	st := store.NewMemoryStore()
	vault := storage.NewMemoryObjectStore()
	doc := domain.Document{
		ID:       "doc-5",
		OwnerID:  "owner-1",
		MimeType: "image/jpeg",
		Status:   domain.StatusApproved,
		VaultKey: "users/owner-1/vault/doc-5",
	}
	if err := st.CreateDocument(doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := vault.Put(context.Background(), doc.VaultKey, bytes.NewReader([]byte("%PDF")), 4, "application/pdf"); err != nil {
		t.Fatalf("put vault: %v", err)
	}
	if err := st.CreateExtraction(domain.Extraction{DocumentID: doc.ID, Status: domain.ExtractionNotStarted}); err != nil {
		t.Fatalf("create extraction: %v", err)
	}

	gen := &ai.StaticGenerator{Response: `{"filing_status":null,"w2_wages":null,"total_deductions":null,"ira_distributions_total":null,"capital_gain_or_loss":null}`}
	o := NewOrchestrator(st, vault, &pdfOnlyExtractor{}, gen, slog.New(slog.DiscardHandler), time.Minute)

	// The vault artifact is the renderer's PDF even for image uploads; the
	// original mime type must not reach the extractor.
	if err := o.run(context.Background(), doc.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	ex, _, _ := st.GetExtraction(doc.ID)
	if ex.Status != domain.ExtractionCompleted {
		t.Fatalf("status = %s, want completed (error %q)", ex.Status, ex.Error)
	}
}

type pdfOnlyExtractor struct{}

func (pdfOnlyExtractor) Extract(_ context.Context, _ []byte, mimeType string) (domain.DocumentText, error) {
	if mimeType != "application/pdf" {
		return domain.DocumentText{}, fmt.Errorf("%w: got %s", domain.ErrUnsupportedDocument, mimeType)
	}
	return domain.DocumentText{Text: "Form 1040"}, nil
}

func TestOrchestratorRunIsExclusive(t *testing.T) {
	st := store.NewMemoryStore()
	vault := storage.NewMemoryObjectStore()
	seedApproved(t, st, vault, "doc-2")

	gen := &ai.StaticGenerator{Response: `{"filing_status":null,"w2_wages":null,"total_deductions":null,"ira_distributions_total":null,"capital_gain_or_loss":null}`}
	o := NewOrchestrator(st, vault, &stubExtractor{text: "x"}, gen, slog.New(slog.DiscardHandler), time.Minute)

	if err := o.run(context.Background(), "doc-2"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := o.run(context.Background(), "doc-2"); !errors.Is(err, domain.ErrConflictingState) {
		t.Fatalf("second run should lose the claim, got %v", err)
	}
}

func TestOrchestratorRunRecordsFailure(t *testing.T) {
	st := store.NewMemoryStore()
	vault := storage.NewMemoryObjectStore()
	seedApproved(t, st, vault, "doc-3")

	gen := &ai.StaticGenerator{Response: "sorry, I cannot read this document"}
	o := NewOrchestrator(st, vault, &stubExtractor{text: "x"}, gen, slog.New(slog.DiscardHandler), time.Minute)

	if err := o.run(context.Background(), "doc-3"); err == nil {
		t.Fatal("expected parse failure")
	}
	ex, _, _ := st.GetExtraction("doc-3")
	if ex.Status != domain.ExtractionFailed {
		t.Fatalf("status = %s, want failed", ex.Status)
	}
	if ex.Error == "" {
		t.Fatal("failure message not recorded")
	}
}

func TestOrchestratorStartDeduplicates(t *testing.T) {
	st := store.NewMemoryStore()
	vault := storage.NewMemoryObjectStore()
	seedApproved(t, st, vault, "doc-4")

	gen := &ai.StaticGenerator{Response: `{"filing_status":null,"w2_wages":null,"total_deductions":null,"ira_distributions_total":null,"capital_gain_or_loss":null}`}
	o := NewOrchestrator(st, vault, &stubExtractor{text: "x"}, gen, slog.New(slog.DiscardHandler), time.Minute)

	o.Start("doc-4")
	o.Start("doc-4")

	deadline := time.Now().Add(5 * time.Second)
	for {
		ex, _, err := st.GetExtraction("doc-4")
		if err != nil {
			t.Fatalf("get extraction: %v", err)
		}
		if ex.Status == domain.ExtractionCompleted {
			break
		}
		if ex.Status == domain.ExtractionFailed {
			t.Fatalf("extraction failed: %s", ex.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("extraction did not finish, status %s", ex.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
