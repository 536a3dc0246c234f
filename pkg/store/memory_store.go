package store

import (
	"sync"
	"time"

	"taxvault/pkg/domain"
)

// MemoryStore keeps records in-process. Used by tests and local development;
// transition semantics match GormStore exactly.
type MemoryStore struct {
	mu          sync.RWMutex
	documents   map[string]domain.Document
	extractions map[string]domain.Extraction
	order       []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:   make(map[string]domain.Document),
		extractions: make(map[string]domain.Extraction),
	}
}

func (m *MemoryStore) CreateDocument(doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[doc.ID]; !exists {
		m.order = append(m.order, doc.ID)
	}
	m.documents[doc.ID] = doc
	return nil
}

func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	return doc, ok, nil
}

func (m *MemoryStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0)
	for _, id := range m.order {
		if doc, ok := m.documents[id]; ok && doc.OwnerID == ownerID {
			res = append(res, doc)
		}
	}
	return res, nil
}

func (m *MemoryStore) TransitionDocument(id string, from, to domain.DocumentStatus, upd DocumentUpdate) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return domain.Document{}, domain.ErrNotFound
	}
	if doc.Status != from {
		return doc, domain.ErrConflictingState
	}
	doc.Status = to
	if upd.PIICount != nil {
		doc.PIICount = *upd.PIICount
	}
	if upd.StagingKey != nil {
		doc.StagingKey = *upd.StagingKey
	}
	if upd.RedactedKey != nil {
		doc.RedactedKey = *upd.RedactedKey
	}
	if upd.VaultKey != nil {
		doc.VaultKey = *upd.VaultKey
	}
	if upd.FailureReason != nil {
		doc.FailureReason = *upd.FailureReason
	}
	doc.UpdatedAt = time.Now().UTC()
	m.documents[id] = doc
	return doc, nil
}

func (m *MemoryStore) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, id)
	delete(m.extractions, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return nil
}

func (m *MemoryStore) CreateExtraction(ex domain.Extraction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractions[ex.DocumentID] = ex
	return nil
}

func (m *MemoryStore) GetExtraction(documentID string) (domain.Extraction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ex, ok := m.extractions[documentID]
	return ex, ok, nil
}

func (m *MemoryStore) TransitionExtraction(documentID string, from, to domain.ExtractionStatus, upd ExtractionUpdate) (domain.Extraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ex, ok := m.extractions[documentID]
	if !ok {
		return domain.Extraction{}, domain.ErrNotFound
	}
	if ex.Status != from {
		return ex, domain.ErrConflictingState
	}
	now := time.Now().UTC()
	ex.Status = to
	if upd.Fields != nil {
		fields := *upd.Fields
		ex.Fields = &fields
	}
	if upd.Error != nil {
		ex.Error = *upd.Error
	}
	if upd.ExtractedAt {
		ex.ExtractedAt = &now
	}
	ex.UpdatedAt = now
	m.extractions[documentID] = ex
	return ex, nil
}
