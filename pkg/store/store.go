package store

import "taxvault/pkg/domain"

// DocumentUpdate carries the optional fields a status transition may set.
// Nil pointers leave the stored value untouched.
type DocumentUpdate struct {
	PIICount      *int
	StagingKey    *string
	RedactedKey   *string
	VaultKey      *string
	FailureReason *string
}

// ExtractionUpdate carries the optional fields an extraction transition
// may set.
type ExtractionUpdate struct {
	Fields      *domain.TaxFields
	Error       *string
	ExtractedAt bool // stamp extracted_at = now
}

// Store is the durable record storage for documents and extractions.
//
// TransitionDocument and TransitionExtraction are conditional updates: the
// row is modified only when its current status equals `from`. When the row
// exists but the status differs, domain.ErrConflictingState is returned and
// the stored record is left unchanged. This is the unit of mutual exclusion
// for the whole lifecycle: two racing callers cannot both win a transition.
type Store interface {
	CreateDocument(doc domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocumentsByOwner(ownerID string) ([]domain.Document, error)
	TransitionDocument(id string, from, to domain.DocumentStatus, upd DocumentUpdate) (domain.Document, error)
	DeleteDocument(id string) error

	CreateExtraction(ex domain.Extraction) error
	GetExtraction(documentID string) (domain.Extraction, bool, error)
	TransitionExtraction(documentID string, from, to domain.ExtractionStatus, upd ExtractionUpdate) (domain.Extraction, error)
}
