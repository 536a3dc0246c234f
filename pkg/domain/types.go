package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded        DocumentStatus = "uploaded"
	StatusRedacting       DocumentStatus = "redacting"
	StatusRedacted        DocumentStatus = "redacted"
	StatusRedactionFailed DocumentStatus = "redaction_failed"
	StatusApproved        DocumentStatus = "approved"
	StatusRejected        DocumentStatus = "rejected"
)

// Document is one user-submitted file moving through the sanitization
// workflow. Storage keys are never exposed over the API; callers get
// short-lived presigned URLs instead.
type Document struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"ownerId"`
	Filename      string         `json:"filename"`
	MimeType      string         `json:"mimeType"`
	SizeBytes     int64          `json:"sizeBytes"`
	Status        DocumentStatus `json:"status"`
	StagingKey    string         `json:"-"`
	RedactedKey   string         `json:"-"`
	VaultKey      string         `json:"-"`
	PIICount      int            `json:"piiCount"`
	FailureReason string         `json:"failureReason,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

type ExtractionStatus string

const (
	ExtractionNotStarted ExtractionStatus = "not_started"
	ExtractionRunning    ExtractionStatus = "extracting"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
)

// TaxFields holds the five fields pulled from an approved 1040. Every field
// is independently nullable; a null field is not an extraction failure.
type TaxFields struct {
	FilingStatus          *string  `json:"filing_status"`
	W2Wages               *float64 `json:"w2_wages"`
	TotalDeductions       *float64 `json:"total_deductions"`
	IRADistributionsTotal *float64 `json:"ira_distributions_total"`
	CapitalGainOrLoss     *float64 `json:"capital_gain_or_loss"`
}

// Extraction is derived from an approved document, one per document.
type Extraction struct {
	DocumentID  string           `json:"documentId"`
	Status      ExtractionStatus `json:"status"`
	Fields      *TaxFields       `json:"fields,omitempty"`
	Error       string           `json:"error,omitempty"`
	ExtractedAt *time.Time       `json:"extractedAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Rect is a rectangle in normalized page coordinates (0..1, origin top-left).
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// TextRun is a contiguous span of OCR text and its enclosing rectangle.
// Start/End are byte offsets of the run inside DocumentText.Text; runs are
// ordered by Start and never overlap.
type TextRun struct {
	Text  string
	Page  int
	Start int
	End   int
	Box   Rect
}

// PageText is the OCR output for one page, runs in reading order.
type PageText struct {
	Number int
	Width  float64
	Height float64
	Runs   []TextRun
}

// DocumentText is the full geometry-aware OCR result. Text is the canonical
// concatenation every PII offset refers to; it must be handed byte-for-byte
// to the detector.
type DocumentText struct {
	Text  string
	Pages []PageText
}

// Runs returns all runs across pages in concatenation order.
func (d DocumentText) Runs() []TextRun {
	var runs []TextRun
	for _, p := range d.Pages {
		runs = append(runs, p.Runs...)
	}
	return runs
}

// PiiFinding is one detected sensitive span. Offsets index DocumentText.Text.
type PiiFinding struct {
	Category   string `json:"category"`
	Quote      string `json:"quote"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Likelihood string `json:"likelihood"`
}

// RedactionBox is a page-local rectangle to be painted opaque.
type RedactionBox struct {
	Page     int
	Box      Rect
	Category string
}
