package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline, store, and HTTP layers.
var (
	// ErrNotFound: no record visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrConflictingState: a transition was requested from the wrong source
	// status. Callers must re-fetch; the request is never retried silently.
	ErrConflictingState = errors.New("conflicting document state")

	// ErrUnsupportedDocument: the input bytes cannot be processed. Terminal.
	ErrUnsupportedDocument = errors.New("unsupported document")

	// ErrMappingFailure: a PII finding could not be anchored to any OCR run.
	// Terminal; the redaction is failed rather than partially applied.
	ErrMappingFailure = errors.New("pii finding could not be mapped to page geometry")

	// ErrResidualPII: the validation re-scan found PII in redacted output.
	// Terminal and never retried.
	ErrResidualPII = errors.New("residual pii detected in redacted output")
)

// TransportError marks an upstream service failure (unreachable, rate
// limited, timed out) that is safe to retry with backoff.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a retryable transport failure.
func Transport(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// IsTransport reports whether err is retryable.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
