package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrCaseNotFound      = errors.New("case not found")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrGeneratedNotFound = errors.New("generated document not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("concurrent update conflict")
	ErrTemporary         = errors.New("temporary failure")

	ErrExtraction        = errors.New("extraction error")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrUnreadable        = errors.New("unreadable file")
	ErrClassification    = errors.New("classification error")
	ErrAggregation       = errors.New("aggregation error")
	ErrGeneration        = errors.New("generation error")
	ErrNotReady          = errors.New("case not ready")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// GenerationError is returned to callers when a document cannot be generated.
// Reason is safe to show to users.
type GenerationError struct {
	DocumentType DocumentType
	Reason       string
	Err          error
}

func NewGenerationError(docType DocumentType, reason string, err error) *GenerationError {
	return &GenerationError{DocumentType: docType, Reason: reason, Err: err}
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("generate %s: %s", e.DocumentType, e.Reason)
	}
	return fmt.Sprintf("generate %s: %s: %v", e.DocumentType, e.Reason, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrGeneration}
	}
	return []error{ErrGeneration, e.Err}
}

// FailureReason renders a processing error as the human-readable cause stored
// in Document.ProcessingError.
func FailureReason(stage ProcessingStatus, err error) string {
	prefix := stage.Label() + " failed"
	switch {
	case err == nil:
		return prefix
	case errors.Is(err, ErrUnsupportedFormat):
		return prefix + ": unsupported file format"
	case errors.Is(err, ErrUnreadable):
		return prefix + ": file could not be read"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTemporary):
		return prefix + ": extraction service unavailable after retries"
	case errors.Is(err, ErrClassification):
		return prefix + ": document type could not be determined"
	case errors.Is(err, ErrExtraction):
		return prefix + ": structured data could not be extracted"
	case errors.Is(err, ErrInvalidInput):
		return prefix + ": document content is empty or invalid"
	default:
		return prefix + ": unexpected processing error"
	}
}
