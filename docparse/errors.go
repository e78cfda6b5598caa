package docparse

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failed extraction.
type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindTooLarge          Kind = "too_large"
	KindExtractionFailed  Kind = "extraction_failed"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal_error"
)

// Reason qualifies a KindExtractionFailed error. It is meant for logs and
// never appears in PublicMessage.
type Reason string

const (
	ReasonEncrypted Reason = "encrypted"
	ReasonCorrupt   Reason = "corrupt"
	ReasonEmpty     Reason = "empty"
	ReasonUnknown   Reason = "unknown"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrUnsupportedFormat = errors.New("docparse: unsupported format")
	ErrTooLarge          = errors.New("docparse: file too large")
	ErrExtractionFailed  = errors.New("docparse: extraction failed")
	ErrNotFound          = errors.New("docparse: document not found")
	ErrInternal          = errors.New("docparse: internal error")
)

// Error is the only error type returned by Pipeline.Extract besides context
// errors. It carries no library error text.
type Error struct {
	Kind   Kind
	Reason Reason
}

func (e *Error) Error() string {
	if e.Kind == KindExtractionFailed {
		return fmt.Sprintf("docparse: %s (%s)", e.Kind, e.Reason)
	}
	return "docparse: " + string(e.Kind)
}

// Is matches the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnsupportedFormat:
		return e.Kind == KindUnsupportedFormat
	case ErrTooLarge:
		return e.Kind == KindTooLarge
	case ErrExtractionFailed:
		return e.Kind == KindExtractionFailed
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrInternal:
		return e.Kind == KindInternal
	}
	return false
}

// ReasonOf returns the extraction failure reason of err, or "" when err is
// not an extraction failure.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindExtractionFailed {
		return e.Reason
	}
	return ""
}

// KindOf returns the kind of err. Errors that did not come from the
// pipeline report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns a message safe to show to end users.
func PublicMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Document processing timed out."
	}
	if errors.Is(err, context.Canceled) {
		return "Document processing was cancelled."
	}
	switch KindOf(err) {
	case KindUnsupportedFormat:
		return "Unsupported file format. Supported formats: PDF, TXT, DOCX."
	case KindTooLarge:
		return fmt.Sprintf("File too large. Maximum size is %d MB.", MaxFileSize>>20)
	case KindExtractionFailed:
		return "Document processing failed."
	case KindNotFound:
		return "Document not found or not readable."
	default:
		return "An internal error occurred."
	}
}

// failure is the internal error extractors return for anticipated problems.
// The orchestrator turns it into an *Error and logs the cause.
type failure struct {
	reason Reason
	cause  error
}

func (f *failure) Error() string {
	if f.cause == nil {
		return string(f.reason)
	}
	return string(f.reason) + ": " + f.cause.Error()
}

func (f *failure) Unwrap() error { return f.cause }

func fail(reason Reason, cause error) error {
	return &failure{reason: reason, cause: cause}
}

func failf(reason Reason, format string, args ...any) error {
	return &failure{reason: reason, cause: fmt.Errorf(format, args...)}
}
