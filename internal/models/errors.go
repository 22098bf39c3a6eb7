package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies scraping failures. Policy is attached to the kind,
// not the site of the failure: callers consult Retryable and the kind only.
type ErrorKind string

const (
	// ErrKindTransient covers navigation timeouts, 5xx responses and flaky
	// network conditions; retried with exponential backoff.
	ErrKindTransient ErrorKind = "transient"
	// ErrKindStaleDOM is an element that went stale mid-traversal; retried
	// once at the element level before the slow path takes over.
	ErrKindStaleDOM ErrorKind = "stale_dom"
	// ErrKindCaptcha marks a CAPTCHA or login wall; the department is skipped
	// with a reason and the run continues.
	ErrKindCaptcha ErrorKind = "captcha_required"
	// ErrKindParserMiss is a present row with a missing required field; the
	// row is stored best-effort with raw_json intact.
	ErrKindParserMiss ErrorKind = "parser_miss"
	// ErrKindOversized is a department above the safety ceiling.
	ErrKindOversized ErrorKind = "oversized"
	// ErrKindDatastoreIO covers disk and lock failures; the checkpoint saver
	// retries on its next tick.
	ErrKindDatastoreIO ErrorKind = "datastore_io"
	// ErrKindPoisoned is an unresponsive or crashed browser session.
	ErrKindPoisoned ErrorKind = "poisoned"
	// ErrKindNavigation is a list page unreachable after retries.
	ErrKindNavigation ErrorKind = "navigation"
	// ErrKindFatalConfig fails fast before preflight.
	ErrKindFatalConfig ErrorKind = "fatal_config"
)

// ScrapeError is the typed error carried across capability boundaries
type ScrapeError struct {
	Kind      ErrorKind
	Detail    string
	Retryable bool
	Err       error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError builds a ScrapeError; transient and stale-DOM kinds are
// retryable by construction.
func NewScrapeError(kind ErrorKind, detail string, err error) *ScrapeError {
	return &ScrapeError{
		Kind:      kind,
		Detail:    detail,
		Retryable: kind == ErrKindTransient || kind == ErrKindStaleDOM,
		Err:       err,
	}
}

// KindOf extracts the ErrorKind from err, defaulting to transient for plain
// errors so unknown failures stay on the retry path rather than killing a
// department outright.
func KindOf(err error) ErrorKind {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrKindTransient
}

// IsRetryable reports whether err should be retried under the backoff policy.
// Cancellation is never retryable; it means the run is shutting down.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}
