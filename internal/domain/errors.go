package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = fmt.Errorf("document %w", ErrNotFound)
	// ErrVersionNotFound signals a missing document version.
	ErrVersionNotFound = fmt.Errorf("version %w", ErrNotFound)

	// ErrDenied signals that the principal lacks the required access level.
	// It is a normal outcome, not a failure.
	ErrDenied = errors.New("access denied")

	// ErrConflict signals a lost race on a document mutation.
	ErrConflict = errors.New("conflict")
	// ErrDocumentDeleted signals a mutation against a tombstoned document.
	ErrDocumentDeleted = fmt.Errorf("document deleted: %w", ErrConflict)

	// ErrEvaluation signals that a permission decision could not be made.
	ErrEvaluation = errors.New("permission evaluation failed")
	// ErrIndexPropagation signals a failed index update. Never surfaced to callers.
	ErrIndexPropagation = errors.New("index propagation failed")

	// ErrInvalidInput signals a malformed request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupportedContent signals a content type outside the allow-list
	// or content that could not be read.
	ErrUnsupportedContent = errors.New("unsupported content")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
)

// VersionConflictError reports that a version number was taken concurrently.
type VersionConflictError struct {
	DocumentID string
	Number     int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s: version %d of document %s already exists", ErrConflict.Error(), e.Number, e.DocumentID)
}

func (e *VersionConflictError) Unwrap() error { return ErrConflict }

// NewVersionConflict creates a version conflict error.
func NewVersionConflict(documentID string, number int) error {
	return &VersionConflictError{DocumentID: documentID, Number: number}
}

// EvaluationError wraps a failure of the identity collaborator
// (error, timeout, cancellation) during a permission decision.
type EvaluationError struct {
	Op  string
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrEvaluation.Error(), e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *EvaluationError) Unwrap() []error { return []error{ErrEvaluation, e.Err} }

// Retryable reports that the caller may repeat the request.
func (e *EvaluationError) Retryable() bool { return true }

// NewEvaluationError wraps err as an EvaluationError.
func NewEvaluationError(op string, err error) error {
	return &EvaluationError{Op: op, Err: err}
}

// IndexPropagationError describes a failed attempt to bring the search index
// up to date with a document.
type IndexPropagationError struct {
	DocumentID string
	Attempt    int
	Err        error
}

func (e *IndexPropagationError) Error() string {
	return fmt.Sprintf("%s: document %s attempt %d: %v", ErrIndexPropagation.Error(), e.DocumentID, e.Attempt, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *IndexPropagationError) Unwrap() []error { return []error{ErrIndexPropagation, e.Err} }
