package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline failures. Components wrap these with %w so
// callers can classify failures with errors.Is.
var (
	ErrMalformedInput    = errors.New("malformed input")
	ErrEmbedding         = errors.New("embedding failed")
	ErrCollection        = errors.New("collection error")
	ErrUpsert            = errors.New("upsert failed")
	ErrSearch            = errors.New("search failed")
	ErrAnswerGeneration  = errors.New("answer generation failed")
	ErrInvalidUpload     = errors.New("invalid upload")
	ErrInvalidQuestion   = errors.New("invalid question")
)

// ValidationError wraps a sentinel with field context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
