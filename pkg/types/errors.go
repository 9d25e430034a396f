package types

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// ErrInvalidInput is matched by every ValidationError
	ErrInvalidInput = errors.New("invalid input")

	// Answer result errors
	ErrEmptyAnswer           = errors.New("answer cannot be empty")
	ErrMissingQueryID        = errors.New("query ID is required")
	ErrInvalidCitation       = errors.New("citation must reference a message")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
)

// ValidationError reports which input constraint was violated
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrInvalidInput) hold for every ValidationError
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}
