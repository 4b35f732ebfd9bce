package ledger

import (
	"errors"
	"fmt"
)

// ErrMissingField matches a FieldError via errors.Is.
var ErrMissingField = errors.New("missing field")

// FieldError reports a required source field that is absent or NULL.
type FieldError struct {
	Writer string
	Column string
	Reason string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("MISSING_FIELD: %s (writer=%s, column=%s)", e.Reason, e.Writer, e.Column)
}

// Is matches ErrMissingField.
func (e *FieldError) Is(target error) bool {
	return target == ErrMissingField
}
