package mapping

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes mapping failures.
type ErrorCode string

const (
	// ErrCodeUnmappedStatus indicates a raw status absent from the status table.
	ErrCodeUnmappedStatus ErrorCode = "UNMAPPED_STATUS"

	// ErrCodeInvalidEnumValue indicates a raw value outside the enum domain.
	ErrCodeInvalidEnumValue ErrorCode = "INVALID_ENUM_VALUE"

	// ErrCodeMalformedPayload indicates a payload that failed structural parsing.
	ErrCodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"
)

// Sentinels for errors.Is matching. A *MappingError matches the sentinel of
// its code.
var (
	ErrUnmappedStatus   = errors.New("unmapped status")
	ErrInvalidEnumValue = errors.New("invalid enum value")
	ErrMalformedPayload = errors.New("malformed payload")
)

// MappingError reports a raw value the mapping layer refused to translate.
type MappingError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Table names the status table or enum domain consulted. Empty for payloads.
	Table string

	// Field is the source column, when the caller knows it.
	Field string

	// Raw is the offending input.
	Raw string

	// Err is the underlying parse error for malformed payloads.
	Err error
}

// Error implements the error interface.
func (e *MappingError) Error() string {
	msg := fmt.Sprintf("%s: %q", e.Code, e.Raw)
	if e.Table != "" {
		msg += fmt.Sprintf(" (table=%s", e.Table)
		if e.Field != "" {
			msg += ", field=" + e.Field
		}
		msg += ")"
	} else if e.Field != "" {
		msg += fmt.Sprintf(" (field=%s)", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying parse error, if any.
func (e *MappingError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error's code.
func (e *MappingError) Is(target error) bool {
	switch target {
	case ErrUnmappedStatus:
		return e.Code == ErrCodeUnmappedStatus
	case ErrInvalidEnumValue:
		return e.Code == ErrCodeInvalidEnumValue
	case ErrMalformedPayload:
		return e.Code == ErrCodeMalformedPayload
	}
	return false
}

// WithField returns a copy of the error annotated with the source column.
func (e *MappingError) WithField(field string) *MappingError {
	cp := *e
	cp.Field = field
	return &cp
}

// CodeOf extracts the mapping error code from err, or "" if err is not a
// mapping error. Uses errors.As to see through wrapping.
func CodeOf(err error) ErrorCode {
	var me *MappingError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

var errEmptyPayload = errors.New("empty payload")
