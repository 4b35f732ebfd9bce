package mapping

import (
	"github.com/roach88/hookledger/internal/ir"
)

// NormalizePayload validates that raw is exactly one well-formed JSON value
// and returns its canonical re-serialization: RFC 8785 key ordering, NFC
// strings, no insignificant whitespace.
//
// Only structure is checked. The payload's meaning is never interpreted, so
// any JSON value (object, array, scalar, null) is accepted.
func NormalizePayload(raw string) (string, error) {
	if raw == "" {
		return "", &MappingError{Code: ErrCodeMalformedPayload, Raw: raw, Err: errEmptyPayload}
	}

	v, err := ir.DecodeJSON([]byte(raw))
	if err != nil {
		return "", &MappingError{Code: ErrCodeMalformedPayload, Raw: raw, Err: err}
	}

	canonical, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", &MappingError{Code: ErrCodeMalformedPayload, Raw: raw, Err: err}
	}
	return string(canonical), nil
}

// NormalizePayloadValue normalizes a column value. Text and blob columns are
// parsed as JSON; structured values are re-serialized directly. SQL NULL
// returns ok=false and no error: an absent payload is not malformed.
func NormalizePayloadValue(v ir.Value) (normalized string, ok bool, err error) {
	switch val := v.(type) {
	case nil, ir.Null:
		return "", false, nil
	case ir.String:
		s, err := NormalizePayload(string(val))
		return s, err == nil, err
	case ir.Bytes:
		s, err := NormalizePayload(string(val))
		return s, err == nil, err
	default:
		canonical, err := ir.MarshalCanonical(val)
		if err != nil {
			return "", false, &MappingError{Code: ErrCodeMalformedPayload, Err: err}
		}
		return string(canonical), true, nil
	}
}
