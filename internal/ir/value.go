package ir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"slices"
	"strconv"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Value is a sealed interface over the column and payload value types.
// Only Null, String, Int, BigInt, Float, Bool, Bytes, Array and Object implement it.
type Value interface {
	value() // Sealed
}

// Null represents SQL NULL / JSON null.
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a text value.
type String string

func (String) value() {}

// Int is an integer value. Always int64.
type Int int64

func (Int) value() {}

// BigInt is an integer literal outside the int64 range, kept as its exact
// decimal digits so payload normalization never rounds it through float64.
type BigInt string

func (BigInt) value() {}

// Float is a finite floating point value. NaN and infinities are rejected by
// the canonical encoder.
type Float float64

func (Float) value() {}

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}

// Bytes is a blob value. Canonical JSON renders it as standard base64 text.
type Bytes []byte

func (Bytes) value() {}

// Array is an ordered list of values.
type Array []Value

func (Array) value() {}

// Object maps keys to values. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// Record is a single row image: column name to value.
type Record = Object

// IsNull reports whether v is absent or SQL NULL.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Equal reports whether a and b encode to the same canonical JSON.
// A missing value and Null are equal.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	ca, errA := MarshalCanonical(a)
	cb, errB := MarshalCanonical(b)
	return errA == nil && errB == nil && bytes.Equal(ca, cb)
}

// Clone returns a deep copy of obj. A nil Object clones to nil.
func (obj Object) Clone() Object {
	if obj == nil {
		return nil
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Object:
		return val.Clone()
	case Array:
		arr := make(Array, len(val))
		for i, elem := range val {
			arr[i] = cloneValue(elem)
		}
		return arr
	case Bytes:
		return Bytes(bytes.Clone(val))
	default:
		return v
	}
}

// Columns returns the object's keys in canonical order.
func (obj Object) Columns() []string {
	return obj.SortedKeys()
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's string comparison orders by UTF-8 bytes, which differs above the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	for i := 0; i < min(len(a16), len(b16)); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Text renders a scalar value as plain text, the way a passthrough column is
// copied verbatim. ok is false for NULL, arrays and objects.
func Text(v Value) (s string, ok bool) {
	switch val := v.(type) {
	case String:
		return string(val), true
	case Int:
		return strconv.FormatInt(int64(val), 10), true
	case BigInt:
		return string(val), true
	case Float:
		f, err := formatFloat(float64(val))
		if err != nil {
			return "", false
		}
		return f, true
	case Bool:
		return strconv.FormatBool(bool(val)), true
	case Bytes:
		return string(val), true
	default:
		return "", false
	}
}

// FromGo converts a Go value (as produced by database/sql drivers or by
// decoding YAML/JSON fixtures) into a Value.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case []byte:
		return Bytes(bytes.Clone(val)), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case float32:
		return fromFloat(float64(val))
	case float64:
		return fromFloat(val)
	case json.Number:
		return fromNumber(val)
	case time.Time:
		return String(val.UTC().Format(time.RFC3339Nano)), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// ObjectFromGo converts a map into an Object.
func ObjectFromGo(m map[string]any) (Object, error) {
	if m == nil {
		return nil, nil
	}
	v, err := FromGo(m)
	if err != nil {
		return nil, err
	}
	return v.(Object), nil
}

// ToGo converts a Value into the driver-friendly Go value used as a SQL
// argument. Arrays and objects are passed as canonical JSON text.
func ToGo(v Value) (any, error) {
	switch val := v.(type) {
	case nil, Null:
		return nil, nil
	case String:
		return string(val), nil
	case Int:
		return int64(val), nil
	case BigInt:
		return string(val), nil
	case Float:
		return float64(val), nil
	case Bool:
		return bool(val), nil
	case Bytes:
		return []byte(val), nil
	case Array, Object:
		data, err := MarshalCanonical(val)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

func fromFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite float: %v", f)
	}
	// Whole numbers inside the exact int range stay integers so that a
	// driver returning 1.0 for an INTEGER affinity column round-trips.
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return Int(int64(f)), nil
	}
	return Float(f), nil
}

var integerLiteral = regexp.MustCompile(`^-?[0-9]+$`)

func fromNumber(n json.Number) (Value, error) {
	if i, err := n.Int64(); err == nil {
		return Int(i), nil
	}
	if integerLiteral.MatchString(n.String()) {
		return BigInt(n.String()), nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", n.String(), err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("number out of range: %s", n.String())
	}
	return Float(f), nil
}

// UnmarshalJSON implements json.Unmarshaler for Object.
// Numbers decode through json.Number so integers above 2^53 keep every digit.
func (obj *Object) UnmarshalJSON(data []byte) error {
	v, err := DecodeJSON(data)
	if err != nil {
		return err
	}
	o, ok := v.(Object)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	*obj = o
	return nil
}

// MarshalJSON implements json.Marshaler for Object using canonical encoding.
func (obj Object) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(obj)
}

// DecodeJSON parses exactly one JSON value. Trailing data is an error, and
// so is any input encoding/json would otherwise repair or collapse: invalid
// UTF-8, unpaired surrogate escapes and duplicate object member names
// (compared after NFC normalization, as the canonical form emits them).
func DecodeJSON(data []byte) (Value, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("invalid UTF-8 in JSON input")
	}
	if err := checkSurrogates(data); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	raw, err := decodeToken(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected trailing data after JSON value")
	}

	return FromGo(raw)
}

// decodeToken reads one value token by token so object members can be
// checked for duplicates before the map would overwrite them.
func decodeToken(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		obj := make(map[string]any)
		seen := make(map[string]bool)
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("object key is %T, not a string", kt)
			}
			nk := norm.NFC.String(key)
			if seen[nk] {
				return nil, fmt.Errorf("duplicate object member %q", key)
			}
			seen[nk] = true

			v, err := decodeToken(dec)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", key, err)
			}
			obj[key] = v
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []any{}
		for dec.More() {
			v, err := decodeToken(dec)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", len(arr), err)
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", rune(delim))
	}
}

// checkSurrogates rejects \u escapes encoding half of a surrogate pair.
// A high surrogate must be followed directly by an escaped low surrogate.
func checkSurrogates(data []byte) error {
	inString := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if !inString {
			inString = c == '"'
			continue
		}
		switch c {
		case '"':
			inString = false
		case '\\':
			if i+1 >= len(data) || data[i+1] != 'u' {
				i++
				continue
			}
			r, ok := hexEscape(data, i+2)
			if !ok || !utf16.IsSurrogate(r) {
				i += 5
				continue
			}
			if r >= 0xDC00 {
				return fmt.Errorf("unpaired surrogate escape at offset %d", i)
			}
			var lo rune
			if i+12 <= len(data) && data[i+6] == '\\' && data[i+7] == 'u' {
				lo, _ = hexEscape(data, i+8)
			}
			if lo < 0xDC00 || lo > 0xDFFF {
				return fmt.Errorf("unpaired surrogate escape at offset %d", i)
			}
			i += 11
		}
	}
	return nil
}

// hexEscape parses the four hex digits of a \u escape starting at at.
func hexEscape(data []byte, at int) (rune, bool) {
	if at+4 > len(data) {
		return 0, false
	}
	n, err := strconv.ParseUint(string(data[at:at+4]), 16, 16)
	if err != nil {
		return 0, false
	}
	return rune(n), true
}
