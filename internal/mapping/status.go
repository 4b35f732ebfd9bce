package mapping

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/hookledger/internal/ir"
)

// StatusTable maps raw status text to a canonical status. It is immutable
// after construction and safe for concurrent use.
type StatusTable struct {
	name    string
	entries map[string]ir.CanonicalStatus
}

// NewStatusTable builds a status table from raw -> canonical pairs.
// The input map is copied. Raw keys must be non-empty and canonical values
// must be UPPER_SNAKE_CASE enumeration tags.
func NewStatusTable(name string, entries map[string]string) (*StatusTable, error) {
	if name == "" {
		return nil, fmt.Errorf("status table name is required")
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("status table %q: at least one entry is required", name)
	}

	st := &StatusTable{name: name, entries: make(map[string]ir.CanonicalStatus, len(entries))}
	for _, raw := range slices.Sorted(maps.Keys(entries)) {
		canonical := entries[raw]
		if raw == "" {
			return nil, fmt.Errorf("status table %q: empty raw status", name)
		}
		if !ir.ValidEnumTag(canonical) {
			return nil, fmt.Errorf("status table %q: raw %q maps to invalid canonical status %q", name, raw, canonical)
		}
		st.entries[raw] = ir.CanonicalStatus(canonical)
	}
	return st, nil
}

// MustStatusTable is like NewStatusTable but panics on error.
// Use only in tests or for tables declared in code.
func MustStatusTable(name string, entries map[string]string) *StatusTable {
	st, err := NewStatusTable(name, entries)
	if err != nil {
		panic(err)
	}
	return st
}

// Name returns the table's name.
func (st *StatusTable) Name() string {
	return st.name
}

// Map translates raw status text. Matching is exact: no trimming, no case
// folding. A raw value absent from the table fails with ErrUnmappedStatus.
func (st *StatusTable) Map(raw string) (ir.CanonicalStatus, error) {
	if canonical, ok := st.entries[raw]; ok {
		return canonical, nil
	}
	return "", &MappingError{Code: ErrCodeUnmappedStatus, Table: st.name, Raw: raw}
}

// RawValues returns the accepted raw statuses, sorted.
func (st *StatusTable) RawValues() []string {
	return slices.Sorted(maps.Keys(st.entries))
}

// CanonicalValues returns the distinct canonical statuses, sorted.
func (st *StatusTable) CanonicalValues() []ir.CanonicalStatus {
	seen := make(map[ir.CanonicalStatus]struct{}, len(st.entries))
	for _, c := range st.entries {
		seen[c] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Len returns the number of raw entries.
func (st *StatusTable) Len() int {
	return len(st.entries)
}
