package ir

import (
	"fmt"
	"slices"
	"strings"
)

// Operation identifies a mutation kind. Values are bit flags so that a
// registration can observe several operations with one mask.
type Operation uint8

const (
	OpInsert Operation = 1 << iota
	OpUpdate
	OpDelete
	OpTruncate

	OpAll = OpInsert | OpUpdate | OpDelete | OpTruncate
)

var operationNames = []struct {
	op   Operation
	name string
}{
	{OpInsert, "insert"},
	{OpUpdate, "update"},
	{OpDelete, "delete"},
	{OpTruncate, "truncate"},
}

// String returns the lower-case operation name, or names joined with "|"
// for a mask.
func (op Operation) String() string {
	var parts []string
	for _, n := range operationNames {
		if op&n.op != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Has reports whether mask includes every bit of op.
func (op Operation) Has(other Operation) bool {
	return other != 0 && op&other == other
}

// Single reports whether op names exactly one operation.
func (op Operation) Single() bool {
	return op != 0 && op&(op-1) == 0 && op&^OpAll == 0
}

// Each returns the single operations contained in the mask, in declaration order.
func (op Operation) Each() []Operation {
	var out []Operation
	for _, n := range operationNames {
		if op&n.op != 0 {
			out = append(out, n.op)
		}
	}
	return out
}

// ParseOperation parses an operation name. "all" yields OpAll.
func ParseOperation(s string) (Operation, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "all" {
		return OpAll, nil
	}
	for _, n := range operationNames {
		if n.name == s {
			return n.op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// ParseOperationMask parses a list of operation names into a mask.
func ParseOperationMask(names []string) (Operation, error) {
	var mask Operation
	for _, name := range names {
		op, err := ParseOperation(name)
		if err != nil {
			return 0, err
		}
		mask |= op
	}
	if mask == 0 {
		return 0, fmt.Errorf("empty operation mask")
	}
	return mask, nil
}

// Timing identifies when an observer runs relative to the mutation.
type Timing uint8

const (
	Before Timing = iota + 1
	After
	InsteadOf
)

func (t Timing) String() string {
	switch t {
	case Before:
		return "before"
	case After:
		return "after"
	case InsteadOf:
		return "instead_of"
	default:
		return fmt.Sprintf("timing(%d)", uint8(t))
	}
}

// ParseTiming parses "before", "after" or "instead_of".
func ParseTiming(s string) (Timing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "before":
		return Before, nil
	case "after":
		return After, nil
	case "instead_of", "insteadof", "instead of":
		return InsteadOf, nil
	}
	return 0, fmt.Errorf("unknown timing %q", s)
}

// Granularity identifies whether an observer runs per row or per statement.
type Granularity uint8

const (
	Row Granularity = iota + 1
	Statement
)

func (g Granularity) String() string {
	switch g {
	case Row:
		return "row"
	case Statement:
		return "statement"
	default:
		return fmt.Sprintf("granularity(%d)", uint8(g))
	}
}

// ParseGranularity parses "row" or "statement".
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "row":
		return Row, nil
	case "statement":
		return Statement, nil
	}
	return 0, fmt.Errorf("unknown granularity %q", s)
}

// RowImage carries the OLD and NEW images visible to an observer.
// A nil Record means the image is absent.
type RowImage struct {
	Old Record `json:"old,omitempty"`
	New Record `json:"new,omitempty"`
}

// NewRowImage builds a RowImage and enforces the presence rules fixed by the
// operation: Insert has NEW only, Delete has OLD only, Update has both.
// Truncate carries no row images.
func NewRowImage(op Operation, oldRow, newRow Record) (RowImage, error) {
	img := RowImage{Old: oldRow, New: newRow}
	if err := img.Validate(op, Row); err != nil {
		return RowImage{}, err
	}
	return img, nil
}

// Validate checks the presence rules for op at granularity g.
// Statement-granularity events never carry row images.
func (img RowImage) Validate(op Operation, g Granularity) error {
	if g == Statement || op == OpTruncate {
		if img.Old != nil || img.New != nil {
			return fmt.Errorf("%s %s event must not carry row images", g, op)
		}
		return nil
	}
	switch op {
	case OpInsert:
		if img.Old != nil {
			return fmt.Errorf("insert event must not carry OLD")
		}
		if img.New == nil {
			return fmt.Errorf("insert event requires NEW")
		}
	case OpUpdate:
		if img.Old == nil || img.New == nil {
			return fmt.Errorf("update event requires both OLD and NEW")
		}
	case OpDelete:
		if img.New != nil {
			return fmt.Errorf("delete event must not carry NEW")
		}
		if img.Old == nil {
			return fmt.Errorf("delete event requires OLD")
		}
	default:
		return fmt.Errorf("row event requires a single operation, got %s", op)
	}
	return nil
}

// MutationEvent is an ephemeral description of one row or statement change,
// created by the storage engine and consumed synchronously by the dispatcher.
type MutationEvent struct {
	Table       string      `json:"table"`
	Operation   Operation   `json:"operation"`
	Timing      Timing      `json:"timing"`
	Granularity Granularity `json:"granularity"`
	Image       RowImage    `json:"image"`

	// ChangedColumns lists the columns named by an UPDATE, sorted.
	// Empty for every other operation.
	ChangedColumns []string `json:"changed_columns,omitempty"`
}

// Validate checks the event's structural invariants.
func (ev MutationEvent) Validate() error {
	if ev.Table == "" {
		return fmt.Errorf("event table is required")
	}
	if !ev.Operation.Single() {
		return fmt.Errorf("event must name exactly one operation, got %s", ev.Operation)
	}
	if ev.Operation != OpUpdate && len(ev.ChangedColumns) > 0 {
		return fmt.Errorf("%s event must not carry changed columns", ev.Operation)
	}
	return ev.Image.Validate(ev.Operation, ev.Granularity)
}

// ColumnChanged reports whether column is among the event's changed columns.
func (ev MutationEvent) ColumnChanged(column string) bool {
	_, found := slices.BinarySearch(ev.ChangedColumns, column)
	return found
}

// SortedColumns returns a sorted, de-duplicated copy of cols.
func SortedColumns(cols []string) []string {
	if len(cols) == 0 {
		return nil
	}
	out := slices.Clone(cols)
	slices.Sort(out)
	return slices.Compact(out)
}
