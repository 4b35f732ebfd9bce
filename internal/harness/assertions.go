package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/hookledger/internal/ir"
	"github.com/roach88/hookledger/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string        // Assertion type for categorization
	Expected string        // Human-readable expected outcome
	Actual   string        // Human-readable actual outcome
	Ledger   []store.Entry // Full ledger for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Ledger) > 0 {
		fmt.Fprintf(&buf, "\nLedger:\n")
		for _, entry := range e.Ledger {
			fmt.Fprintf(&buf, "  [%d] %s %s key=%s status=%s\n",
				entry.Seq, entry.SourceTable, entry.RequestType, entry.Key, entry.Status)
		}
	}

	return buf.String()
}

// entryObject is the assertable form of a ledger entry: the canonical
// record plus seq and digest.
func entryObject(e store.Entry) ir.Object {
	obj := e.CanonicalObject()
	obj["seq"] = ir.Int(e.Seq)
	obj["digest"] = ir.String(e.Digest)
	return obj
}

// assertLedgerCount checks the number of ledger entries matching Where.
func assertLedgerCount(ledger []store.Entry, assertion Assertion) error {
	where, err := ir.ObjectFromGo(assertion.Where)
	if err != nil {
		return fmt.Errorf("ledger_count where: %w", err)
	}

	n := 0
	for _, e := range ledger {
		if matchSubset(entryObject(e), where) {
			n++
		}
	}
	if n != assertion.Count {
		return &AssertionError{
			Type:     AssertLedgerCount,
			Expected: fmt.Sprintf("%d records where %s", assertion.Count, formatWhereClause(assertion.Where)),
			Actual:   fmt.Sprintf("%d records", n),
			Ledger:   ledger,
		}
	}
	return nil
}

// assertLedgerContains checks that some ledger entry matches Expect
// (subset match).
func assertLedgerContains(ledger []store.Entry, assertion Assertion) error {
	expect, err := ir.ObjectFromGo(assertion.Expect)
	if err != nil {
		return fmt.Errorf("ledger_contains expect: %w", err)
	}
	for _, e := range ledger {
		if matchSubset(entryObject(e), expect) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertLedgerContains,
		Expected: fmt.Sprintf("record with %s", formatWhereClause(assertion.Expect)),
		Actual:   "not found in ledger",
		Ledger:   ledger,
	}
}

// assertFinalState checks that exactly one row of Table matches Where and
// that it carries the expected values (subset semantics).
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	rows, err := matchingRows(ctx, st, assertion)
	if err != nil {
		return err
	}

	whereDesc := formatWhereClause(assertion.Where)
	switch len(rows) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	expect, err := ir.ObjectFromGo(assertion.Expect)
	if err != nil {
		return fmt.Errorf("final_state expect: %w", err)
	}
	row := rows[0]
	for _, key := range expect.SortedKeys() {
		actual, exists := row[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in columns: %v", key, row.Columns()),
			}
		}
		if !ir.Equal(expect[key], actual) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %s", key, describe(expect[key])),
				Actual:   fmt.Sprintf("field %q = %s", key, describe(actual)),
			}
		}
	}
	return nil
}

// assertRowCount checks the number of rows of Table matching Where.
func assertRowCount(ctx context.Context, st *store.Store, assertion Assertion) error {
	rows, err := matchingRows(ctx, st, assertion)
	if err != nil {
		return err
	}
	if len(rows) != assertion.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s where %s", assertion.Count, assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
		}
	}
	return nil
}

// matchingRows reads Table through the store and filters it by Where.
// The store quotes the table name; no SQL is built here.
func matchingRows(ctx context.Context, st *store.Store, assertion Assertion) ([]ir.Record, error) {
	where, err := ir.ObjectFromGo(assertion.Where)
	if err != nil {
		return nil, fmt.Errorf("%s where: %w", assertion.Type, err)
	}
	all, err := st.Rows(ctx, assertion.Table)
	if err != nil {
		return nil, &AssertionError{
			Type:     assertion.Type,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	var out []ir.Record
	for _, row := range all {
		if matchSubset(row, where) {
			out = append(out, row)
		}
	}
	return out, nil
}

// matchSubset reports whether actual holds every expected field. An
// expected NULL also matches an absent field.
func matchSubset(actual, expected ir.Object) bool {
	for key, want := range expected {
		got, exists := actual[key]
		if !exists {
			if ir.IsNull(want) {
				continue
			}
			return false
		}
		if !ir.Equal(want, got) {
			return false
		}
	}
	return true
}

func describe(v ir.Value) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// formatWhereClause creates a human-readable description of conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	// Sort keys for deterministic output
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for table assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertLedgerCount:
			err = assertLedgerCount(result.Ledger, assertion)
		case AssertLedgerContains:
			err = assertLedgerContains(result.Ledger, assertion)
		case AssertFinalState, AssertRowCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
			} else if assertion.Type == AssertFinalState {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			} else {
				err = assertRowCount(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
