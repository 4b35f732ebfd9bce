package compiler

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/hookledger/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrUnknownStatusTable = "E201" // writer references an undeclared status table
	ErrUnknownEnumDomain  = "E202" // writer references an undeclared enum domain
	ErrInvalidOperation   = "E203" // writer ops outside insert/update
	ErrInvalidDefinition  = "E204" // definition rejected by the ledger
	ErrDuplicateTarget    = "E205" // two writers on one table with one request type
	ErrUnusedTable        = "E206" // status table or enum domain no writer uses
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks the references between sections of a compiled Config.
// Returns all errors found (does not fail-fast). Unused tables are reported
// as errors too; callers may treat ErrUnusedTable as a warning.
func Validate(c *Config) []ValidationError {
	var errs []ValidationError
	usedStatus := map[string]bool{}
	usedEnum := map[string]bool{}
	seen := map[string]string{}

	for _, w := range c.Writers {
		line := w.Pos.Line()
		prefix := "writer." + w.Name

		if _, ok := c.Statuses[w.StatusTable]; !ok {
			errs = append(errs, ValidationError{
				Field:   prefix + ".status.map",
				Message: fmt.Sprintf("unknown status table %q", w.StatusTable),
				Code:    ErrUnknownStatusTable,
				Line:    line,
			})
		}
		usedStatus[w.StatusTable] = true

		refsOK := true
		for i, ref := range w.Enums {
			usedEnum[ref.Domain] = true
			if _, ok := c.Enums[ref.Domain]; !ok {
				refsOK = false
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.enums[%d].domain", prefix, i),
					Message: fmt.Sprintf("unknown enum domain %q", ref.Domain),
					Code:    ErrUnknownEnumDomain,
					Line:    ref.Pos.Line(),
				})
			}
		}

		if len(w.Ops) > 0 {
			ops, err := ir.ParseOperationMask(w.Ops)
			if err != nil || ops&^(ir.OpInsert|ir.OpUpdate) != 0 {
				refsOK = false
				errs = append(errs, ValidationError{
					Field:   prefix + ".ops",
					Message: fmt.Sprintf("writers observe insert and update only, got %v", w.Ops),
					Code:    ErrInvalidOperation,
					Line:    line,
				})
			}
		}

		key := w.Table + "\x00" + w.RequestType
		if prev, ok := seen[key]; ok {
			errs = append(errs, ValidationError{
				Field:   prefix,
				Message: fmt.Sprintf("writer %q already derives %s records from %s", prev, w.RequestType, w.Table),
				Code:    ErrDuplicateTarget,
				Line:    line,
			})
		}
		seen[key] = w.Name

		if _, ok := c.Statuses[w.StatusTable]; ok && refsOK {
			if _, err := c.bind(w); err != nil {
				errs = append(errs, ValidationError{
					Field:   prefix,
					Message: err.Error(),
					Code:    ErrInvalidDefinition,
					Line:    line,
				})
			}
		}
	}

	for _, name := range slices.Sorted(maps.Keys(c.Statuses)) {
		if !usedStatus[name] {
			errs = append(errs, ValidationError{
				Field:   "status." + name,
				Message: "status table is not used by any writer",
				Code:    ErrUnusedTable,
			})
		}
	}
	for _, name := range slices.Sorted(maps.Keys(c.Enums)) {
		if !usedEnum[name] {
			errs = append(errs, ValidationError{
				Field:   "enum." + name,
				Message: "enum domain is not used by any writer",
				Code:    ErrUnusedTable,
			})
		}
	}

	return errs
}
