package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from the first CUE error.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := formatCUEErrors(err)
	if len(errs) == 0 {
		return err
	}
	return errs[0]
}

// formatCUEErrors splits a CUE error list into one CompileError per entry.
func formatCUEErrors(err error) []error {
	if err == nil {
		return nil
	}
	list := errors.Errors(err)
	if len(list) == 0 {
		return []error{err}
	}

	out := make([]error, 0, len(list))
	for _, e := range list {
		ce := &CompileError{Field: "cue", Message: e.Error()}
		if path := e.Path(); len(path) > 0 {
			ce.Field = strings.Join(path, ".")
		}
		if positions := errors.Positions(e); len(positions) > 0 {
			ce.Pos = positions[0]
		}
		out = append(out, ce)
	}
	return out
}
