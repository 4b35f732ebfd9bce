package compiler

import (
	"strconv"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/hookledger/internal/mapping"
)

// CompileStatusTable parses a CUE struct of raw -> canonical entries into a
// StatusTable named by the value's label.
//
//	st, err := CompileStatusTable(v.LookupPath(cue.ParsePath("status.withdrawal_status")))
func CompileStatusTable(v cue.Value) (*mapping.StatusTable, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	name := labelOf(v)

	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	entries := map[string]string{}
	for iter.Next() {
		canonical, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		entries[selectorName(iter.Selector())] = canonical
	}
	if len(entries) == 0 {
		return nil, &CompileError{
			Field:   "status." + name,
			Message: "status table must map at least one raw status",
			Pos:     v.Pos(),
		}
	}

	st, err := mapping.NewStatusTable(name, entries)
	if err != nil {
		return nil, &CompileError{Field: "status." + name, Message: err.Error(), Pos: v.Pos()}
	}
	return st, nil
}

// CompileEnumDomain parses {values, aliases} into an EnumDomain named by the
// value's label.
func CompileEnumDomain(v cue.Value) (*mapping.EnumDomain, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	name := labelOf(v)

	values, err := stringList(v.LookupPath(cue.ParsePath("values")))
	if err != nil {
		return nil, err
	}

	aliases := map[string]string{}
	aliasVal := v.LookupPath(cue.ParsePath("aliases"))
	if aliasVal.Exists() {
		iter, err := aliasVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			target, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			aliases[selectorName(iter.Selector())] = target
		}
	}

	d, err := mapping.NewEnumDomain(name, values, aliases)
	if err != nil {
		return nil, &CompileError{Field: "enum." + name, Message: err.Error(), Pos: v.Pos()}
	}
	return d, nil
}

// labelOf returns the unquoted last path element of v.
func labelOf(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	return selectorName(sels[len(sels)-1])
}

// selectorName returns a field label without CUE quoting, so
// "processing-review" and processing_review both come back verbatim.
func selectorName(sel cue.Selector) string {
	s := sel.String()
	if strings.HasPrefix(s, `"`) {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	return s
}

// stringList decodes a list of strings. A missing value yields nil.
func stringList(v cue.Value) ([]string, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// optionalString returns the string at path, or "" when absent.
func optionalString(v cue.Value, path string) (string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() || !f.IsConcrete() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}
