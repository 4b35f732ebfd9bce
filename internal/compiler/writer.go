package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"
)

// WriterConfig is a writer as declared in configuration. Status tables and
// enum domains are referenced by name; Bind resolves them.
type WriterConfig struct {
	Name         string
	RequestType  string
	Table        string
	Key          string
	StatusColumn string
	StatusTable  string
	Enums        []EnumRef
	Payload      string
	Passthrough  []string
	Actor        string
	SystemActors []string
	Watch        []string
	Ops          []string

	Pos token.Pos
}

// EnumRef binds a source column to a named enum domain.
type EnumRef struct {
	Column string
	Domain string
	Target string
	Pos    token.Pos
}

// CompileWriter parses a writer declaration named by the value's label.
func CompileWriter(v cue.Value) (*WriterConfig, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	w := &WriterConfig{Name: labelOf(v), Pos: v.Pos()}
	field := func(name string) string { return fmt.Sprintf("writer.%s.%s", w.Name, name) }

	var err error
	for _, f := range []struct {
		path string
		dst  *string
	}{
		{"request_type", &w.RequestType},
		{"table", &w.Table},
		{"key", &w.Key},
		{"status.column", &w.StatusColumn},
		{"status.map", &w.StatusTable},
		{"payload", &w.Payload},
		{"actor", &w.Actor},
	} {
		if *f.dst, err = optionalString(v, f.path); err != nil {
			return nil, err
		}
	}
	if w.Table == "" {
		return nil, &CompileError{Field: field("table"), Message: "source table is required", Pos: v.Pos()}
	}
	if w.StatusColumn == "" || w.StatusTable == "" {
		return nil, &CompileError{Field: field("status"), Message: "status column and map are required", Pos: v.Pos()}
	}

	if w.Passthrough, err = stringList(v.LookupPath(cue.ParsePath("passthrough"))); err != nil {
		return nil, err
	}
	if w.SystemActors, err = stringList(v.LookupPath(cue.ParsePath("system_actors"))); err != nil {
		return nil, err
	}
	if w.Watch, err = stringList(v.LookupPath(cue.ParsePath("watch"))); err != nil {
		return nil, err
	}
	if w.Ops, err = stringList(v.LookupPath(cue.ParsePath("ops"))); err != nil {
		return nil, err
	}

	enumsVal := v.LookupPath(cue.ParsePath("enums"))
	if enumsVal.Exists() {
		iter, err := enumsVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			ev := iter.Value()
			ref := EnumRef{Pos: ev.Pos()}
			if ref.Column, err = optionalString(ev, "column"); err != nil {
				return nil, err
			}
			if ref.Domain, err = optionalString(ev, "domain"); err != nil {
				return nil, err
			}
			if ref.Target, err = optionalString(ev, "target"); err != nil {
				return nil, err
			}
			if ref.Column == "" || ref.Domain == "" {
				return nil, &CompileError{Field: field("enums"), Message: "enum entries need column and domain", Pos: ev.Pos()}
			}
			w.Enums = append(w.Enums, ref)
		}
	}

	return w, nil
}
