package compiler

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/hookledger/internal/ir"
	"github.com/roach88/hookledger/internal/ledger"
	"github.com/roach88/hookledger/internal/mapping"
)

//go:embed schema.cue
var schemaSource string

// Config is a compiled configuration document.
type Config struct {
	Statuses map[string]*mapping.StatusTable
	Enums    map[string]*mapping.EnumDomain

	// Writers are sorted by name.
	Writers []*WriterConfig
}

// Binding is a resolved writer ready to attach to a registry.
type Binding struct {
	Definition ledger.Definition
	Ops        ir.Operation
}

// Schema compiles the embedded configuration schema in ctx.
func Schema(ctx *cue.Context) cue.Value {
	return ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
}

// CompileString compiles configuration source text. filename is used in
// error positions.
func CompileString(src, filename string) (*Config, []error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEErrors(err)
	}
	return Compile(v)
}

// CompileFiles compiles and unifies the given CUE files as one document.
func CompileFiles(paths ...string) (*Config, []error) {
	if len(paths) == 0 {
		return nil, []error{fmt.Errorf("no configuration files")}
	}
	ctx := cuecontext.New()
	var doc cue.Value
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, []error{fmt.Errorf("read config: %w", err)}
		}
		v := ctx.CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return nil, formatCUEErrors(err)
		}
		if i == 0 {
			doc = v
		} else {
			doc = doc.Unify(v)
		}
	}
	return Compile(doc)
}

// Compile unifies v with the schema and compiles every section. All errors
// are collected; a non-nil Config is returned only when there are none.
func Compile(v cue.Value) (*Config, []error) {
	v = v.Unify(Schema(v.Context()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEErrors(err)
	}

	cfg := &Config{
		Statuses: map[string]*mapping.StatusTable{},
		Enums:    map[string]*mapping.EnumDomain{},
	}
	var errs []error

	each(v, "status", &errs, func(fv cue.Value) error {
		st, err := CompileStatusTable(fv)
		if err == nil {
			cfg.Statuses[st.Name()] = st
		}
		return err
	})
	each(v, "enum", &errs, func(fv cue.Value) error {
		d, err := CompileEnumDomain(fv)
		if err == nil {
			cfg.Enums[d.Name()] = d
		}
		return err
	})
	each(v, "writer", &errs, func(fv cue.Value) error {
		w, err := CompileWriter(fv)
		if err == nil {
			cfg.Writers = append(cfg.Writers, w)
		}
		return err
	})

	if len(errs) > 0 {
		return nil, errs
	}
	sort.Slice(cfg.Writers, func(i, j int) bool { return cfg.Writers[i].Name < cfg.Writers[j].Name })
	return cfg, nil
}

// each runs fn for every field of the top-level section, appending failures.
func each(v cue.Value, section string, errs *[]error, fn func(cue.Value) error) {
	sv := v.LookupPath(cue.ParsePath(section))
	if !sv.Exists() {
		return
	}
	iter, err := sv.Fields()
	if err != nil {
		*errs = append(*errs, formatCUEError(err))
		return
	}
	for iter.Next() {
		if err := fn(iter.Value()); err != nil {
			*errs = append(*errs, err)
		}
	}
}

// Bind resolves every writer into a ledger definition. Call Validate first;
// Bind reports only the first problem.
func (c *Config) Bind() ([]Binding, error) {
	out := make([]Binding, 0, len(c.Writers))
	for _, w := range c.Writers {
		b, err := c.bind(w)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (c *Config) bind(w *WriterConfig) (Binding, error) {
	statuses, ok := c.Statuses[w.StatusTable]
	if !ok {
		return Binding{}, fmt.Errorf("writer %s: unknown status table %q", w.Name, w.StatusTable)
	}

	def := ledger.Definition{
		Name:          w.Name,
		RequestType:   ir.RequestType(w.RequestType),
		SourceTable:   w.Table,
		KeyColumn:     w.Key,
		StatusColumn:  w.StatusColumn,
		Statuses:      statuses,
		PayloadColumn: w.Payload,
		Passthrough:   slices.Clone(w.Passthrough),
		ActorColumn:   w.Actor,
		SystemActors:  slices.Clone(w.SystemActors),
		WatchColumns:  slices.Clone(w.Watch),
	}
	for _, ref := range w.Enums {
		d, ok := c.Enums[ref.Domain]
		if !ok {
			return Binding{}, fmt.Errorf("writer %s: unknown enum domain %q", w.Name, ref.Domain)
		}
		def.Enums = append(def.Enums, ledger.EnumField{Column: ref.Column, Domain: d, Target: ref.Target})
	}
	if err := def.Validate(); err != nil {
		return Binding{}, err
	}

	var ops ir.Operation
	if len(w.Ops) > 0 {
		var err error
		if ops, err = ir.ParseOperationMask(w.Ops); err != nil {
			return Binding{}, fmt.Errorf("writer %s: %w", w.Name, err)
		}
	}
	return Binding{Definition: def, Ops: ops}, nil
}
