package trigger

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/hookledger/internal/ir"
)

// Spec selects the mutations a registration observes.
type Spec struct {
	// Table is the target table or view.
	Table string

	// Ops is the operation mask. Each bit is indexed separately.
	Ops ir.Operation

	Timing      ir.Timing
	Granularity ir.Granularity

	// Columns restricts Update events to those whose changed columns
	// intersect this set. Empty means every Update matches.
	Columns []string
}

// Validate checks the registration rules.
//
// InsteadOf is row-granularity only and Truncate is statement-granularity
// only. A column filter requires Update in the mask.
func (s Spec) Validate() error {
	if s.Table == "" {
		return fmt.Errorf("table is required")
	}
	if s.Ops == 0 || s.Ops&^ir.OpAll != 0 {
		return fmt.Errorf("invalid operation mask %s", s.Ops)
	}
	switch s.Timing {
	case ir.Before, ir.After, ir.InsteadOf:
	default:
		return fmt.Errorf("invalid timing %s", s.Timing)
	}
	switch s.Granularity {
	case ir.Row, ir.Statement:
	default:
		return fmt.Errorf("invalid granularity %s", s.Granularity)
	}
	if s.Timing == ir.InsteadOf && s.Granularity != ir.Row {
		return fmt.Errorf("instead_of observers must be row granularity")
	}
	if s.Ops.Has(ir.OpTruncate) && s.Granularity != ir.Statement {
		return fmt.Errorf("truncate can only be observed at statement granularity")
	}
	if s.Timing == ir.InsteadOf && s.Ops.Has(ir.OpTruncate) {
		return fmt.Errorf("truncate cannot be observed instead_of")
	}
	if len(s.Columns) > 0 && !s.Ops.Has(ir.OpUpdate) {
		return fmt.Errorf("column filter requires update in the operation mask")
	}
	for _, c := range s.Columns {
		if c == "" {
			return fmt.Errorf("column filter contains an empty column name")
		}
	}
	return nil
}

// Handle identifies a registration. The zero Handle is never issued.
type Handle uint64

// Registration is an immutable registered (spec, observers) pair.
type Registration struct {
	Handle Handle
	Spec   Spec

	// Observers run in slice order when the registration matches.
	Observers []Observer

	// columns is Spec.Columns sorted and de-duplicated.
	columns []string
}

// matches reports whether the registration applies to the given event shape.
// changed must be sorted.
func (r *Registration) matches(timing ir.Timing, g ir.Granularity, op ir.Operation, changed []string) bool {
	if r.Spec.Timing != timing || r.Spec.Granularity != g {
		return false
	}
	if op != ir.OpUpdate || len(r.columns) == 0 {
		return true
	}
	for _, c := range r.columns {
		if _, ok := slices.BinarySearch(changed, c); ok {
			return true
		}
	}
	return false
}

type indexKey struct {
	table string
	op    ir.Operation
}

// index is an immutable snapshot of all registrations.
// Slices in byKey are ordered by Handle, which is registration order.
type index struct {
	byKey    map[indexKey][]*Registration
	byHandle map[Handle]*Registration
}

// Registry holds observer registrations.
//
// Register and Unregister serialize on a mutex and publish a new snapshot.
// Lookups read the current snapshot without locking, so a dispatch already
// in progress keeps the snapshot it started with.
type Registry struct {
	mu   sync.Mutex
	next Handle
	snap atomic.Pointer[index]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&index{
		byKey:    map[indexKey][]*Registration{},
		byHandle: map[Handle]*Registration{},
	})
	return r
}

// Register records observers for every mutation spec selects.
func (r *Registry) Register(spec Spec, observers ...Observer) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return 0, &DispatchError{
			Code:    ErrCodeInvalidRegistration,
			Message: "invalid registration",
			Table:   spec.Table,
			Err:     err,
		}
	}
	if len(observers) == 0 {
		return 0, &DispatchError{
			Code:    ErrCodeInvalidRegistration,
			Message: "registration requires at least one observer",
			Table:   spec.Table,
		}
	}
	for i, o := range observers {
		if o == nil {
			return 0, &DispatchError{
				Code:    ErrCodeInvalidRegistration,
				Message: fmt.Sprintf("observer %d is nil", i),
				Table:   spec.Table,
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	spec.Columns = slices.Clone(spec.Columns)
	reg := &Registration{
		Handle:    r.next,
		Spec:      spec,
		Observers: slices.Clone(observers),
		columns:   ir.SortedColumns(spec.Columns),
	}

	old := r.snap.Load()
	next := &index{
		byKey:    make(map[indexKey][]*Registration, len(old.byKey)+1),
		byHandle: make(map[Handle]*Registration, len(old.byHandle)+1),
	}
	for k, v := range old.byKey {
		next.byKey[k] = v
	}
	for h, v := range old.byHandle {
		next.byHandle[h] = v
	}
	for _, op := range spec.Ops.Each() {
		key := indexKey{table: spec.Table, op: op}
		// Copy before append: the old slice still backs the published snapshot.
		list := make([]*Registration, 0, len(next.byKey[key])+1)
		list = append(list, next.byKey[key]...)
		next.byKey[key] = append(list, reg)
	}
	next.byHandle[reg.Handle] = reg
	r.snap.Store(next)

	return reg.Handle, nil
}

// Unregister removes a registration. It reports false when h is unknown.
func (r *Registry) Unregister(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snap.Load()
	reg, ok := old.byHandle[h]
	if !ok {
		return false
	}

	next := &index{
		byKey:    make(map[indexKey][]*Registration, len(old.byKey)),
		byHandle: make(map[Handle]*Registration, len(old.byHandle)),
	}
	for k, v := range old.byKey {
		next.byKey[k] = v
	}
	for hh, v := range old.byHandle {
		if hh != h {
			next.byHandle[hh] = v
		}
	}
	for _, op := range reg.Spec.Ops.Each() {
		key := indexKey{table: reg.Spec.Table, op: op}
		list := slices.DeleteFunc(slices.Clone(next.byKey[key]), func(x *Registration) bool {
			return x.Handle == h
		})
		if len(list) == 0 {
			delete(next.byKey, key)
		} else {
			next.byKey[key] = list
		}
	}
	r.snap.Store(next)
	return true
}

// Lookup returns the registration for h.
func (r *Registry) Lookup(h Handle) (*Registration, bool) {
	reg, ok := r.snap.Load().byHandle[h]
	return reg, ok
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	return len(r.snap.Load().byHandle)
}

// Registrations returns every live registration in registration order.
func (r *Registry) Registrations() []*Registration {
	snap := r.snap.Load()
	out := make([]*Registration, 0, len(snap.byHandle))
	for _, reg := range snap.byHandle {
		out = append(out, reg)
	}
	slices.SortFunc(out, func(a, b *Registration) int {
		return cmp.Compare(a.Handle, b.Handle)
	})
	return out
}

// Match returns the registrations that apply to a mutation, in registration
// order. changed is the Update SET list and must be sorted.
func (r *Registry) Match(table string, op ir.Operation, timing ir.Timing, g ir.Granularity, changed []string) []*Registration {
	return r.snap.Load().match(table, op, timing, g, changed)
}

// HasObservers reports whether anything observes op on table at timing.
func (r *Registry) HasObservers(table string, op ir.Operation, timing ir.Timing) bool {
	for _, reg := range r.snap.Load().byKey[indexKey{table: table, op: op}] {
		if reg.Spec.Timing == timing {
			return true
		}
	}
	return false
}

func (ix *index) match(table string, op ir.Operation, timing ir.Timing, g ir.Granularity, changed []string) []*Registration {
	var out []*Registration
	for _, reg := range ix.byKey[indexKey{table: table, op: op}] {
		if reg.matches(timing, g, op, changed) {
			out = append(out, reg)
		}
	}
	return out
}
