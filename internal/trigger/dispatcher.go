package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/hookledger/internal/ir"
	"github.com/roach88/hookledger/internal/txn"
)

// DefaultMaxDepth bounds nested dispatch: an observer's write that triggers
// observers whose writes trigger observers, and so on.
const DefaultMaxDepth = 16

// Dispatcher delivers mutation events to matching registrations.
type Dispatcher struct {
	registry *Registry
	maxDepth int
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxDepth sets the nested dispatch limit. Values below 1 are ignored.
func WithMaxDepth(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxDepth = n
		}
	}
}

// WithLogger sets the dispatch logger. By default the transaction's logger
// is used.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// MaxDepth returns the nested dispatch limit.
func (d *Dispatcher) MaxDepth() int {
	return d.maxDepth
}

func (d *Dispatcher) log(tc *txn.Context) *slog.Logger {
	if d.logger != nil {
		return d.logger.With("txn_id", tc.ID())
	}
	return tc.Logger()
}

// Begin opens a statement on table and runs its Before-Statement observers.
// changed is the Update SET list; it must be empty for other operations.
//
// The returned statement holds one level of dispatch depth on tc until
// Close (End closes too). Callers should defer Close.
func (d *Dispatcher) Begin(ctx context.Context, tc *txn.Context, table string, op ir.Operation, changed []string) (*Statement, error) {
	if tc == nil {
		return nil, newInvalidEvent(table, op, fmt.Errorf("transaction context is required"))
	}
	if tc.Done() {
		return nil, newInvalidEvent(table, op, txn.ErrDone)
	}
	ev := ir.MutationEvent{
		Table:          table,
		Operation:      op,
		Timing:         ir.Before,
		Granularity:    ir.Statement,
		ChangedColumns: ir.SortedColumns(changed),
	}
	if err := ev.Validate(); err != nil {
		return nil, newInvalidEvent(table, op, err)
	}

	leave := tc.Enter()
	if tc.Depth() > d.maxDepth {
		depth := tc.Depth()
		leave()
		return nil, newDepthExceeded(table, op, depth, d.maxDepth)
	}

	st := &Statement{
		d:       d,
		tc:      tc,
		snap:    d.registry.snap.Load(),
		table:   table,
		op:      op,
		changed: ev.ChangedColumns,
		leave:   leave,
	}
	tc.OnCommit(st.commit)
	tc.OnRollback(st.abort)

	if err := st.fireStatement(ctx, ir.Before); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// ApplyFunc applies one row in the storage engine and returns the stored
// NEW image (nil for Delete).
type ApplyFunc func(ctx context.Context, image ir.RowImage) (ir.Record, error)

// FireRow runs a complete single-row statement: Before-Statement, Before-Row,
// apply, After-Row, After-Statement. It returns the stored row and whether
// the row was applied; a suppressed row reports false with a nil error.
func (d *Dispatcher) FireRow(ctx context.Context, tc *txn.Context, table string, op ir.Operation, image ir.RowImage, changed []string, apply ApplyFunc) (ir.Record, bool, error) {
	st, err := d.Begin(ctx, tc, table, op, changed)
	if err != nil {
		return nil, false, err
	}
	defer st.Close()

	row, err := st.Row(image)
	if err != nil {
		return nil, false, err
	}
	res, err := row.Before(ctx)
	if err != nil {
		return nil, false, err
	}
	if res.Suppressed() {
		return nil, false, st.End(ctx)
	}

	stored, err := apply(ctx, row.Image())
	if err != nil {
		row.fail()
		return nil, false, err
	}
	if err := row.Applied(stored); err != nil {
		return nil, false, err
	}
	if err := row.After(ctx); err != nil {
		return nil, false, err
	}
	if err := st.End(ctx); err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

// Statement is one mutation statement in progress. It is bound to the
// registry snapshot taken at Begin.
type Statement struct {
	d       *Dispatcher
	tc      *txn.Context
	snap    *index
	table   string
	op      ir.Operation
	changed []string
	rows    []*RowEvent
	leave   func()
	ended   bool
	closed  bool
}

// Table returns the statement's target.
func (s *Statement) Table() string {
	return s.table
}

// Operation returns the statement's operation.
func (s *Statement) Operation() ir.Operation {
	return s.op
}

// ChangedColumns returns the sorted Update SET list.
func (s *Statement) ChangedColumns() []string {
	return s.changed
}

// Observes reports whether any registration of the statement's snapshot
// matches at timing and g.
func (s *Statement) Observes(timing ir.Timing, g ir.Granularity) bool {
	return len(s.snap.match(s.table, s.op, timing, g, s.changed)) > 0
}

// Row starts tracking one affected row. Truncate statements have no rows.
func (s *Statement) Row(image ir.RowImage) (*RowEvent, error) {
	if s.ended || s.closed {
		return nil, s.transitionError("statement already ended")
	}
	if s.op == ir.OpTruncate {
		return nil, newInvalidEvent(s.table, s.op, fmt.Errorf("truncate statements carry no rows"))
	}
	if err := image.Validate(s.op, ir.Row); err != nil {
		return nil, newInvalidEvent(s.table, s.op, err)
	}
	r := &RowEvent{
		st:    s,
		state: StatePending,
		image: cloneImage(image),
	}
	s.rows = append(s.rows, r)
	return r, nil
}

// End runs the After-Statement observers and closes the statement.
// It must be called exactly once, however many rows were affected.
func (s *Statement) End(ctx context.Context) error {
	if s.ended {
		return s.transitionError("statement already ended")
	}
	s.ended = true
	defer s.Close()
	for _, r := range s.rows {
		if r.state == StatePending {
			return s.transitionError(fmt.Sprintf("row still %s at statement end", r.state))
		}
	}
	return s.fireStatement(ctx, ir.After)
}

// Close releases the statement's dispatch depth. It is safe to call more
// than once and after End.
func (s *Statement) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.leave()
}

func (s *Statement) commit() {
	for _, r := range s.rows {
		if r.state == StateAppliedAwaitingAfter {
			r.state = StateCommitted
		} else if !r.state.Terminal() {
			r.state = StateAborted
		}
	}
}

func (s *Statement) abort() {
	for _, r := range s.rows {
		if !r.state.Terminal() {
			r.state = StateAborted
		}
	}
}

func (s *Statement) transitionError(message string) *DispatchError {
	return &DispatchError{
		Code:      ErrCodeInvalidTransition,
		Message:   message,
		Table:     s.table,
		Operation: s.op,
	}
}

func (s *Statement) fireStatement(ctx context.Context, timing ir.Timing) error {
	regs := s.snap.match(s.table, s.op, timing, ir.Statement, s.changed)
	if len(regs) == 0 {
		return nil
	}
	ev := ir.MutationEvent{
		Table:          s.table,
		Operation:      s.op,
		Timing:         timing,
		Granularity:    ir.Statement,
		ChangedColumns: s.changed,
	}
	for _, reg := range regs {
		for _, obs := range reg.Observers {
			res, err := s.invoke(ctx, reg, obs, ev)
			if err != nil {
				return err
			}
			if res.Suppressed() {
				return newInvalidResult(ev, reg, obs, "statement observers cannot suppress")
			}
			if res.Row() != nil {
				return newInvalidResult(ev, reg, obs, "statement observers cannot return a row")
			}
		}
	}
	return nil
}

func (s *Statement) invoke(ctx context.Context, reg *Registration, obs Observer, ev ir.MutationEvent) (Result, error) {
	logger := s.d.log(s.tc)
	logger.Debug("dispatching mutation event",
		"table", ev.Table,
		"op", ev.Operation.String(),
		"timing", ev.Timing.String(),
		"granularity", ev.Granularity.String(),
		"observer", obs.Name(),
		"registration", uint64(reg.Handle),
		"depth", s.tc.Depth())

	if err := ctx.Err(); err != nil {
		return Result{}, newObserverError(ev, reg, obs, err)
	}

	// Each observer gets its own copy so in-place edits cannot leak into
	// the images seen by the next observer or the storage engine.
	ev.Image = cloneImage(ev.Image)
	res, err := obs.Observe(ctx, s.tc, ev)
	if err != nil {
		logger.Warn("observer failed",
			"table", ev.Table,
			"op", ev.Operation.String(),
			"timing", ev.Timing.String(),
			"granularity", ev.Granularity.String(),
			"observer", obs.Name(),
			"error", err)
		return Result{}, newObserverError(ev, reg, obs, err)
	}
	return res, nil
}

// RowEvent follows one row through Before, apply and After.
type RowEvent struct {
	st       *Statement
	state    State
	image    ir.RowImage
	afterRan bool
}

// State returns the row's lifecycle state.
func (r *RowEvent) State() State {
	return r.state
}

// Image returns the row's current images: NEW reflects Before rewrites and,
// once applied, the stored row. Callers must not modify it.
func (r *RowEvent) Image() ir.RowImage {
	return r.image
}

func (r *RowEvent) event(timing ir.Timing) ir.MutationEvent {
	return ir.MutationEvent{
		Table:          r.st.table,
		Operation:      r.st.op,
		Timing:         timing,
		Granularity:    ir.Row,
		Image:          r.image,
		ChangedColumns: r.st.changed,
	}
}

// Before runs the Before-Row observers in registration order, threading
// each rewritten NEW image into the next observer. A Suppress result stops
// the chain and aborts the row.
func (r *RowEvent) Before(ctx context.Context) (Result, error) {
	if r.state != StatePending {
		return Result{}, r.st.transitionError(fmt.Sprintf("before observers on %s row", r.state))
	}
	ev := r.event(ir.Before)
	for _, reg := range r.st.snap.match(r.st.table, r.st.op, ir.Before, ir.Row, r.st.changed) {
		for _, obs := range reg.Observers {
			res, err := r.st.invoke(ctx, reg, obs, ev)
			if err != nil {
				r.fail()
				return Result{}, err
			}
			if res.Suppressed() {
				r.state = StateAborted
				r.st.d.log(r.st.tc).Debug("row suppressed",
					"table", ev.Table,
					"op", ev.Operation.String(),
					"observer", obs.Name())
				return Suppress(), nil
			}
			if row := res.Row(); row != nil {
				if r.st.op == ir.OpDelete {
					r.fail()
					return Result{}, newInvalidResult(ev, reg, obs, "before delete observers cannot return a NEW image")
				}
				ev.Image.New = row.Clone()
			}
		}
	}
	r.image = ev.Image
	return Proceed(r.image.New), nil
}

// Applied records that the storage engine applied the row. stored is the
// row as persisted (defaults, generated columns) and replaces NEW; nil
// keeps the current NEW.
func (r *RowEvent) Applied(stored ir.Record) error {
	if err := r.transition(StateAppliedAwaitingAfter); err != nil {
		return err
	}
	if stored != nil && r.st.op != ir.OpDelete {
		r.image.New = stored.Clone()
	}
	return nil
}

// After runs the After-Row observers. Their results are ignored except that
// Suppress is rejected: an applied row cannot be un-applied.
func (r *RowEvent) After(ctx context.Context) error {
	if r.state != StateAppliedAwaitingAfter || r.afterRan {
		return r.st.transitionError(fmt.Sprintf("after observers on %s row", r.state))
	}
	r.afterRan = true
	ev := r.event(ir.After)
	for _, reg := range r.st.snap.match(r.st.table, r.st.op, ir.After, ir.Row, r.st.changed) {
		for _, obs := range reg.Observers {
			res, err := r.st.invoke(ctx, reg, obs, ev)
			if err != nil {
				r.fail()
				return err
			}
			if res.Suppressed() {
				r.fail()
				return newInvalidResult(ev, reg, obs, "after observers cannot suppress")
			}
		}
	}
	return nil
}

// InsteadOf runs the InsteadOf-Row observers in place of applying the row.
// The observers perform whatever concrete writes they choose; with none the
// operation is a no-op. The row counts as applied afterwards.
func (r *RowEvent) InsteadOf(ctx context.Context) error {
	if r.state != StatePending {
		return r.st.transitionError(fmt.Sprintf("instead_of observers on %s row", r.state))
	}
	ev := r.event(ir.InsteadOf)
	for _, reg := range r.st.snap.match(r.st.table, r.st.op, ir.InsteadOf, ir.Row, r.st.changed) {
		for _, obs := range reg.Observers {
			res, err := r.st.invoke(ctx, reg, obs, ev)
			if err != nil {
				r.fail()
				return err
			}
			if res.Suppressed() {
				r.fail()
				return newInvalidResult(ev, reg, obs, "instead_of observers cannot suppress")
			}
		}
	}
	r.afterRan = true
	return r.transition(StateAppliedAwaitingAfter)
}

// Fail marks the row aborted after a storage-engine failure.
func (r *RowEvent) Fail() {
	r.fail()
}

func (r *RowEvent) fail() {
	if !r.state.Terminal() {
		r.state = StateAborted
	}
}

func (r *RowEvent) transition(next State) error {
	if !r.state.CanTransition(next) {
		return r.st.transitionError(fmt.Sprintf("row cannot move from %s to %s", r.state, next))
	}
	r.state = next
	return nil
}

func cloneImage(img ir.RowImage) ir.RowImage {
	return ir.RowImage{Old: img.Old.Clone(), New: img.New.Clone()}
}
