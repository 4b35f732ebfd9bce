package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/hookledger/internal/compiler"
	"github.com/roach88/hookledger/internal/ir"
	"github.com/roach88/hookledger/internal/ledger"
	"github.com/roach88/hookledger/internal/mapping"
	"github.com/roach88/hookledger/internal/store"
	"github.com/roach88/hookledger/internal/testutil"
	"github.com/roach88/hookledger/internal/trigger"
	"github.com/roach88/hookledger/internal/txn"
)

// ErrorCodeUnknown is reported for step errors that carry no error code.
const ErrorCodeUnknown = "ERROR"

// errRollback makes a step's transaction roll back after its ops.
var errRollback = errors.New("scenario rollback")

// Harness is the scenario execution engine.
// It runs scenarios with a deterministic clock and transaction ids.
type Harness struct {
	store  *store.Store
	clock  *testutil.DeterministicClock
	ids    *testutil.SequentialIDGenerator
	logger *slog.Logger
}

// Option configures Run.
type Option func(*Harness)

// WithLogger sets the logger used for the store, dispatcher and
// transactions. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Transaction instants start at testutil.Epoch and advance one second per
// step; transaction ids are txn-000001, txn-000002, and so on.
//
// Execution flow:
// 1. Create fresh in-memory database and run the schema
// 2. Compile configuration and attach every writer
// 3. Execute steps, one transaction each, checking expectations
// 4. Evaluate assertions; return result with pass/fail and errors
//
// A returned error means the scenario could not be set up; step failures
// and assertion failures are reported in the Result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		clock:  testutil.NewDeterministicClock(testutil.Epoch, time.Second),
		ids:    testutil.NewSequentialIDGenerator(""),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	d := trigger.NewDispatcher(trigger.NewRegistry(), trigger.WithLogger(h.logger))
	st, err := store.Open(":memory:", d)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	h.store = st

	for i, ddl := range scenario.Schema {
		if err := st.Exec(ctx, ddl); err != nil {
			return nil, fmt.Errorf("schema[%d]: %w", i, err)
		}
	}

	if err := h.attachWriters(scenario); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.runStep(ctx, i, step, result)
	}

	entries, err := st.ListDerived(ctx, store.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	result.Ledger = append(result.Ledger, entries...)

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// attachWriters compiles the scenario configuration and registers one
// writer per declared writer.
func (h *Harness) attachWriters(scenario *Scenario) error {
	cfg, err := loadConfig(scenario)
	if err != nil {
		return err
	}

	bindings, err := cfg.Bind()
	if err != nil {
		return fmt.Errorf("bind config: %w", err)
	}
	for _, b := range bindings {
		w, err := ledger.NewWriter(b.Definition, h.store)
		if err != nil {
			return err
		}
		if _, err := w.Attach(h.store.Registry(), b.Ops); err != nil {
			return err
		}
		h.logger.Debug("writer attached", "writer", w.Name(), "table", b.Definition.SourceTable)
	}
	return nil
}

func loadConfig(scenario *Scenario) (*compiler.Config, error) {
	var (
		cfg  *compiler.Config
		errs []error
	)
	switch {
	case len(scenario.Config) > 0 && scenario.InlineConfig != "":
		return nil, fmt.Errorf("config and inline_config are exclusive")
	case scenario.InlineConfig != "":
		cfg, errs = compiler.CompileString(scenario.InlineConfig, scenario.Name+".cue")
	default:
		cfg, errs = compiler.CompileFiles(scenario.ConfigPaths()...)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("compile config: %w", errors.Join(errs...))
	}

	var verrs []error
	for _, ve := range compiler.Validate(cfg) {
		if ve.Code == compiler.ErrUnusedTable {
			continue
		}
		verrs = append(verrs, ve)
	}
	if len(verrs) > 0 {
		return nil, fmt.Errorf("validate config: %w", errors.Join(verrs...))
	}
	return cfg, nil
}

// runStep executes one step's ops in a fresh transaction and records the
// outcome against the step's expectation.
func (h *Harness) runStep(ctx context.Context, index int, step Step, result *Result) {
	outcome := StepOutcome{Step: index, Name: step.Name}
	affected := 0

	txOpts := []txn.Option{
		txn.WithClock(h.clock),
		txn.WithIDGenerator(h.ids),
		txn.WithLogger(h.logger),
	}
	if step.Actor != "" {
		txOpts = append(txOpts, txn.WithActor(step.Actor))
	}

	err := h.store.Run(ctx, func(tc *txn.Context) error {
		outcome.TxnID = tc.ID()
		for _, op := range step.Ops {
			out, err := h.execOp(ctx, tc, op)
			ev := TraceEvent{Step: index, Op: op.Op, Table: op.Table, Affected: out.Affected(), Suppressed: out.Suppressed}
			if err != nil {
				ev.Error = ErrorCode(err)
				result.AddTrace(ev)
				return err
			}
			result.AddTrace(ev)
			affected += out.Affected()
		}
		if step.Rollback {
			return errRollback
		}
		return nil
	}, txOpts...)

	switch {
	case err == nil:
		outcome.Committed = true
	case errors.Is(err, errRollback):
	default:
		outcome.Error = ErrorCode(err)
		outcome.Detail = err.Error()
	}
	result.Steps = append(result.Steps, outcome)

	h.logger.Info("step completed",
		"step", index,
		"txn_id", outcome.TxnID,
		"committed", outcome.Committed,
		"error", outcome.Error,
	)

	label := fmt.Sprintf("step %d", index)
	if step.Name != "" {
		label = fmt.Sprintf("step %d (%s)", index, step.Name)
	}
	want := ""
	if step.Expect != nil {
		want = step.Expect.Error
	}
	switch {
	case want == "" && outcome.Error != "":
		result.AddError(fmt.Sprintf("%s: unexpected error: %s", label, outcome.Detail))
	case want != "" && outcome.Error == "":
		result.AddError(fmt.Sprintf("%s: expected error %s, step succeeded", label, want))
	case want != "" && outcome.Error != want:
		result.AddError(fmt.Sprintf("%s: expected error %s, got %s: %s", label, want, outcome.Error, outcome.Detail))
	}
	if step.Expect != nil && step.Expect.Affected != nil && outcome.Error == "" && *step.Expect.Affected != affected {
		result.AddError(fmt.Sprintf("%s: expected %d rows affected, got %d", label, *step.Expect.Affected, affected))
	}
}

func (h *Harness) execOp(ctx context.Context, tc *txn.Context, op Op) (store.Outcome, error) {
	switch op.Op {
	case OpInsert:
		rows := make([]ir.Record, 0, len(op.Rows))
		for i, r := range op.Rows {
			rec, err := ir.ObjectFromGo(r)
			if err != nil {
				return store.Outcome{}, fmt.Errorf("rows[%d]: %w", i, err)
			}
			rows = append(rows, rec)
		}
		return h.store.Insert(ctx, tc, op.Table, rows...)
	case OpUpdate:
		set, err := ir.ObjectFromGo(op.Set)
		if err != nil {
			return store.Outcome{}, fmt.Errorf("set: %w", err)
		}
		where, err := ir.ObjectFromGo(op.Where)
		if err != nil {
			return store.Outcome{}, fmt.Errorf("where: %w", err)
		}
		return h.store.Update(ctx, tc, op.Table, set, where)
	case OpDelete:
		where, err := ir.ObjectFromGo(op.Where)
		if err != nil {
			return store.Outcome{}, fmt.Errorf("where: %w", err)
		}
		return h.store.Delete(ctx, tc, op.Table, where)
	case OpTruncate:
		return store.Outcome{}, h.store.Truncate(ctx, tc, op.Table)
	default:
		return store.Outcome{}, fmt.Errorf("unknown op %q", op.Op)
	}
}

// ErrorCode classifies err: a mapping code, MISSING_FIELD, a dispatch code,
// or ERROR. Mapping and field errors win over the OBSERVER_FAILED wrapping
// them.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if code := mapping.CodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, ledger.ErrMissingField) {
		return "MISSING_FIELD"
	}
	if code := trigger.CodeOf(err); code != "" {
		return string(code)
	}
	return ErrorCodeUnknown
}
