package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/roach88/hookledger/internal/ir"
	"github.com/roach88/hookledger/internal/mapping"
	"github.com/roach88/hookledger/internal/trigger"
	"github.com/roach88/hookledger/internal/txn"
)

// Sink receives derived records. It must write through tc's transaction.
type Sink interface {
	AppendDerived(ctx context.Context, tc *txn.Context, rec ir.DerivedRecord) error
}

// Writer derives records for one Definition. It is immutable after
// construction and safe for use from any transaction.
type Writer struct {
	def          Definition
	keyColumns   []string
	systemActors map[string]bool
	sink         Sink
}

// NewWriter validates def and returns a Writer appending to sink.
func NewWriter(def Definition, sink Sink) (*Writer, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("writer %s: sink is required", def.Name)
	}

	def.Enums = append([]EnumField(nil), def.Enums...)
	def.Passthrough = append([]string(nil), def.Passthrough...)
	def.WatchColumns = append([]string(nil), def.WatchColumns...)

	w := &Writer{
		def:          def,
		keyColumns:   keyColumns(def),
		systemActors: map[string]bool{txn.SystemActor: true},
		sink:         sink,
	}
	for _, a := range def.SystemActors {
		w.systemActors[a] = true
	}
	return w, nil
}

// keyColumns returns the candidate key columns, most specific first.
// Heuristics: the declared column; else "id", then "<singular>_id".
func keyColumns(def Definition) []string {
	if def.KeyColumn != "" {
		return []string{def.KeyColumn}
	}
	base := def.SourceTable
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[i+1:]
	}
	return []string{"id", inflection.Singular(base) + "_id"}
}

// Name implements trigger.Observer.
func (w *Writer) Name() string {
	return w.def.Name
}

// Definition returns the writer's configuration.
func (w *Writer) Definition() Definition {
	return w.def
}

// Attach registers the writer as an After/Row observer of its source table
// for ops (Insert|Update when zero).
func (w *Writer) Attach(reg *trigger.Registry, ops ir.Operation) (trigger.Handle, error) {
	if ops == 0 {
		ops = ir.OpInsert | ir.OpUpdate
	}
	if ops&^(ir.OpInsert|ir.OpUpdate) != 0 {
		return 0, fmt.Errorf("attach %s: writers observe insert and update only, got %s", w.def.Name, ops)
	}
	spec := trigger.Spec{
		Table:       w.def.SourceTable,
		Ops:         ops,
		Timing:      ir.After,
		Granularity: ir.Row,
	}
	if ops.Has(ir.OpUpdate) {
		spec.Columns = w.def.WatchColumns
	}
	h, err := reg.Register(spec, w)
	if err != nil {
		return 0, fmt.Errorf("attach %s: %w", w.def.Name, err)
	}
	return h, nil
}

// Observe implements trigger.Observer: derive, then append exactly one record.
func (w *Writer) Observe(ctx context.Context, tc *txn.Context, ev ir.MutationEvent) (trigger.Result, error) {
	if ev.Timing != ir.After || ev.Granularity != ir.Row {
		return trigger.Result{}, fmt.Errorf("writer %s: must observe after/row events, got %s/%s", w.def.Name, ev.Timing, ev.Granularity)
	}
	rec, err := w.Derive(tc, ev)
	if err != nil {
		return trigger.Result{}, err
	}
	if err := w.sink.AppendDerived(ctx, tc, rec); err != nil {
		return trigger.Result{}, fmt.Errorf("writer %s: %w", w.def.Name, err)
	}
	return trigger.Proceed(nil), nil
}

// Derive builds the record for ev without writing it. It is a pure
// function of the event's NEW image, the definition and tc's actor,
// instant and id.
func (w *Writer) Derive(tc *txn.Context, ev ir.MutationEvent) (ir.DerivedRecord, error) {
	if ev.Table != w.def.SourceTable {
		return ir.DerivedRecord{}, fmt.Errorf("writer %s: event for table %q, want %q", w.def.Name, ev.Table, w.def.SourceTable)
	}
	row := ev.Image.New
	if row == nil {
		return ir.DerivedRecord{}, &FieldError{Writer: w.def.Name, Column: "NEW", Reason: fmt.Sprintf("%s event has no NEW image", ev.Operation)}
	}

	key, err := w.key(row)
	if err != nil {
		return ir.DerivedRecord{}, err
	}

	status, err := w.status(row)
	if err != nil {
		return ir.DerivedRecord{}, err
	}

	rec := ir.DerivedRecord{
		Key:         key,
		SourceTable: w.def.SourceTable,
		RequestType: w.def.RequestType,
		Status:      status,
		CreatedAt:   tc.Now(),
		UpdatedAt:   tc.Now(),
		TxnID:       tc.ID(),
	}

	passthrough := map[string]string{}
	for _, f := range w.def.Enums {
		raw, present := text(row[f.Column])
		if !present {
			continue
		}
		v, err := f.Domain.Cast(raw)
		if err != nil {
			return ir.DerivedRecord{}, w.mappingError(err, f.Column)
		}
		if f.target() == TargetPlatform {
			rec.Platform = v
		} else {
			passthrough[f.target()] = v
		}
	}

	if w.def.PayloadColumn != "" {
		payload, ok, err := mapping.NormalizePayloadValue(row[w.def.PayloadColumn])
		if err != nil {
			return ir.DerivedRecord{}, w.mappingError(err, w.def.PayloadColumn)
		}
		if ok {
			rec.Payload = payload
		}
	}

	for _, col := range w.def.Passthrough {
		if v, ok := text(row[col]); ok {
			passthrough[col] = v
		}
	}
	if len(passthrough) > 0 {
		rec.Passthrough = passthrough
	}

	rec.ActorID = w.actor(tc, row)
	return rec, nil
}

func (w *Writer) key(row ir.Record) (string, error) {
	for _, col := range w.keyColumns {
		if v, ok := text(row[col]); ok && v != "" {
			return v, nil
		}
	}
	return "", &FieldError{
		Writer: w.def.Name,
		Column: strings.Join(w.keyColumns, "|"),
		Reason: "record key is absent or NULL",
	}
}

func (w *Writer) status(row ir.Record) (ir.CanonicalStatus, error) {
	raw, ok := text(row[w.def.StatusColumn])
	if !ok {
		return "", &FieldError{Writer: w.def.Name, Column: w.def.StatusColumn, Reason: "status is absent or NULL"}
	}
	status, err := w.def.Statuses.Map(raw)
	if err != nil {
		return "", w.mappingError(err, w.def.StatusColumn)
	}
	return status, nil
}

// actor returns the acting party, or "" for the automated subsystem.
func (w *Writer) actor(tc *txn.Context, row ir.Record) string {
	var actor string
	if w.def.ActorColumn != "" {
		actor, _ = text(row[w.def.ActorColumn])
	}
	if actor == "" {
		if tc.IsSystemActor() {
			return ""
		}
		actor, _ = tc.Actor()
	}
	if w.systemActors[actor] {
		return ""
	}
	return actor
}

func (w *Writer) mappingError(err error, column string) error {
	var me *mapping.MappingError
	if errors.As(err, &me) {
		err = me.WithField(column)
	}
	return fmt.Errorf("writer %s: %w", w.def.Name, err)
}

// text renders a field as verbatim text. Arrays and objects render as
// canonical JSON. ok is false for NULL or a missing column.
func text(v ir.Value) (string, bool) {
	if ir.IsNull(v) {
		return "", false
	}
	if s, ok := ir.Text(v); ok {
		return s, true
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", false
	}
	return string(data), true
}
