package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hookledger/internal/ir"
	"github.com/roach88/hookledger/internal/mapping"
	"github.com/roach88/hookledger/internal/store"
	"github.com/roach88/hookledger/internal/testutil"
	"github.com/roach88/hookledger/internal/trigger"
	"github.com/roach88/hookledger/internal/txn"
)

var (
	withdrawalStatuses = mapping.MustStatusTable("withdrawal_status", map[string]string{
		"processing_manual_review": "APPROVED_PENDING",
		"processing":               "PENDING",
		"completed":                "COMPLETED",
	})
	platforms = mapping.MustEnumDomain("platform", []string{"ANDROID", "IOS", "WEB"}, map[string]string{"iPhone": "IOS"})
)

func withdrawalDefinition() Definition {
	return Definition{
		Name:          "withdrawal_request",
		RequestType:   "WITHDRAWAL",
		SourceTable:   "withdrawals",
		StatusColumn:  "status",
		Statuses:      withdrawalStatuses,
		Enums:         []EnumField{{Column: "platform", Domain: platforms}},
		PayloadColumn: "data",
		Passthrough:   []string{"currency"},
		ActorColumn:   "user_id",
		WatchColumns:  []string{"status"},
	}
}

type fixture struct {
	store  *store.Store
	writer *Writer
	clock  *testutil.DeterministicClock
	ids    *testutil.SequentialIDGenerator
}

func newFixture(t *testing.T, def Definition) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"), trigger.NewDispatcher(trigger.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Exec(context.Background(), `
		CREATE TABLE withdrawals (
			id       TEXT PRIMARY KEY,
			status   TEXT,
			platform TEXT,
			data     TEXT,
			currency TEXT,
			user_id  TEXT,
			note     TEXT
		)
	`))

	w, err := NewWriter(def, s)
	require.NoError(t, err)
	_, err = w.Attach(s.Registry(), 0)
	require.NoError(t, err)

	return &fixture{
		store:  s,
		writer: w,
		clock:  testutil.NewDeterministicClock(testutil.Epoch, time.Second),
		ids:    testutil.NewSequentialIDGenerator(""),
	}
}

func (f *fixture) run(t *testing.T, fn func(tc *txn.Context) error, opts ...txn.Option) error {
	t.Helper()
	opts = append([]txn.Option{txn.WithClock(f.clock), txn.WithIDGenerator(f.ids)}, opts...)
	return f.store.Run(context.Background(), fn, opts...)
}

func (f *fixture) insert(t *testing.T, row ir.Record, opts ...txn.Option) error {
	t.Helper()
	return f.run(t, func(tc *txn.Context) error {
		_, err := f.store.Insert(context.Background(), tc, "withdrawals", row)
		return err
	}, opts...)
}

func (f *fixture) entries(t *testing.T) []store.Entry {
	t.Helper()
	entries, err := f.store.ListDerived(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	return entries
}

func TestWriterDerivesNormalizedRecord(t *testing.T) {
	f := newFixture(t, withdrawalDefinition())

	require.NoError(t, f.insert(t, ir.Record{
		"id":       ir.String("w-1"),
		"status":   ir.String("processing_manual_review"),
		"platform": ir.String("android"),
		"data":     ir.String(`{ "a" : 1 }`),
		"currency": ir.String("EUR"),
		"user_id":  ir.Null{},
	}))

	entries := f.entries(t)
	require.Len(t, entries, 1)
	got := entries[0]
	assert.Equal(t, "w-1", got.Key)
	assert.Equal(t, "withdrawals", got.SourceTable)
	assert.Equal(t, ir.RequestType("WITHDRAWAL"), got.RequestType)
	assert.Equal(t, ir.CanonicalStatus("APPROVED_PENDING"), got.Status)
	assert.Equal(t, "ANDROID", got.Platform)
	assert.Equal(t, `{"a":1}`, got.Payload)
	assert.Equal(t, map[string]string{"currency": "EUR"}, got.Passthrough)
	assert.Empty(t, got.ActorID)
	assert.True(t, got.CreatedAt.Equal(testutil.Epoch))
	assert.True(t, got.UpdatedAt.Equal(got.CreatedAt))
	assert.Equal(t, "txn-000001", got.TxnID)
}

func TestWriterUnmappedStatusAbortsTransaction(t *testing.T) {
	f := newFixture(t, withdrawalDefinition())

	err := f.insert(t, ir.Record{
		"id":     ir.String("w-1"),
		"status": ir.String("unknown_xyz"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, mapping.ErrUnmappedStatus))
	assert.True(t, trigger.IsObserverFailure(err))
	assert.Equal(t, mapping.ErrCodeUnmappedStatus, mapping.CodeOf(err))

	var me *mapping.MappingError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "status", me.Field)
	assert.Equal(t, "unknown_xyz", me.Raw)

	rows, err := f.store.Rows(context.Background(), "withdrawals")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, f.entries(t))
}

func TestWriterInvalidEnumAndPayload(t *testing.T) {
	tests := []struct {
		name string
		row  ir.Record
		want error
	}{
		{
			name: "enum",
			row:  ir.Record{"id": ir.String("w-1"), "status": ir.String("completed"), "platform": ir.String("blackberry")},
			want: mapping.ErrInvalidEnumValue,
		},
		{
			name: "payload",
			row:  ir.Record{"id": ir.String("w-1"), "status": ir.String("completed"), "data": ir.String(`{"a":`)},
			want: mapping.ErrMalformedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, withdrawalDefinition())
			err := f.insert(t, tt.row)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
			assert.Empty(t, f.entries(t))
		})
	}
}

func TestWriterNullOptionalFieldsStayUnset(t *testing.T) {
	f := newFixture(t, withdrawalDefinition())

	require.NoError(t, f.insert(t, ir.Record{
		"id":       ir.String("w-1"),
		"status":   ir.String("completed"),
		"platform": ir.Null{},
		"data":     ir.Null{},
	}))

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Platform)
	assert.Empty(t, entries[0].Payload)
	assert.Nil(t, entries[0].Passthrough)
}

func TestWriterMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		row  ir.Record
	}{
		{"null status", ir.Record{"id": ir.String("w-1"), "status": ir.Null{}}},
		{"absent status", ir.Record{"id": ir.String("w-1")}},
		{"null key", ir.Record{"status": ir.String("completed")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, withdrawalDefinition())
			err := f.insert(t, tt.row)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingField))
			// A NULL status has no text to look up, so it is not an unmapped status.
			assert.False(t, errors.Is(err, mapping.ErrUnmappedStatus))

			var fe *FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, "withdrawal_request", fe.Writer)
			assert.Empty(t, f.entries(t))
		})
	}
}

func TestWriterDigestIsReplayStable(t *testing.T) {
	row := ir.Record{
		"id":       ir.String("w-1"),
		"status":   ir.String("processing"),
		"platform": ir.String("iPhone"),
		"data":     ir.String(`{"b":2,"a":1}`),
	}

	var digests []string
	for i := 0; i < 2; i++ {
		f := newFixture(t, withdrawalDefinition())
		if i == 1 {
			f.clock = testutil.NewDeterministicClock(testutil.Epoch.Add(time.Hour), time.Minute)
		}
		require.NoError(t, f.insert(t, row.Clone()))
		entries := f.entries(t)
		require.Len(t, entries, 1)
		assert.Equal(t, "IOS", entries[0].Platform)
		assert.Equal(t, `{"a":1,"b":2}`, entries[0].Payload)
		digests = append(digests, entries[0].Digest)
	}
	assert.Equal(t, digests[0], digests[1])
}

func TestWriterOneRecordPerRow(t *testing.T) {
	f := newFixture(t, withdrawalDefinition())

	err := f.run(t, func(tc *txn.Context) error {
		_, err := f.store.Insert(context.Background(), tc, "withdrawals",
			ir.Record{"id": ir.String("w-1"), "status": ir.String("processing")},
			ir.Record{"id": ir.String("w-2"), "status": ir.String("processing")},
			ir.Record{"id": ir.String("w-3"), "status": ir.String("completed")},
		)
		return err
	})
	require.NoError(t, err)

	entries := f.entries(t)
	require.Len(t, entries, 3)
	for i, want := range []string{"w-1", "w-2", "w-3"} {
		assert.Equal(t, want, entries[i].Key)
		assert.Equal(t, entries[0].TxnID, entries[i].TxnID)
		assert.True(t, entries[i].CreatedAt.Equal(entries[0].CreatedAt))
	}
}

func TestWriterRollbackDiscardsRecords(t *testing.T) {
	f := newFixture(t, withdrawalDefinition())
	boom := errors.New("boom")

	err := f.run(t, func(tc *txn.Context) error {
		_, err := f.store.Insert(context.Background(), tc, "withdrawals",
			ir.Record{"id": ir.String("w-1"), "status": ir.String("processing")})
		require.NoError(t, err)

		inTx, err := f.store.ListDerivedIn(context.Background(), tc, store.ListFilter{})
		require.NoError(t, err)
		require.Len(t, inTx, 1)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, f.entries(t))
}

func TestWriterSeesBeforeRewrite(t *testing.T) {
	f := newFixture(t, withdrawalDefinition())
	_, err := f.store.Registry().Register(trigger.Spec{
		Table:       "withdrawals",
		Ops:         ir.OpInsert,
		Timing:      ir.Before,
		Granularity: ir.Row,
	}, trigger.Func("force_review", func(_ context.Context, _ *txn.Context, ev ir.MutationEvent) (trigger.Result, error) {
		row := ev.Image.New.Clone()
		row["status"] = ir.String("processing_manual_review")
		return trigger.Proceed(row), nil
	}))
	require.NoError(t, err)

	require.NoError(t, f.insert(t, ir.Record{"id": ir.String("w-1"), "status": ir.String("processing")}))

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, ir.CanonicalStatus("APPROVED_PENDING"), entries[0].Status)
}

func TestWriterSkipsSuppressedRow(t *testing.T) {
	f := newFixture(t, withdrawalDefinition())
	_, err := f.store.Registry().Register(trigger.Spec{
		Table:       "withdrawals",
		Ops:         ir.OpInsert,
		Timing:      ir.Before,
		Granularity: ir.Row,
	}, trigger.Func("drop_w2", func(_ context.Context, _ *txn.Context, ev ir.MutationEvent) (trigger.Result, error) {
		if ir.Equal(ev.Image.New["id"], ir.String("w-2")) {
			return trigger.Suppress(), nil
		}
		return trigger.Proceed(nil), nil
	}))
	require.NoError(t, err)

	err = f.run(t, func(tc *txn.Context) error {
		out, err := f.store.Insert(context.Background(), tc, "withdrawals",
			ir.Record{"id": ir.String("w-1"), "status": ir.String("processing")},
			ir.Record{"id": ir.String("w-2"), "status": ir.String("processing")},
		)
		if err == nil {
			assert.Equal(t, 1, out.Suppressed)
		}
		return err
	})
	require.NoError(t, err)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "w-1", entries[0].Key)
}

func TestWriterWatchColumns(t *testing.T) {
	f := newFixture(t, withdrawalDefinition())
	require.NoError(t, f.insert(t, ir.Record{"id": ir.String("w-1"), "status": ir.String("processing")}))

	update := func(set ir.Record) {
		err := f.run(t, func(tc *txn.Context) error {
			_, err := f.store.Update(context.Background(), tc, "withdrawals", set, ir.Record{"id": ir.String("w-1")})
			return err
		})
		require.NoError(t, err)
	}

	update(ir.Record{"note": ir.String("checked")})
	assert.Len(t, f.entries(t), 1)

	update(ir.Record{"status": ir.String("completed")})
	entries := f.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, ir.CanonicalStatus("COMPLETED"), entries[1].Status)
	assert.Equal(t, "txn-000003", entries[1].TxnID)
}

func TestWriterActor(t *testing.T) {
	tests := []struct {
		name   string
		def    func(*Definition)
		row    ir.Record
		opts   []txn.Option
		wantID string
	}{
		{
			name:   "row actor",
			row:    ir.Record{"user_id": ir.String("u-42")},
			wantID: "u-42",
		},
		{
			name:   "transaction actor fallback",
			opts:   []txn.Option{txn.WithActor("ops-7")},
			wantID: "ops-7",
		},
		{
			name: "system actor",
			opts: []txn.Option{txn.WithActor(txn.SystemActor)},
		},
		{
			name: "no actor anywhere",
			row:  ir.Record{"user_id": ir.Null{}},
		},
		{
			name:   "row actor beats system transaction",
			row:    ir.Record{"user_id": ir.String("u-42")},
			opts:   []txn.Option{txn.WithActor(txn.SystemActor)},
			wantID: "u-42",
		},
		{
			name: "configured system actor",
			def:  func(d *Definition) { d.SystemActors = []string{"scheduler"} },
			row:  ir.Record{"user_id": ir.String("scheduler")},
		},
		{
			name:   "no actor column",
			def:    func(d *Definition) { d.ActorColumn = "" },
			row:    ir.Record{"user_id": ir.String("u-42")},
			opts:   []txn.Option{txn.WithActor("ops-7")},
			wantID: "ops-7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := withdrawalDefinition()
			if tt.def != nil {
				tt.def(&def)
			}
			f := newFixture(t, def)

			row := ir.Record{"id": ir.String("w-1"), "status": ir.String("completed")}
			for k, v := range tt.row {
				row[k] = v
			}
			require.NoError(t, f.insert(t, row, tt.opts...))

			entries := f.entries(t)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.wantID, entries[0].ActorID)
		})
	}
}

func TestKeyInference(t *testing.T) {
	tests := []struct {
		name  string
		table string
		key   string
		row   ir.Record
		want  string
	}{
		{"id column", "orders", "", ir.Record{"id": ir.Int(7)}, "7"},
		{"singular id", "withdrawals", "", ir.Record{"withdrawal_id": ir.String("w-9")}, "w-9"},
		{"qualified table", "main.categories", "", ir.Record{"category_id": ir.Int(3)}, "3"},
		{"declared column", "orders", "ref", ir.Record{"id": ir.Int(7), "ref": ir.String("R-1")}, "R-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := withdrawalDefinition()
			def.SourceTable = tt.table
			def.KeyColumn = tt.key
			w, err := NewWriter(def, &memorySink{})
			require.NoError(t, err)

			tc := beginTxn(t)
			row := tt.row.Clone()
			row["status"] = ir.String("completed")
			rec, err := w.Derive(tc, afterInsert(tt.table, row))
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Key)
		})
	}
}

func TestObserveRejectsWrongTiming(t *testing.T) {
	sink := &memorySink{}
	w, err := NewWriter(withdrawalDefinition(), sink)
	require.NoError(t, err)

	tc := beginTxn(t)
	ev := afterInsert("withdrawals", ir.Record{"id": ir.String("w-1"), "status": ir.String("completed")})
	ev.Timing = ir.Before
	_, err = w.Observe(context.Background(), tc, ev)
	require.Error(t, err)
	assert.Empty(t, sink.records)

	ev.Timing = ir.After
	res, err := w.Observe(context.Background(), tc, ev)
	require.NoError(t, err)
	assert.False(t, res.Suppressed())
	require.Len(t, sink.records, 1)
	assert.Equal(t, tc.ID(), sink.records[0].TxnID)
}

func TestDeriveRejectsForeignTable(t *testing.T) {
	w, err := NewWriter(withdrawalDefinition(), &memorySink{})
	require.NoError(t, err)

	_, err = w.Derive(beginTxn(t), afterInsert("deposits", ir.Record{"id": ir.String("d-1"), "status": ir.String("completed")}))
	assert.Error(t, err)
}

func TestDeriveStructuredPassthrough(t *testing.T) {
	def := withdrawalDefinition()
	def.Passthrough = []string{"currency", "tags", "amount"}
	w, err := NewWriter(def, &memorySink{})
	require.NoError(t, err)

	rec, err := w.Derive(beginTxn(t), afterInsert("withdrawals", ir.Record{
		"id":       ir.String("w-1"),
		"status":   ir.String("completed"),
		"currency": ir.Null{},
		"tags":     ir.Array{ir.String("x"), ir.Int(1)},
		"amount":   ir.Float(12.5),
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tags": `["x",1]`, "amount": "12.5"}, rec.Passthrough)
}

func TestAttach(t *testing.T) {
	w, err := NewWriter(withdrawalDefinition(), &memorySink{})
	require.NoError(t, err)

	reg := trigger.NewRegistry()
	h, err := w.Attach(reg, 0)
	require.NoError(t, err)

	r, ok := reg.Lookup(h)
	require.True(t, ok)
	assert.Equal(t, "withdrawals", r.Spec.Table)
	assert.Equal(t, ir.OpInsert|ir.OpUpdate, r.Spec.Ops)
	assert.Equal(t, ir.After, r.Spec.Timing)
	assert.Equal(t, ir.Row, r.Spec.Granularity)
	assert.Equal(t, []string{"status"}, r.Spec.Columns)

	h, err = w.Attach(reg, ir.OpInsert)
	require.NoError(t, err)
	r, _ = reg.Lookup(h)
	assert.Empty(t, r.Spec.Columns)

	_, err = w.Attach(reg, ir.OpDelete)
	assert.Error(t, err)
}

func TestNewWriterValidates(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Definition)
	}{
		{"no name", func(d *Definition) { d.Name = "" }},
		{"bad request type", func(d *Definition) { d.RequestType = "withdrawal" }},
		{"no table", func(d *Definition) { d.SourceTable = "" }},
		{"no status column", func(d *Definition) { d.StatusColumn = "" }},
		{"no status table", func(d *Definition) { d.Statuses = nil }},
		{"enum without domain", func(d *Definition) { d.Enums = []EnumField{{Column: "platform"}} }},
		{"duplicate target", func(d *Definition) { d.Passthrough = []string{"platform"} }},
		{"empty system actor", func(d *Definition) { d.SystemActors = []string{""} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := withdrawalDefinition()
			tt.mod(&def)
			_, err := NewWriter(def, &memorySink{})
			assert.Error(t, err)
		})
	}

	_, err := NewWriter(withdrawalDefinition(), nil)
	assert.Error(t, err)
}

type memorySink struct {
	records []ir.DerivedRecord
}

func (m *memorySink) AppendDerived(_ context.Context, _ *txn.Context, rec ir.DerivedRecord) error {
	m.records = append(m.records, rec)
	return nil
}

// beginTxn opens a throwaway transaction for Derive calls that never write.
func beginTxn(t *testing.T) *txn.Context {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "derive.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tc, err := s.Begin(context.Background(),
		txn.WithClock(testutil.NewDeterministicClock(testutil.Epoch, 0)),
		txn.WithIDGenerator(testutil.NewSequentialIDGenerator("")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tc.Rollback() })
	return tc
}

func afterInsert(table string, row ir.Record) ir.MutationEvent {
	return ir.MutationEvent{
		Table:       table,
		Operation:   ir.OpInsert,
		Timing:      ir.After,
		Granularity: ir.Row,
		Image:       ir.RowImage{New: row},
	}
}
