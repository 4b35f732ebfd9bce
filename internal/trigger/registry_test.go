package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hookledger/internal/ir"
)

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr string
	}{
		{"valid after row", Spec{Table: "t", Ops: ir.OpInsert | ir.OpUpdate, Timing: ir.After, Granularity: ir.Row}, ""},
		{"valid truncate statement", Spec{Table: "t", Ops: ir.OpTruncate, Timing: ir.Before, Granularity: ir.Statement}, ""},
		{"valid column filter", Spec{Table: "t", Ops: ir.OpUpdate, Timing: ir.After, Granularity: ir.Row, Columns: []string{"status"}}, ""},
		{"missing table", Spec{Ops: ir.OpInsert, Timing: ir.After, Granularity: ir.Row}, "table is required"},
		{"empty mask", Spec{Table: "t", Timing: ir.After, Granularity: ir.Row}, "invalid operation mask"},
		{"no timing", Spec{Table: "t", Ops: ir.OpInsert, Granularity: ir.Row}, "invalid timing"},
		{"no granularity", Spec{Table: "t", Ops: ir.OpInsert, Timing: ir.After}, "invalid granularity"},
		{"instead of statement", Spec{Table: "v", Ops: ir.OpInsert, Timing: ir.InsteadOf, Granularity: ir.Statement}, "instead_of observers must be row granularity"},
		{"truncate row", Spec{Table: "t", Ops: ir.OpTruncate, Timing: ir.After, Granularity: ir.Row}, "truncate can only be observed at statement granularity"},
		{"filter without update", Spec{Table: "t", Ops: ir.OpInsert, Timing: ir.After, Granularity: ir.Row, Columns: []string{"a"}}, "column filter requires update"},
		{"empty filter column", Spec{Table: "t", Ops: ir.OpUpdate, Timing: ir.After, Granularity: ir.Row, Columns: []string{""}}, "empty column name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	tr := &trace{}

	_, err := r.Register(Spec{Table: "t", Ops: ir.OpInsert, Timing: ir.After, Granularity: ir.Row})
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidRegistration, CodeOf(err))

	_, err = r.Register(Spec{Table: "t", Ops: ir.OpTruncate, Timing: ir.After, Granularity: ir.Row}, tr.observer("a"))
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidRegistration, CodeOf(err))

	_, err = r.Register(Spec{Table: "t", Ops: ir.OpInsert, Timing: ir.After, Granularity: ir.Row}, nil)
	require.Error(t, err)

	assert.Equal(t, 0, r.Len())
}

func TestRegisterIndexesEveryOperation(t *testing.T) {
	r := NewRegistry()
	tr := &trace{}
	h := mustRegister(t, r, Spec{Table: "orders", Ops: ir.OpInsert | ir.OpDelete, Timing: ir.After, Granularity: ir.Row}, tr.observer("a"))

	assert.NotZero(t, h)
	assert.Len(t, r.Match("orders", ir.OpInsert, ir.After, ir.Row, nil), 1)
	assert.Len(t, r.Match("orders", ir.OpDelete, ir.After, ir.Row, nil), 1)
	assert.Empty(t, r.Match("orders", ir.OpUpdate, ir.After, ir.Row, nil))
	assert.Empty(t, r.Match("orders", ir.OpInsert, ir.Before, ir.Row, nil))
	assert.Empty(t, r.Match("orders", ir.OpInsert, ir.After, ir.Statement, nil))
	assert.Empty(t, r.Match("other", ir.OpInsert, ir.After, ir.Row, nil))
}

func TestMatchRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	tr := &trace{}
	spec := Spec{Table: "t", Ops: ir.OpInsert, Timing: ir.After, Granularity: ir.Row}
	h1 := mustRegister(t, r, spec, tr.observer("first"))
	h2 := mustRegister(t, r, spec, tr.observer("second"))
	h3 := mustRegister(t, r, spec, tr.observer("third"))

	regs := r.Match("t", ir.OpInsert, ir.After, ir.Row, nil)
	require.Len(t, regs, 3)
	assert.Equal(t, []Handle{h1, h2, h3}, []Handle{regs[0].Handle, regs[1].Handle, regs[2].Handle})
}

func TestMatchColumnFilter(t *testing.T) {
	r := NewRegistry()
	tr := &trace{}
	mustRegister(t, r, Spec{Table: "t", Ops: ir.OpUpdate | ir.OpInsert, Timing: ir.After, Granularity: ir.Row, Columns: []string{"status", "amount"}}, tr.observer("filtered"))
	mustRegister(t, r, Spec{Table: "t", Ops: ir.OpUpdate, Timing: ir.After, Granularity: ir.Row}, tr.observer("all"))

	assert.Len(t, r.Match("t", ir.OpUpdate, ir.After, ir.Row, []string{"status"}), 2)
	assert.Len(t, r.Match("t", ir.OpUpdate, ir.After, ir.Row, []string{"amount", "note"}), 2)
	assert.Len(t, r.Match("t", ir.OpUpdate, ir.After, ir.Row, []string{"note"}), 1)
	assert.Len(t, r.Match("t", ir.OpUpdate, ir.After, ir.Row, nil), 1)

	// The filter only narrows updates.
	assert.Len(t, r.Match("t", ir.OpInsert, ir.After, ir.Row, nil), 1)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	tr := &trace{}
	spec := Spec{Table: "t", Ops: ir.OpInsert | ir.OpUpdate, Timing: ir.After, Granularity: ir.Row}
	h1 := mustRegister(t, r, spec, tr.observer("a"))
	h2 := mustRegister(t, r, spec, tr.observer("b"))

	assert.True(t, r.Unregister(h1))
	assert.False(t, r.Unregister(h1))
	assert.False(t, r.Unregister(Handle(999)))

	regs := r.Match("t", ir.OpUpdate, ir.After, ir.Row, nil)
	require.Len(t, regs, 1)
	assert.Equal(t, h2, regs[0].Handle)

	_, ok := r.Lookup(h1)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Unregister(h2))
	assert.Empty(t, r.Match("t", ir.OpInsert, ir.After, ir.Row, nil))
}

func TestSnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	tr := &trace{}
	spec := Spec{Table: "t", Ops: ir.OpInsert, Timing: ir.After, Granularity: ir.Row}
	mustRegister(t, r, spec, tr.observer("a"))

	snap := r.snap.Load()
	mustRegister(t, r, spec, tr.observer("b"))

	assert.Len(t, snap.match("t", ir.OpInsert, ir.After, ir.Row, nil), 1)
	assert.Len(t, r.Match("t", ir.OpInsert, ir.After, ir.Row, nil), 2)
}

func TestRegistrationsSorted(t *testing.T) {
	r := NewRegistry()
	tr := &trace{}
	for _, table := range []string{"c", "a", "b"} {
		mustRegister(t, r, Spec{Table: table, Ops: ir.OpInsert, Timing: ir.After, Granularity: ir.Row}, tr.observer(table))
	}

	regs := r.Registrations()
	require.Len(t, regs, 3)
	assert.Equal(t, "c", regs[0].Spec.Table)
	assert.Equal(t, "a", regs[1].Spec.Table)
	assert.Equal(t, "b", regs[2].Spec.Table)
}

func TestRegisterCopiesInputs(t *testing.T) {
	r := NewRegistry()
	tr := &trace{}
	cols := []string{"status"}
	observers := []Observer{tr.observer("a")}
	h := mustRegister(t, r, Spec{Table: "t", Ops: ir.OpUpdate, Timing: ir.After, Granularity: ir.Row, Columns: cols}, observers...)

	cols[0] = "other"
	observers[0] = tr.observer("replaced")

	reg, ok := r.Lookup(h)
	require.True(t, ok)
	assert.Equal(t, []string{"status"}, reg.Spec.Columns)
	assert.Equal(t, "a", reg.Observers[0].Name())
}

func TestHasObservers(t *testing.T) {
	r := NewRegistry()
	tr := &trace{}
	mustRegister(t, r, Spec{Table: "v", Ops: ir.OpInsert, Timing: ir.InsteadOf, Granularity: ir.Row}, tr.observer("a"))

	assert.True(t, r.HasObservers("v", ir.OpInsert, ir.InsteadOf))
	assert.False(t, r.HasObservers("v", ir.OpUpdate, ir.InsteadOf))
	assert.False(t, r.HasObservers("v", ir.OpInsert, ir.After))
}
