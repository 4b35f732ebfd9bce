package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationMask(t *testing.T) {
	mask := OpInsert | OpUpdate

	assert.True(t, mask.Has(OpInsert))
	assert.True(t, mask.Has(OpUpdate))
	assert.False(t, mask.Has(OpDelete))
	assert.False(t, mask.Single())
	assert.True(t, OpDelete.Single())
	assert.Equal(t, "insert|update", mask.String())
	assert.Equal(t, []Operation{OpInsert, OpUpdate}, mask.Each())
	assert.Equal(t, "none", Operation(0).String())
}

func TestParseOperationMask(t *testing.T) {
	mask, err := ParseOperationMask([]string{"insert", "DELETE"})
	require.NoError(t, err)
	assert.Equal(t, OpInsert|OpDelete, mask)

	all, err := ParseOperationMask([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, OpAll, all)

	_, err = ParseOperationMask([]string{"upsert"})
	assert.Error(t, err)

	_, err = ParseOperationMask(nil)
	assert.Error(t, err)
}

func TestParseTimingAndGranularity(t *testing.T) {
	for in, want := range map[string]Timing{"before": Before, "AFTER": After, "instead_of": InsteadOf} {
		got, err := ParseTiming(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseTiming("during")
	assert.Error(t, err)

	g, err := ParseGranularity("statement")
	require.NoError(t, err)
	assert.Equal(t, Statement, g)
	_, err = ParseGranularity("column")
	assert.Error(t, err)
}

func TestNewRowImagePresenceRules(t *testing.T) {
	row := Record{"id": Int(1)}

	tests := []struct {
		name    string
		op      Operation
		old     Record
		new     Record
		wantErr bool
	}{
		{"insert new only", OpInsert, nil, row, false},
		{"insert with old", OpInsert, row, row, true},
		{"insert without new", OpInsert, nil, nil, true},
		{"update both", OpUpdate, row, row, false},
		{"update missing old", OpUpdate, nil, row, true},
		{"delete old only", OpDelete, row, nil, false},
		{"delete with new", OpDelete, row, row, true},
		{"truncate no images", OpTruncate, nil, nil, false},
		{"truncate with image", OpTruncate, row, nil, true},
		{"mask is not a row op", OpInsert | OpDelete, nil, row, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRowImage(tt.op, tt.old, tt.new)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMutationEventValidate(t *testing.T) {
	ev := MutationEvent{
		Table:          "accounts",
		Operation:      OpUpdate,
		Timing:         After,
		Granularity:    Row,
		Image:          RowImage{Old: Record{"id": Int(1)}, New: Record{"id": Int(1)}},
		ChangedColumns: []string{"balance", "status"},
	}
	require.NoError(t, ev.Validate())
	assert.True(t, ev.ColumnChanged("status"))
	assert.False(t, ev.ColumnChanged("id"))

	stmt := MutationEvent{Table: "accounts", Operation: OpInsert, Timing: Before, Granularity: Statement}
	assert.NoError(t, stmt.Validate())

	bad := MutationEvent{Table: "accounts", Operation: OpInsert, Granularity: Row, ChangedColumns: []string{"x"}}
	assert.Error(t, bad.Validate())

	assert.Error(t, MutationEvent{Operation: OpInsert}.Validate())
}

func TestSortedColumns(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedColumns([]string{"c", "a", "b", "a"}))
	assert.Nil(t, SortedColumns(nil))
}

func TestRequestTypeValidate(t *testing.T) {
	assert.NoError(t, RequestType("WITHDRAWAL").Validate())
	assert.Error(t, RequestType("withdrawal").Validate())
	assert.Error(t, RequestType("").Validate())
}
