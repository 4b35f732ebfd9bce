package mapping

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hookledger/internal/ir"
)

func withdrawalStatuses(t *testing.T) *StatusTable {
	t.Helper()
	st, err := NewStatusTable("withdrawal", map[string]string{
		"pending":                  "PENDING",
		"processing_manual_review": "APPROVED_PENDING",
		"processing":               "APPROVED_PENDING",
		"completed":                "COMPLETED",
		"rejected":                 "REJECTED",
	})
	require.NoError(t, err)
	return st
}

func TestStatusMap(t *testing.T) {
	st := withdrawalStatuses(t)

	got, err := st.Map("processing_manual_review")
	require.NoError(t, err)
	assert.Equal(t, ir.CanonicalStatus("APPROVED_PENDING"), got)

	got, err = st.Map("completed")
	require.NoError(t, err)
	assert.Equal(t, ir.CanonicalStatus("COMPLETED"), got)
}

func TestStatusMapUnmappedNeverDefaults(t *testing.T) {
	st := withdrawalStatuses(t)

	for _, raw := range []string{"unknown_xyz", "", "Pending", " pending"} {
		t.Run(raw, func(t *testing.T) {
			got, err := st.Map(raw)
			require.Error(t, err)
			assert.Empty(t, got)
			assert.True(t, errors.Is(err, ErrUnmappedStatus))
			assert.Equal(t, ErrCodeUnmappedStatus, CodeOf(err))

			var me *MappingError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, raw, me.Raw)
			assert.Equal(t, "withdrawal", me.Table)
		})
	}
}

func TestStatusMapIsPure(t *testing.T) {
	st := withdrawalStatuses(t)
	first, err := st.Map("pending")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := st.Map("pending")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestNewStatusTableCopiesInput(t *testing.T) {
	entries := map[string]string{"ok": "OK"}
	st, err := NewStatusTable("t", entries)
	require.NoError(t, err)

	entries["ok"] = "CHANGED"
	entries["late"] = "LATE"

	got, err := st.Map("ok")
	require.NoError(t, err)
	assert.Equal(t, ir.CanonicalStatus("OK"), got)
	_, err = st.Map("late")
	assert.ErrorIs(t, err, ErrUnmappedStatus)
}

func TestNewStatusTableValidation(t *testing.T) {
	_, err := NewStatusTable("", map[string]string{"a": "A"})
	assert.Error(t, err)

	_, err = NewStatusTable("t", nil)
	assert.Error(t, err)

	_, err = NewStatusTable("t", map[string]string{"": "A"})
	assert.Error(t, err)

	_, err = NewStatusTable("t", map[string]string{"a": "lower"})
	assert.Error(t, err)
}

func TestStatusTableIntrospection(t *testing.T) {
	st := withdrawalStatuses(t)
	assert.Equal(t, "withdrawal", st.Name())
	assert.Equal(t, 5, st.Len())
	assert.Equal(t, []string{"completed", "pending", "processing", "processing_manual_review", "rejected"}, st.RawValues())
	assert.Equal(t, []ir.CanonicalStatus{"APPROVED_PENDING", "COMPLETED", "PENDING", "REJECTED"}, st.CanonicalValues())
}

func TestMappingErrorWithField(t *testing.T) {
	st := withdrawalStatuses(t)
	_, err := st.Map("nope")

	var me *MappingError
	require.True(t, errors.As(err, &me))
	annotated := me.WithField("status")

	assert.Equal(t, "status", annotated.Field)
	assert.Empty(t, me.Field, "WithField must not mutate the original")
	assert.Contains(t, annotated.Error(), "field=status")
	assert.ErrorIs(t, annotated, ErrUnmappedStatus)
	assert.NotErrorIs(t, annotated, ErrInvalidEnumValue)
}
