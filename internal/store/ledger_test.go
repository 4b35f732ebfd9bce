package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hookledger/internal/ir"
	"github.com/roach88/hookledger/internal/testutil"
)

func sampleRecord(key string) ir.DerivedRecord {
	return ir.DerivedRecord{
		Key:         key,
		SourceTable: "withdrawals",
		RequestType: "WITHDRAWAL",
		Status:      "APPROVED_PENDING",
		Platform:    "ANDROID",
		Payload:     `{"a":1}`,
		Passthrough: map[string]string{"currency": "EUR"},
		CreatedAt:   testutil.Epoch,
		UpdatedAt:   testutil.Epoch,
		TxnID:       "txn-000001",
	}
}

func TestAppendDerivedVisibleAfterCommit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tc := beginTest(t, s)
	rec := sampleRecord("w-1")
	rec.TxnID = tc.ID()
	require.NoError(t, s.AppendDerived(ctx, tc, rec))

	inTx, err := s.ListDerivedIn(ctx, tc, ListFilter{})
	require.NoError(t, err)
	require.Len(t, inTx, 1)

	require.NoError(t, tc.Commit())

	entries, err := s.ListDerived(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	got := entries[0]
	assert.Equal(t, int64(1), got.Seq)
	assert.Equal(t, rec.MustDigest(), got.Digest)
	assert.Equal(t, rec.Key, got.Key)
	assert.Equal(t, rec.Status, got.Status)
	assert.Equal(t, rec.Platform, got.Platform)
	assert.Equal(t, rec.Payload, got.Payload)
	assert.Equal(t, rec.Passthrough, got.Passthrough)
	assert.Empty(t, got.ActorID)
	assert.True(t, got.CreatedAt.Equal(rec.CreatedAt))
	assert.True(t, got.UpdatedAt.Equal(got.CreatedAt))
	assert.Equal(t, "txn-000001", got.TxnID)
}

func TestAppendDerivedRolledBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tc := beginTest(t, s)
	require.NoError(t, s.AppendDerived(ctx, tc, sampleRecord("w-1")))
	require.NoError(t, tc.Rollback())

	n, err := s.CountDerived(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAppendDerivedOptionalFieldsStoredAsNull(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tc := beginTest(t, s)
	rec := sampleRecord("w-1")
	rec.Platform = ""
	rec.Payload = ""
	rec.Passthrough = nil
	require.NoError(t, s.AppendDerived(ctx, tc, rec))
	require.NoError(t, tc.Commit())

	var platform, payload, actor any
	var passthrough string
	err := s.db.QueryRow("SELECT platform, payload, actor_id, passthrough FROM derived_records").Scan(&platform, &payload, &actor, &passthrough)
	require.NoError(t, err)
	assert.Nil(t, platform)
	assert.Nil(t, payload)
	assert.Nil(t, actor)
	assert.Equal(t, "{}", passthrough)

	entries, err := s.ListDerived(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Passthrough)
}

func TestDerivedRecordsAreAppendOnlyButRetainable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tc := beginTest(t, s)
	require.NoError(t, s.AppendDerived(ctx, tc, sampleRecord("w-1")))
	require.NoError(t, tc.Commit())

	_, err := s.db.Exec("UPDATE derived_records SET status = 'REJECTED'")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	// The mutation API refuses the ledger table.
	tc = beginTest(t, s)
	_, err = s.Delete(ctx, tc, ledgerTable, nil)
	assert.ErrorIs(t, err, ErrReservedTable)
	require.NoError(t, tc.Rollback())

	// Retention works on the database directly.
	res, err := s.db.Exec("DELETE FROM derived_records WHERE created_at < ?", "9999-01-01")
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var triggers int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'derived_records_no_delete'").Scan(&triggers))
	assert.Zero(t, triggers)
}

func TestAppendDerivedRejectsMismatchedTimestamps(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tc := beginTest(t, s)
	rec := sampleRecord("w-1")
	rec.UpdatedAt = rec.CreatedAt.Add(1)
	err := s.AppendDerived(ctx, tc, rec)
	require.Error(t, err)
}

func TestListDerivedFilters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tc := beginTest(t, s)
	a := sampleRecord("w-1")
	b := sampleRecord("w-2")
	c := sampleRecord("d-1")
	c.SourceTable = "deposits"
	c.TxnID = "txn-other"
	for _, rec := range []ir.DerivedRecord{a, b, c} {
		require.NoError(t, s.AppendDerived(ctx, tc, rec))
	}
	require.NoError(t, tc.Commit())

	bySource, err := s.ListDerived(ctx, ListFilter{SourceTable: "withdrawals"})
	require.NoError(t, err)
	assert.Len(t, bySource, 2)

	byKey, err := s.ListDerived(ctx, ListFilter{Key: "w-2"})
	require.NoError(t, err)
	require.Len(t, byKey, 1)
	assert.Equal(t, "w-2", byKey[0].Key)

	byTxn, err := s.ListDerived(ctx, ListFilter{TxnID: "txn-other"})
	require.NoError(t, err)
	require.Len(t, byTxn, 1)
	assert.Equal(t, "deposits", byTxn[0].SourceTable)

	limited, err := s.ListDerived(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "w-1", limited[0].Key)

	none, err := s.ListDerived(ctx, ListFilter{Key: "missing"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestAppendDerivedRequiresActiveTransaction(t *testing.T) {
	s := createTestStore(t)
	err := s.AppendDerived(context.Background(), nil, sampleRecord("w-1"))
	assert.ErrorIs(t, err, ErrNoTransaction)
}
