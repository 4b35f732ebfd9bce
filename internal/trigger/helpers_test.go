package trigger

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hookledger/internal/ir"
	"github.com/roach88/hookledger/internal/txn"
)

// beginTxn opens a temp SQLite database and starts a transaction on it.
// The transaction is rolled back at cleanup unless the test finished it.
func beginTxn(t *testing.T) *txn.Context {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "trigger.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	tc, err := txn.Begin(context.Background(), db)
	require.NoError(t, err)
	t.Cleanup(func() {
		if !tc.Done() {
			_ = tc.Rollback()
		}
		_ = db.Close()
	})
	return tc
}

// trace records observer invocations in order.
type trace struct {
	calls []string
}

func (tr *trace) observer(name string) ObserverFunc {
	return Func(name, func(_ context.Context, _ *txn.Context, ev ir.MutationEvent) (Result, error) {
		tr.calls = append(tr.calls, name+":"+ev.Timing.String()+"/"+ev.Granularity.String())
		return Proceed(nil), nil
	})
}

func mustRegister(t *testing.T, r *Registry, spec Spec, observers ...Observer) Handle {
	t.Helper()
	h, err := r.Register(spec, observers...)
	require.NoError(t, err)
	return h
}

func insertImage(row ir.Record) ir.RowImage {
	return ir.RowImage{New: row}
}

func passthroughApply(_ context.Context, image ir.RowImage) (ir.Record, error) {
	return image.New, nil
}
