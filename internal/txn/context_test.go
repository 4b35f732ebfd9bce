package txn

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "txn.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)
	return db
}

func countItems(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	return n
}

func TestBeginCapturesInstantAndID(t *testing.T) {
	db := openTestDB(t)
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

	tc, err := Begin(context.Background(), db,
		WithClock(fixedClock{at}),
		WithIDGenerator(NewFixedGenerator("txn-1")),
		WithActor("user-42"),
	)
	require.NoError(t, err)
	defer tc.Rollback()

	assert.Equal(t, "txn-1", tc.ID())
	assert.Equal(t, at, tc.Now())
	assert.Equal(t, tc.Now(), tc.Now(), "instant is fixed for the whole transaction")

	actor, ok := tc.Actor()
	assert.True(t, ok)
	assert.Equal(t, "user-42", actor)
	assert.False(t, tc.IsSystemActor())
	assert.NotNil(t, tc.Logger())
	assert.NotNil(t, tc.Tx())
}

func TestSystemActor(t *testing.T) {
	db := openTestDB(t)

	tc, err := Begin(context.Background(), db)
	require.NoError(t, err)
	_, ok := tc.Actor()
	assert.False(t, ok)
	assert.True(t, tc.IsSystemActor())
	require.NoError(t, tc.Rollback())

	// The pool holds one connection; the first transaction must finish first.
	tc2, err := Begin(context.Background(), db, WithActor(SystemActor))
	require.NoError(t, err)
	defer tc2.Rollback()
	assert.True(t, tc2.IsSystemActor())
}

func TestCommitRunsHooks(t *testing.T) {
	db := openTestDB(t)
	tc, err := Begin(context.Background(), db)
	require.NoError(t, err)

	var committed, rolledBack bool
	tc.OnCommit(func() { committed = true })
	tc.OnRollback(func() { rolledBack = true })

	_, err = tc.Tx().Exec(`INSERT INTO items (name) VALUES ('a')`)
	require.NoError(t, err)
	require.NoError(t, tc.Commit())

	assert.True(t, committed)
	assert.False(t, rolledBack)
	assert.True(t, tc.Done())
	assert.Equal(t, 1, countItems(t, db))
	assert.ErrorIs(t, tc.Commit(), ErrDone)
	assert.ErrorIs(t, tc.Rollback(), ErrDone)
}

func TestRollbackRunsHooks(t *testing.T) {
	db := openTestDB(t)
	tc, err := Begin(context.Background(), db)
	require.NoError(t, err)

	var rolledBack bool
	tc.OnRollback(func() { rolledBack = true })

	_, err = tc.Tx().Exec(`INSERT INTO items (name) VALUES ('a')`)
	require.NoError(t, err)
	require.NoError(t, tc.Rollback())

	assert.True(t, rolledBack)
	assert.Equal(t, 0, countItems(t, db))
}

func TestRunCommitsOnSuccess(t *testing.T) {
	db := openTestDB(t)

	err := Run(context.Background(), db, func(tc *Context) error {
		_, err := tc.Tx().Exec(`INSERT INTO items (name) VALUES ('a'), ('b')`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, countItems(t, db))
}

func TestRunRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	boom := errors.New("boom")

	err := Run(context.Background(), db, func(tc *Context) error {
		if _, err := tc.Tx().Exec(`INSERT INTO items (name) VALUES ('a')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countItems(t, db))
}

func TestRunRollsBackOnPanic(t *testing.T) {
	db := openTestDB(t)

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = Run(context.Background(), db, func(tc *Context) error {
			_, _ = tc.Tx().Exec(`INSERT INTO items (name) VALUES ('a')`)
			panic("kaboom")
		})
	})
	assert.Equal(t, 0, countItems(t, db))
}

func TestEnterTracksDepth(t *testing.T) {
	db := openTestDB(t)
	tc, err := Begin(context.Background(), db)
	require.NoError(t, err)
	defer tc.Rollback()

	assert.Equal(t, 0, tc.Depth())
	leave := tc.Enter()
	leaveInner := tc.Enter()
	assert.Equal(t, 2, tc.Depth())
	leaveInner()
	leave()
	assert.Equal(t, 0, tc.Depth())
}
