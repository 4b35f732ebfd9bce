package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/hookledger/internal/testutil"
	"github.com/roach88/hookledger/internal/trigger"
	"github.com/roach88/hookledger/internal/txn"
)

// createTestStore opens a store in a temp directory with a fresh registry.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, trigger.NewDispatcher(trigger.NewRegistry()))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createOrdersTable creates the table most mutation tests run against.
func createOrdersTable(t *testing.T, s *Store) {
	t.Helper()
	err := s.Exec(context.Background(), `
		CREATE TABLE orders (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			status TEXT NOT NULL,
			amount INTEGER NOT NULL DEFAULT 0 CHECK (amount >= 0),
			note   TEXT
		)
	`)
	if err != nil {
		t.Fatalf("create table failed: %v", err)
	}
}

// beginTest starts a deterministic transaction that is rolled back at
// cleanup unless the test finished it.
func beginTest(t *testing.T, s *Store, opts ...txn.Option) *txn.Context {
	t.Helper()
	opts = append([]txn.Option{
		txn.WithClock(testutil.NewDeterministicClock(testutil.Epoch, time.Second)),
		txn.WithIDGenerator(testutil.NewSequentialIDGenerator("")),
	}, opts...)
	tc, err := s.Begin(context.Background(), opts...)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	t.Cleanup(func() {
		if !tc.Done() {
			_ = tc.Rollback()
		}
	})
	return tc
}
