package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/hookledger/internal/trigger"
	"github.com/roach88/hookledger/internal/txn"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added lookup indexes on derived_records
// 2 - Dropped the delete guard on derived_records; retention may delete
const currentSchemaVersion = 2

// Store is the SQLite storage engine adapter.
type Store struct {
	db         *sql.DB
	dispatcher *trigger.Dispatcher
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// Mutations are dispatched through d. A nil d gets a dispatcher over an
// empty registry.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, d *trigger.Dispatcher) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// A transaction holds the only connection until it finishes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	if d == nil {
		d = trigger.NewDispatcher(trigger.NewRegistry())
	}
	return &Store{db: db, dispatcher: d}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Writes through it bypass the dispatcher.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dispatcher returns the dispatcher mutations are delivered to.
func (s *Store) Dispatcher() *trigger.Dispatcher {
	return s.dispatcher
}

// Registry returns the dispatcher's observer registry.
func (s *Store) Registry() *trigger.Registry {
	return s.dispatcher.Registry()
}

// Exec runs a DDL or setup statement outside any observed transaction.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// Begin starts a transaction on the store.
func (s *Store) Begin(ctx context.Context, opts ...txn.Option) (*txn.Context, error) {
	return txn.Begin(ctx, s.db, opts...)
}

// Run executes fn in a transaction that commits when fn returns nil and
// rolls back otherwise. See txn.Run.
func (s *Store) Run(ctx context.Context, fn func(*txn.Context) error, opts ...txn.Option) error {
	return txn.Run(ctx, s.db, fn, opts...)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the ledger lookup indexes.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_derived_records_source
		ON derived_records(source_table, record_key, seq);
		CREATE INDEX IF NOT EXISTS idx_derived_records_txn
		ON derived_records(txn_id, seq);
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 drops the BEFORE DELETE guard older databases carry.
func migrateToV2(db *sql.DB) error {
	if _, err := db.Exec("DROP TRIGGER IF EXISTS derived_records_no_delete"); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
