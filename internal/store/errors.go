package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/hookledger/internal/ir"
	"github.com/roach88/hookledger/internal/trigger"
	"github.com/roach88/hookledger/internal/txn"
)

var (
	// ErrUnknownTable is returned when a mutation names no table or view.
	ErrUnknownTable = errors.New("store: unknown table")

	// ErrReservedTable is returned for mutations on the ledger table or
	// SQLite's internal tables.
	ErrReservedTable = errors.New("store: reserved table")

	// ErrViewNotUpdatable is returned when a view is mutated without any
	// instead_of observer for the operation, or truncated.
	ErrViewNotUpdatable = errors.New("store: view is not updatable")

	// ErrNoTransaction is returned when a finished or missing transaction
	// context is passed to a mutation.
	ErrNoTransaction = errors.New("store: no active transaction")
)

// classify maps SQLite failures onto the dispatch error taxonomy.
// Errors that are already dispatch errors pass through unchanged.
func classify(table string, op ir.Operation, err error) error {
	if err == nil {
		return nil
	}
	var de *trigger.DispatchError
	if errors.As(err, &de) {
		return err
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			return trigger.NewConstraintViolation(table, op, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return trigger.NewConcurrentConflict(table, op, err)
		}
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}

func checkTxn(tc *txn.Context) error {
	if tc == nil || tc.Done() {
		return ErrNoTransaction
	}
	return nil
}
