// Package store is the SQLite storage-engine adapter.
//
// It owns the connection, applies mutations and drives the trigger
// dispatcher around each one:
//
//   - Insert, Update, Delete and Truncate run one statement each, delivering
//     Before/After row and statement events through a trigger.Statement
//   - targets that are views are routed to InsteadOf observers
//   - constraint enforcement and isolation stay SQLite's; failures are
//     reported as trigger.ConstraintViolation and trigger.ConcurrentConflict
//
// It also hosts the ledger table, derived_records, which is append-only:
// the store has no update or delete path and the table carries a BEFORE
// UPDATE guard. Deleting old records is left to external retention.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Every write on behalf of a mutation goes through the txn.Context's
// *sql.Tx. There is no independent commit path.
package store
