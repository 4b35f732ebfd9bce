// Package mapping is the field mapping layer: pure functions that translate a
// raw column value into its canonical form.
//
// Every function here is deterministic and side-effect free. Lookup tables
// are immutable once constructed and are treated as exhaustive: a raw value
// missing from a table is an error, never a silently substituted default.
package mapping
