// Package ledger synthesizes derived records from mutated rows.
//
// A Writer is configured by a Definition naming the source table, the
// request type it stamps and how each field of the row maps onto the
// record. Registered as an After/Row observer, it derives exactly one
// record per qualifying insert or update and appends it through the
// mutation's own transaction, so the record and the mutation commit or
// roll back together.
//
// Derivation is strict. An unmapped status, an invalid enum value or a
// malformed payload fails the observer and with it the whole transaction;
// nothing is ever defaulted.
package ledger
