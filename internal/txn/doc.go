// Package txn provides the explicit transaction context threaded through
// every dispatcher, observer and writer call.
//
// A Context wraps one *sql.Tx together with the facts that must be constant
// for the whole transaction: a single wall-clock instant used for every
// timestamp, a transaction id, and the acting party. Nothing in hookledger
// reads an ambient or global "current transaction".
package txn
