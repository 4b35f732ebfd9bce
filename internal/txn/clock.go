package txn

import "time"

// Clock supplies the instant a transaction context captures at Begin.
type Clock interface {
	Now() time.Time
}

// WallClock reads the system clock in UTC.
type WallClock struct{}

// Now returns the current UTC time truncated to microseconds, the precision
// that survives a round-trip through the ledger's RFC 3339 text columns.
func (WallClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
