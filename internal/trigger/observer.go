package trigger

import (
	"context"

	"github.com/roach88/hookledger/internal/ir"
	"github.com/roach88/hookledger/internal/txn"
)

//go:generate mockgen -destination=observer_mock.go -package=trigger -source=observer.go

// Observer is registered logic invoked for matching mutation events.
//
// Before-Row observers may rewrite NEW by returning Proceed(row) or skip the
// row with Suppress(). Every other observer's result must be Proceed; its
// row, if any, is ignored. Observers may issue further writes through tc.
type Observer interface {
	// Name identifies the observer in logs and errors.
	Name() string

	// Observe handles one event. A non-nil error aborts the transaction.
	Observe(ctx context.Context, tc *txn.Context, ev ir.MutationEvent) (Result, error)
}
