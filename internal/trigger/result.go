package trigger

import (
	"context"

	"github.com/roach88/hookledger/internal/ir"
	"github.com/roach88/hookledger/internal/txn"
)

type outcome uint8

const (
	outcomeProceed outcome = iota
	outcomeSuppress
)

// Result is an observer's control outcome: Proceed, optionally with a
// rewritten NEW image, or Suppress. The zero value is Proceed(nil).
type Result struct {
	outcome outcome
	row     ir.Record
}

// Proceed continues with row as NEW. A nil row leaves NEW unchanged.
func Proceed(row ir.Record) Result {
	return Result{outcome: outcomeProceed, row: row}
}

// Suppress skips the row: it is not applied, no After observer sees it and
// no derived record is written for it. Valid only from Before-Row observers.
func Suppress() Result {
	return Result{outcome: outcomeSuppress}
}

// Suppressed reports whether the result is Suppress.
func (r Result) Suppressed() bool {
	return r.outcome == outcomeSuppress
}

// Row returns the NEW image carried by a Proceed result, or nil.
func (r Result) Row() ir.Record {
	return r.row
}

func (r Result) String() string {
	if r.Suppressed() {
		return "suppress"
	}
	if r.row != nil {
		return "proceed(rewritten)"
	}
	return "proceed"
}

// ObserverFunc adapts a function into an Observer.
type ObserverFunc struct {
	Label string
	Fn    func(ctx context.Context, tc *txn.Context, ev ir.MutationEvent) (Result, error)
}

// Func returns an Observer named name that delegates to fn.
func Func(name string, fn func(ctx context.Context, tc *txn.Context, ev ir.MutationEvent) (Result, error)) ObserverFunc {
	return ObserverFunc{Label: name, Fn: fn}
}

// Name implements Observer.
func (f ObserverFunc) Name() string {
	return f.Label
}

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, tc *txn.Context, ev ir.MutationEvent) (Result, error) {
	return f.Fn(ctx, tc, ev)
}
