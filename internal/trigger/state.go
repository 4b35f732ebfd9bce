package trigger

import "fmt"

// State is the lifecycle of one row within a statement.
//
//	Pending -> AppliedAwaitingAfter -> Committed
//	Pending -> Aborted
//	AppliedAwaitingAfter -> Aborted
//
// Committed is reached only when the transaction commits. Rollback moves every
// non-terminal row to Aborted.
type State uint8

const (
	StatePending State = iota + 1
	StateAppliedAwaitingAfter
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAppliedAwaitingAfter:
		return "applied_awaiting_after"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	switch s {
	case StatePending:
		return next == StateAppliedAwaitingAfter || next == StateAborted
	case StateAppliedAwaitingAfter:
		return next == StateCommitted || next == StateAborted
	default:
		return false
	}
}
