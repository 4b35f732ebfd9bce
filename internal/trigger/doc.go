// Package trigger implements the observer registry and the mutation event
// dispatcher.
//
// The storage engine drives dispatch one statement at a time:
//
//	st, err := d.Begin(ctx, tc, table, op, changed) // Before-Statement observers
//	defer st.Close()
//	for each affected row:
//	    row, _ := st.Row(image)
//	    res, err := row.Before(ctx)                 // Before-Row observers, in order
//	    if res.Suppressed() { continue }            // no apply, no After, no derive
//	    stored := apply(res.Row())
//	    row.Applied(stored)
//	    err = row.After(ctx)                        // After-Row observers
//	err = st.End(ctx)                               // After-Statement observers
//
// Observers of one timing class run in registration order. Statement
// observers bracket the row observers of the same class: Before-Statement
// runs before any Before-Row of the statement and After-Statement after
// every After-Row.
//
// Any observer error aborts the enclosing transaction. The dispatcher never
// recovers locally; it reports the failure and the caller rolls back.
package trigger
