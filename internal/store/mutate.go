package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/hookledger/internal/ir"
	"github.com/roach88/hookledger/internal/txn"
)

// Outcome reports what one statement did.
type Outcome struct {
	// Rows holds each applied row as stored (OLD for Delete), in
	// application order. For views it holds the images handed to the
	// instead_of observers.
	Rows []ir.Record

	// Suppressed counts rows a Before observer skipped.
	Suppressed int

	// Vanished counts matched rows an observer of the same statement
	// deleted before their turn. They are skipped, not applied.
	Vanished int
}

// errRowVanished reports that a matched row no longer exists at apply.
var errRowVanished = errors.New("row no longer exists")

// Affected returns the number of applied rows.
func (o Outcome) Affected() int {
	return len(o.Rows)
}

// applyFunc applies row i of a statement and returns the stored image.
type applyFunc func(ctx context.Context, tx *sql.Tx, i int, image ir.RowImage) (ir.Record, error)

// Insert inserts rows into table as one statement.
func (s *Store) Insert(ctx context.Context, tc *txn.Context, table string, rows ...ir.Record) (Outcome, error) {
	t, err := s.prepare(ctx, tc, table)
	if err != nil {
		return Outcome{}, err
	}

	images := make([]ir.RowImage, len(rows))
	for i, row := range rows {
		if row == nil {
			row = ir.Record{}
		}
		images[i] = ir.RowImage{New: row}
	}

	return s.exec(ctx, tc, t, ir.OpInsert, nil, images, func(ctx context.Context, tx *sql.Tx, _ int, img ir.RowImage) (ir.Record, error) {
		cols := img.New.SortedKeys()
		if len(cols) == 0 {
			return queryOne(ctx, tx, "INSERT INTO "+t.ident+" DEFAULT VALUES RETURNING *")
		}
		quoted := make([]string, len(cols))
		vals := make([]ir.Value, len(cols))
		for i, c := range cols {
			quoted[i] = quoteIdentifier(c)
			vals[i] = img.New[c]
		}
		args, err := argsFor(vals)
		if err != nil {
			return nil, err
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
			t.ident, strings.Join(quoted, ", "), placeholders(len(cols)))
		return queryOne(ctx, tx, query, args...)
	})
}

// Update sets the columns of set on every row matching where. The keys of
// set are the statement's changed columns.
func (s *Store) Update(ctx context.Context, tc *txn.Context, table string, set, where ir.Record) (Outcome, error) {
	if len(set) == 0 {
		return Outcome{}, fmt.Errorf("update %s: empty SET list", table)
	}
	t, err := s.prepare(ctx, tc, table)
	if err != nil {
		return Outcome{}, err
	}

	olds, keys, err := selectRows(ctx, tc.Tx(), t, where)
	if err != nil {
		return Outcome{}, classify(table, ir.OpUpdate, err)
	}

	images := make([]ir.RowImage, len(olds))
	for i, old := range olds {
		next := old.Clone()
		for col, v := range set {
			next[col] = v
		}
		images[i] = ir.RowImage{Old: old, New: next}
	}

	changed := set.SortedKeys()
	return s.exec(ctx, tc, t, ir.OpUpdate, changed, images, func(ctx context.Context, tx *sql.Tx, i int, img ir.RowImage) (ir.Record, error) {
		cols := updateColumns(img, set)
		if len(cols) == 0 {
			return queryKeyed(ctx, tx, "SELECT * FROM "+t.ident+t.keyWhere(), keys[i]...)
		}
		assigns := make([]string, len(cols))
		vals := make([]ir.Value, 0, len(cols)+1)
		for j, c := range cols {
			assigns[j] = quoteIdentifier(c) + " = ?"
			vals = append(vals, img.New[c])
		}
		args, err := argsFor(vals)
		if err != nil {
			return nil, err
		}
		args = append(args, keys[i]...)
		query := fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", t.ident, strings.Join(assigns, ", "), t.keyWhere())
		return queryKeyed(ctx, tx, query, args...)
	})
}

// Delete removes every row matching where.
func (s *Store) Delete(ctx context.Context, tc *txn.Context, table string, where ir.Record) (Outcome, error) {
	t, err := s.prepare(ctx, tc, table)
	if err != nil {
		return Outcome{}, err
	}

	olds, keys, err := selectRows(ctx, tc.Tx(), t, where)
	if err != nil {
		return Outcome{}, classify(table, ir.OpDelete, err)
	}

	images := make([]ir.RowImage, len(olds))
	for i, old := range olds {
		images[i] = ir.RowImage{Old: old}
	}

	return s.exec(ctx, tc, t, ir.OpDelete, nil, images, func(ctx context.Context, tx *sql.Tx, i int, _ ir.RowImage) (ir.Record, error) {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+t.ident+t.keyWhere(), keys[i]...)
		if err != nil {
			return nil, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, errRowVanished
		}
		return nil, nil
	})
}

// Truncate removes every row of table. Only statement observers see it.
func (s *Store) Truncate(ctx context.Context, tc *txn.Context, table string) error {
	t, err := s.prepare(ctx, tc, table)
	if err != nil {
		return err
	}
	if t.view {
		return fmt.Errorf("%w: cannot truncate view %q", ErrViewNotUpdatable, table)
	}

	st, err := s.dispatcher.Begin(ctx, tc, t.name, ir.OpTruncate, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := tc.Tx().ExecContext(ctx, "DELETE FROM "+t.ident); err != nil {
		return classify(table, ir.OpTruncate, err)
	}
	return st.End(ctx)
}

func (s *Store) prepare(ctx context.Context, tc *txn.Context, table string) (target, error) {
	if err := checkTxn(tc); err != nil {
		return target{}, err
	}
	return resolveTarget(ctx, tc.Tx(), table)
}

// exec drives one statement through the dispatcher: Before-Statement, then
// per row Before, apply and After, then After-Statement. View rows go to
// the instead_of observers instead of being applied.
func (s *Store) exec(ctx context.Context, tc *txn.Context, t target, op ir.Operation, changed []string, images []ir.RowImage, apply applyFunc) (Outcome, error) {
	if t.view && !s.Registry().HasObservers(t.name, op, ir.InsteadOf) {
		return Outcome{}, fmt.Errorf("%w: no instead_of %s observer on %q", ErrViewNotUpdatable, op, t.name)
	}

	st, err := s.dispatcher.Begin(ctx, tc, t.name, op, changed)
	if err != nil {
		return Outcome{}, err
	}
	defer st.Close()

	var out Outcome
	for i, img := range images {
		row, err := st.Row(img)
		if err != nil {
			return out, err
		}

		if t.view {
			if err := row.InsteadOf(ctx); err != nil {
				return out, err
			}
			out.Rows = append(out.Rows, visibleImage(op, row.Image()))
			continue
		}

		res, err := row.Before(ctx)
		if err != nil {
			return out, err
		}
		if res.Suppressed() {
			out.Suppressed++
			continue
		}

		stored, err := apply(ctx, tc.Tx(), i, row.Image())
		if errors.Is(err, errRowVanished) {
			row.Fail()
			out.Vanished++
			continue
		}
		if err != nil {
			row.Fail()
			return out, classify(t.name, op, err)
		}
		if err := row.Applied(stored); err != nil {
			return out, err
		}
		if err := row.After(ctx); err != nil {
			return out, err
		}
		out.Rows = append(out.Rows, visibleImage(op, row.Image()))
	}

	if err := st.End(ctx); err != nil {
		return out, err
	}

	tc.Logger().Debug("statement applied",
		"table", t.name,
		"op", op.String(),
		"affected", out.Affected(),
		"suppressed", out.Suppressed,
		"vanished", out.Vanished)
	return out, nil
}

func visibleImage(op ir.Operation, img ir.RowImage) ir.Record {
	if op == ir.OpDelete {
		return img.Old
	}
	return img.New
}

// updateColumns returns the columns to write: every SET column plus any
// column a Before observer changed, in canonical order.
func updateColumns(img ir.RowImage, set ir.Record) []string {
	var cols []string
	for _, c := range img.New.SortedKeys() {
		if _, inSet := set[c]; inSet || !ir.Equal(img.Old[c], img.New[c]) {
			cols = append(cols, c)
		}
	}
	return cols
}

// selectRows reads the rows matching where in key order. For tables it
// also returns each row's key, which locates the row for apply.
func selectRows(ctx context.Context, q querier, t target, where ir.Record) ([]ir.Record, []rowKey, error) {
	cond, vals := whereClause(where)
	args, err := argsFor(vals)
	if err != nil {
		return nil, nil, err
	}

	cols, order := t.keySelect()
	query := "SELECT " + cols + " FROM " + t.ident + cond + order

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, nil, err
	}
	if t.view {
		return recs, nil, nil
	}

	keys := make([]rowKey, len(recs))
	for i, rec := range recs {
		if keys[i], err = t.takeKey(rec); err != nil {
			return nil, nil, err
		}
	}
	return recs, keys, nil
}

// queryKeyed runs a statement addressing one row by key. No row means the
// row was deleted after it was matched.
func queryKeyed(ctx context.Context, q querier, query string, args ...any) (ir.Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errRowVanished
	}
	return recs[0], nil
}

// queryOne runs a statement returning exactly one row.
func queryOne(ctx context.Context, q querier, query string, args ...any) (ir.Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) != 1 {
		return nil, fmt.Errorf("expected one row, got %d", len(recs))
	}
	return recs[0], nil
}

func placeholders(n int) string {
	return strings.Join(slices.Repeat([]string{"?"}, n), ", ")
}

// Rows returns the committed rows of table in rowid order, or primary key
// order for WITHOUT ROWID tables. Views are unordered.
func (s *Store) Rows(ctx context.Context, table string) ([]ir.Record, error) {
	return readRows(ctx, s.db, table)
}

// RowsIn returns the rows of table as seen inside tc's transaction.
func (s *Store) RowsIn(ctx context.Context, tc *txn.Context, table string) ([]ir.Record, error) {
	if err := checkTxn(tc); err != nil {
		return nil, err
	}
	return readRows(ctx, tc.Tx(), table)
}

func readRows(ctx context.Context, q querier, table string) ([]ir.Record, error) {
	t, err := resolveTarget(ctx, q, table)
	if err != nil {
		return nil, err
	}
	recs, _, err := selectRows(ctx, q, t, nil)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	if recs == nil {
		recs = []ir.Record{}
	}
	return recs, nil
}
