package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/hookledger/internal/ir"
)

const ledgerTable = "derived_records"

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// target is a resolved mutation target.
type target struct {
	// name is the table as the caller spelled it; events carry this name.
	name string

	// ident is the quoted SQL identifier.
	ident string

	view bool

	// keyCols holds the primary key of a WITHOUT ROWID table, which
	// locates its rows in place of the rowid. Empty for rowid tables.
	keyCols []string
}

// rowKey locates one row of a target for apply.
type rowKey []any

// keySelect returns the select list and ordering that expose each row's key.
func (t target) keySelect() (cols, order string) {
	if t.view {
		return "*", ""
	}
	if len(t.keyCols) == 0 {
		return "rowid AS " + rowidColumn + ", *", " ORDER BY rowid"
	}
	quoted := make([]string, len(t.keyCols))
	for i, c := range t.keyCols {
		quoted[i] = quoteIdentifier(c)
	}
	return "*", " ORDER BY " + strings.Join(quoted, ", ")
}

// keyWhere returns the condition matching one row by its key.
func (t target) keyWhere() string {
	if len(t.keyCols) == 0 {
		return " WHERE rowid = ?"
	}
	conds := make([]string, len(t.keyCols))
	for i, c := range t.keyCols {
		conds[i] = quoteIdentifier(c) + " = ?"
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// takeKey extracts rec's key. The rowid alias is removed from rec.
func (t target) takeKey(rec ir.Record) (rowKey, error) {
	if len(t.keyCols) == 0 {
		id, err := takeRowid(rec)
		if err != nil {
			return nil, err
		}
		return rowKey{id}, nil
	}
	vals := make([]ir.Value, len(t.keyCols))
	for i, c := range t.keyCols {
		v, ok := rec[c]
		if !ok {
			return nil, fmt.Errorf("row has no primary key column %q", c)
		}
		vals[i] = v
	}
	args, err := argsFor(vals)
	if err != nil {
		return nil, err
	}
	return rowKey(args), nil
}

func isReserved(base string) bool {
	lower := strings.ToLower(base)
	return lower == ledgerTable || strings.HasPrefix(lower, "sqlite_")
}

// resolveTarget looks the table up in sqlite_master to tell tables from views.
func resolveTarget(ctx context.Context, q querier, table string) (target, error) {
	parts := splitQualifiedIdentifier(table)
	if len(parts) == 0 || len(parts) > 2 {
		return target{}, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	for _, p := range parts {
		if p == "" {
			return target{}, fmt.Errorf("%w: %q", ErrUnknownTable, table)
		}
	}
	base := parts[len(parts)-1]
	if isReserved(base) {
		return target{}, fmt.Errorf("%w: %q", ErrReservedTable, table)
	}

	schema := "main"
	if len(parts) == 2 {
		schema = parts[0]
	}

	var kind string
	err := q.QueryRowContext(ctx,
		"SELECT type FROM "+quoteIdentifier(schema)+".sqlite_master WHERE name = ? AND type IN ('table', 'view')",
		base,
	).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return target{}, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if err != nil {
		return target{}, fmt.Errorf("resolve %q: %w", table, err)
	}

	t := target{
		name:  table,
		ident: quoteQualifiedIdentifier(parts),
		view:  kind == "view",
	}
	if !t.view {
		if t.keyCols, err = withoutRowidKey(ctx, q, schema, base); err != nil {
			return target{}, fmt.Errorf("resolve %q: %w", table, err)
		}
	}
	return t, nil
}

// withoutRowidKey returns the primary key columns of a WITHOUT ROWID table
// in key order, or nil for an ordinary rowid table.
func withoutRowidKey(ctx context.Context, q querier, schema, table string) ([]string, error) {
	var wr bool
	err := q.QueryRowContext(ctx,
		"SELECT wr FROM pragma_table_list WHERE schema = ? AND name = ?",
		schema, table,
	).Scan(&wr)
	if err != nil {
		return nil, err
	}
	if !wr {
		return nil, nil
	}

	rows, err := q.QueryContext(ctx,
		"SELECT name FROM pragma_table_info(?, ?) WHERE pk > 0 ORDER BY pk",
		table, schema,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("WITHOUT ROWID table %q has no primary key", table)
	}
	return cols, nil
}
