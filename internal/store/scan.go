package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/hookledger/internal/ir"
)

// rowidColumn aliases the SQLite rowid in selects so it cannot collide with
// an INTEGER PRIMARY KEY column, which SQLite would otherwise report as the
// rowid's name.
const rowidColumn = "__hookledger_rowid"

// scanRecords reads every row into a Record keyed by result column name.
func scanRecords(rows *sql.Rows) ([]ir.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var out []ir.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec := make(ir.Record, len(cols))
		for i, col := range cols {
			v, err := ir.FromGo(vals[i])
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", col, err)
			}
			rec[col] = v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// takeRowid removes the aliased rowid from rec and returns it.
func takeRowid(rec ir.Record) (int64, error) {
	v, ok := rec[rowidColumn].(ir.Int)
	if !ok {
		return 0, fmt.Errorf("row has no rowid")
	}
	delete(rec, rowidColumn)
	return int64(v), nil
}

// argsFor converts values into driver arguments.
func argsFor(values []ir.Value) ([]any, error) {
	args := make([]any, len(values))
	for i, v := range values {
		a, err := ir.ToGo(v)
		if err != nil {
			return nil, err
		}
		args[i] = a
	}
	return args, nil
}

// whereClause renders an equality predicate over rec's columns, in canonical
// column order. NULL values match with IS NULL. An empty rec matches all rows.
func whereClause(rec ir.Record) (string, []ir.Value) {
	if len(rec) == 0 {
		return "", nil
	}
	var conds []string
	var vals []ir.Value
	for _, col := range rec.SortedKeys() {
		v := rec[col]
		if ir.IsNull(v) {
			conds = append(conds, quoteIdentifier(col)+" IS NULL")
			continue
		}
		conds = append(conds, quoteIdentifier(col)+" = ?")
		vals = append(vals, v)
	}
	return " WHERE " + strings.Join(conds, " AND "), vals
}
