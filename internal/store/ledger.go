package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/hookledger/internal/ir"
	"github.com/roach88/hookledger/internal/txn"
)

// Entry is a derived record as stored in the ledger.
type Entry struct {
	// Seq is the ledger's insertion order.
	Seq int64 `json:"seq"`

	// Digest is the record's content digest (see ir.DerivedRecord.Digest).
	Digest string `json:"digest"`

	ir.DerivedRecord
}

// AppendDerived writes rec through tc's transaction. The record becomes
// durable only if tc commits and vanishes if it rolls back.
func (s *Store) AppendDerived(ctx context.Context, tc *txn.Context, rec ir.DerivedRecord) error {
	if err := checkTxn(tc); err != nil {
		return fmt.Errorf("append derived: %w", err)
	}

	digest, err := rec.Digest()
	if err != nil {
		return fmt.Errorf("append derived: %w", err)
	}
	passthrough, err := ir.MarshalCanonical(rec.Passthrough)
	if err != nil {
		return fmt.Errorf("append derived: passthrough: %w", err)
	}

	_, err = tc.Tx().ExecContext(ctx, `
		INSERT INTO derived_records
		(digest, record_key, source_table, request_type, status, platform, payload, passthrough, actor_id, created_at, updated_at, txn_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		digest,
		rec.Key,
		rec.SourceTable,
		string(rec.RequestType),
		string(rec.Status),
		nullable(rec.Platform),
		nullable(rec.Payload),
		string(passthrough),
		nullable(rec.ActorID),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
		rec.TxnID,
	)
	if err != nil {
		return fmt.Errorf("append derived: %w", classify(ledgerTable, ir.OpInsert, err))
	}

	tc.Logger().Debug("derived record written",
		"source_table", rec.SourceTable,
		"key", rec.Key,
		"request_type", string(rec.RequestType),
		"status", string(rec.Status),
		"digest", digest)
	return nil
}

// ListFilter narrows ListDerived. Zero fields match everything.
type ListFilter struct {
	SourceTable string
	Key         string
	TxnID       string

	// Limit caps the number of entries; 0 means no limit.
	Limit int
}

// ListDerived returns committed ledger entries in insertion order.
func (s *Store) ListDerived(ctx context.Context, f ListFilter) ([]Entry, error) {
	return listDerived(ctx, s.db, f)
}

// ListDerivedIn returns ledger entries as seen inside tc's transaction,
// including its own uncommitted writes.
func (s *Store) ListDerivedIn(ctx context.Context, tc *txn.Context, f ListFilter) ([]Entry, error) {
	if err := checkTxn(tc); err != nil {
		return nil, fmt.Errorf("list derived: %w", err)
	}
	return listDerived(ctx, tc.Tx(), f)
}

// CountDerived returns the number of committed ledger entries.
func (s *Store) CountDerived(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM derived_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count derived: %w", err)
	}
	return n, nil
}

func listDerived(ctx context.Context, q querier, f ListFilter) ([]Entry, error) {
	var conds []string
	var args []any
	if f.SourceTable != "" {
		conds = append(conds, "source_table = ?")
		args = append(args, f.SourceTable)
	}
	if f.Key != "" {
		conds = append(conds, "record_key = ?")
		args = append(args, f.Key)
	}
	if f.TxnID != "" {
		conds = append(conds, "txn_id = ?")
		args = append(args, f.TxnID)
	}

	query := `
		SELECT seq, digest, record_key, source_table, request_type, status, platform, payload, passthrough, actor_id, created_at, updated_at, txn_id
		FROM derived_records`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query derived records: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate derived records: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                          Entry
		requestType, status        string
		platform, payload, actorID sql.NullString
		passthrough                string
		createdAt, updatedAt       string
	)
	err := rows.Scan(&e.Seq, &e.Digest, &e.Key, &e.SourceTable, &requestType, &status,
		&platform, &payload, &passthrough, &actorID, &createdAt, &updatedAt, &e.TxnID)
	if err != nil {
		return Entry{}, fmt.Errorf("scan derived record: %w", err)
	}

	e.RequestType = ir.RequestType(requestType)
	e.Status = ir.CanonicalStatus(status)
	e.Platform = platform.String
	e.Payload = payload.String
	e.ActorID = actorID.String

	var pt map[string]string
	if err := json.Unmarshal([]byte(passthrough), &pt); err != nil {
		return Entry{}, fmt.Errorf("unmarshal passthrough for seq %d: %w", e.Seq, err)
	}
	if len(pt) > 0 {
		e.Passthrough = pt
	}

	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Entry{}, fmt.Errorf("parse created_at for seq %d: %w", e.Seq, err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Entry{}, fmt.Errorf("parse updated_at for seq %d: %w", e.Seq, err)
	}
	return e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
