// Package sqlite persists tool call audit records in a SQLite database
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/audit"
)

var (
	_ audit.AuditStore   = (*AuditStore)(nil)
	_ audit.RecentReader = (*AuditStore)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS tool_calls (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   TEXT    NOT NULL,
	request_id  TEXT    NOT NULL,
	server_id   TEXT    NOT NULL,
	tool_name   TEXT    NOT NULL,
	success     INTEGER NOT NULL,
	outcome     TEXT    NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT    NOT NULL DEFAULT '',
	error_kind  TEXT    NOT NULL DEFAULT '',
	risk_score  INTEGER NOT NULL DEFAULT 0,
	risk_level  TEXT    NOT NULL DEFAULT '',
	risk_table  TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_request ON tool_calls(request_id);
CREATE INDEX IF NOT EXISTS idx_tool_calls_server_tool ON tool_calls(server_id, tool_name);
CREATE INDEX IF NOT EXISTS idx_tool_calls_outcome ON tool_calls(outcome);
`

const insertRecord = `
INSERT INTO tool_calls (
	timestamp, request_id, server_id, tool_name, success, outcome, duration_ms,
	error, error_kind, risk_score, risk_level, risk_table
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectRecent = `
SELECT timestamp, request_id, server_id, tool_name, success, duration_ms,
	error, error_kind, risk_score, risk_level, risk_table
FROM tool_calls ORDER BY id DESC LIMIT ?`

// AuditStore is an audit.AuditStore backed by a SQLite table.
type AuditStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists. Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// Append inserts records in one transaction.
func (s *AuditStore) Append(ctx context.Context, records ...audit.ToolCallRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertRecord)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.RequestID,
			r.ServerID,
			r.ToolName,
			r.Success,
			r.Outcome(),
			r.DurationMs,
			r.Error,
			r.ErrorKind,
			r.RiskScore,
			r.RiskLevel,
			r.RiskTable,
		)
		if err != nil {
			return fmt.Errorf("insert %s: %w", r.RequestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Flush checkpoints the write-ahead log.
func (s *AuditStore) Flush(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

// Recent returns up to n records, newest first.
func (s *AuditStore) Recent(ctx context.Context, n int) ([]audit.ToolCallRecord, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, selectRecent, n)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []audit.ToolCallRecord
	for rows.Next() {
		var (
			r  audit.ToolCallRecord
			ts string
		)
		if err := rows.Scan(&ts, &r.RequestID, &r.ServerID, &r.ToolName, &r.Success, &r.DurationMs,
			&r.Error, &r.ErrorKind, &r.RiskScore, &r.RiskLevel, &r.RiskTable); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
