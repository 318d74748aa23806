// Package audit persists the engine's event stream into a SQLite database so
// operators can reconstruct the full history of an escrow after the fact.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"escrowd/core/events"
)

// SQLiteStore manages audit log persistence. It implements events.Emitter so
// it can be fanned into the engine's emitter alongside in-memory consumers.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Entry is one recorded event.
type Entry struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	EscrowID   uint64            `json:"escrowId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	OccurredAt time.Time         `json:"occurredAt"`
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	const schema = `CREATE TABLE IF NOT EXISTS audit_events (
        sequence INTEGER PRIMARY KEY AUTOINCREMENT,
        type TEXT NOT NULL,
        escrow_id INTEGER NOT NULL DEFAULT 0,
        attributes TEXT NOT NULL,
        occurred_at TIMESTAMP NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_audit_events_escrow ON audit_events(escrow_id);`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Emit records an event. Emission happens after the state transition has
// already committed, so a write failure is logged rather than surfaced.
func (s *SQLiteStore) Emit(evt *events.Event) {
	if s == nil || evt == nil {
		return
	}
	if err := s.Record(context.Background(), evt); err != nil {
		slog.Error("audit: record event", "type", evt.Type, "error", err)
	}
}

// Record inserts one event into the audit log.
func (s *SQLiteStore) Record(ctx context.Context, evt *events.Event) error {
	payload, err := json.Marshal(evt.Attributes)
	if err != nil {
		return err
	}
	var escrowID uint64
	if raw, ok := evt.Attributes["id"]; ok {
		escrowID, _ = strconv.ParseUint(raw, 10, 64)
	}
	const insert = `INSERT INTO audit_events (type, escrow_id, attributes, occurred_at) VALUES (?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, insert, evt.Type, escrowID, string(payload), s.now().UTC())
	return err
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT sequence, type, escrow_id, attributes, occurred_at FROM audit_events ORDER BY sequence DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ByEscrow returns the full event history of one escrow, oldest first.
func (s *SQLiteStore) ByEscrow(ctx context.Context, id uint64) ([]Entry, error) {
	const query = `SELECT sequence, type, escrow_id, attributes, occurred_at FROM audit_events WHERE escrow_id = ? ORDER BY sequence ASC`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			entry   Entry
			rawAttr string
		)
		if err := rows.Scan(&entry.Sequence, &entry.Type, &entry.EscrowID, &rawAttr, &entry.OccurredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rawAttr), &entry.Attributes); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
