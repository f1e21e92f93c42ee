package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id     TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	payload_json TEXT,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_tenant_time ON events(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_events_tenant_type ON events(tenant_id, event_type, created_at);

CREATE TABLE IF NOT EXISTS ticks (
	tick_id        TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	coherence      REAL NOT NULL,
	p_ok           REAL NOT NULL,
	p_degraded     REAL NOT NULL,
	inferred_state TEXT NOT NULL,
	action_taken   TEXT NOT NULL,
	phi            REAL NOT NULL DEFAULT 0,
	notes          TEXT,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ticks_tenant_time ON ticks(tenant_id, created_at);
`

// #endregion schema

// #region store-struct

// Store is the append-only event log backing sensing, grounding, and the
// integration estimator. It owns the SQLite handle shared by the other
// persistence layers.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing database handle and runs migrations.
// Used by tests and by callers that share one handle across stores.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by the other stores.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region append

// Append writes one event row. Payload may be nil.
func (s *Store) Append(ctx context.Context, tenant, eventType string, payload map[string]any) error {
	var payloadPtr interface{}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		payloadPtr = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, tenant_id, event_type, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), tenant, eventType, payloadPtr,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// #endregion append

// #region query

// Query returns events for a tenant created at or after since, oldest first.
// typeFilter narrows by substring match on event_type; empty means all types.
// limit <= 0 means no limit.
func (s *Store) Query(ctx context.Context, tenant string, since time.Time, typeFilter string, limit int) ([]Event, error) {
	q := `SELECT event_id, event_type, payload_json, created_at
	      FROM events WHERE tenant_id = ? AND created_at >= ?`
	args := []interface{}{tenant, since.UTC().Format(time.RFC3339Nano)}
	if typeFilter != "" {
		q += ` AND event_type LIKE ?`
		args = append(args, "%"+typeFilter+"%")
	}
	q += ` ORDER BY created_at ASC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var payloadJSON sql.NullString
		var createdStr string
		if err := rows.Scan(&ev.ID, &ev.Type, &payloadJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Tenant = tenant
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// #endregion query

// #region ticks

// AppendTick archives one heartbeat tick row.
func (s *Store) AppendTick(ctx context.Context, rec TickRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ticks (tick_id, tenant_id, coherence, p_ok, p_degraded,
		 inferred_state, action_taken, phi, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Tenant, rec.Coherence, rec.POK, rec.PDegraded,
		rec.InferredState, rec.ActionTaken, rec.Phi,
		nullIfEmpty(rec.Notes), rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append tick: %w", err)
	}
	return nil
}

// ListTicks returns the most recent archived ticks for a tenant, newest first.
func (s *Store) ListTicks(ctx context.Context, tenant string, limit int) ([]TickRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick_id, coherence, p_ok, p_degraded, inferred_state, action_taken, phi, notes, created_at
		 FROM ticks WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?`,
		tenant, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ticks: %w", err)
	}
	defer rows.Close()

	var records []TickRecord
	for rows.Next() {
		var rec TickRecord
		var notes sql.NullString
		var createdStr string
		if err := rows.Scan(&rec.ID, &rec.Coherence, &rec.POK, &rec.PDegraded,
			&rec.InferredState, &rec.ActionTaken, &rec.Phi, &notes, &createdStr); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		rec.Tenant = tenant
		if notes.Valid {
			rec.Notes = notes.String
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion ticks

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
