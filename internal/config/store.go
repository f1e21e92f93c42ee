package config

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS config (
	tenant_id  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (tenant_id, key)
);
`

// #endregion schema

// #region store

// Store is a per-tenant key/value config store. Every getter falls back to
// the caller-supplied default on a missing row, a parse failure, or a
// database error; configuration reads never fail a control path.
type Store struct {
	db *sql.DB
}

// NewStore initializes the config table and returns a Store.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate config: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion store

// #region set

// Set upserts one config value.
func (s *Store) Set(ctx context.Context, tenant, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config (tenant_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tenant_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		tenant, key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// #endregion set

// #region getters

// String returns the stored value or def.
func (s *Store) String(ctx context.Context, tenant, key, def string) string {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE tenant_id = ? AND key = ?`, tenant, key,
	).Scan(&v)
	if err != nil {
		return def
	}
	return v
}

// Float returns the stored value parsed as float64, or def.
func (s *Store) Float(ctx context.Context, tenant, key string, def float64) float64 {
	raw := s.String(ctx, tenant, key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// Int returns the stored value parsed as int, or def.
func (s *Store) Int(ctx context.Context, tenant, key string, def int) int {
	raw := s.String(ctx, tenant, key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// Bool returns the stored value parsed as bool, or def.
func (s *Store) Bool(ctx context.Context, tenant, key string, def bool) bool {
	raw := s.String(ctx, tenant, key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// Duration returns the stored value parsed as a time.Duration, or def.
func (s *Store) Duration(ctx context.Context, tenant, key string, def time.Duration) time.Duration {
	raw := s.String(ctx, tenant, key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return v
}

// #endregion getters
