// Package breaker implements the named circuit-breaker registry:
// CLOSED/OPEN/HALF_OPEN state machines with trip thresholds, timed
// auto-recovery, and aggregation into an intervention level.
package breaker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Zynapses/Radiant-sub008/internal/metrics"
	"github.com/Zynapses/Radiant-sub008/internal/notify"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS circuit_breakers (
	tenant_id               TEXT NOT NULL,
	name                    TEXT NOT NULL,
	state                   TEXT NOT NULL DEFAULT 'CLOSED',
	trip_count              INTEGER NOT NULL DEFAULT 0,
	consecutive_failures    INTEGER NOT NULL DEFAULT 0,
	half_open_attempts      INTEGER NOT NULL DEFAULT 0,
	last_tripped_at         TEXT,
	last_closed_at          TEXT,
	enabled                 INTEGER NOT NULL DEFAULT 1,
	trip_threshold          INTEGER NOT NULL DEFAULT 5,
	reset_timeout_seconds   INTEGER NOT NULL DEFAULT 60,
	half_open_max_attempts  INTEGER NOT NULL DEFAULT 3,
	updated_at              TEXT NOT NULL,
	PRIMARY KEY (tenant_id, name)
);
`

// #endregion schema

// #region registry

// Registry manages breaker rows and their transitions. Reads and writes
// are per-row with read-current/compute-next/write semantics; concurrent
// writers on the same row settle last-write-wins.
type Registry struct {
	db       *sql.DB
	log      *zap.SugaredLogger
	notifier notify.Notifier
	metrics  *metrics.Metrics
	target   string // notification target, empty disables

	// StrictUnknown blocks names with no stored row instead of allowing
	// them. Default false: fail-open favors availability.
	StrictUnknown bool

	now func() time.Time
}

// NewRegistry initializes the circuit_breakers table and returns a Registry.
func NewRegistry(db *sql.DB, log *zap.SugaredLogger, notifier notify.Notifier, m *metrics.Metrics, target string) (*Registry, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate breakers: %w", err)
	}
	return &Registry{
		db:       db,
		log:      log,
		notifier: notifier,
		metrics:  m,
		target:   target,
		now:      time.Now,
	}, nil
}

// #endregion registry

// #region register

// Register creates a breaker row with the given config if none exists.
func (r *Registry) Register(ctx context.Context, tenant, name string, cfg Config) error {
	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO circuit_breakers
		 (tenant_id, name, state, enabled, trip_threshold, reset_timeout_seconds, half_open_max_attempts, updated_at)
		 VALUES (?, ?, 'CLOSED', ?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, name) DO NOTHING`,
		tenant, name, enabled, cfg.TripThreshold,
		int(cfg.ResetTimeout.Seconds()), cfg.HalfOpenMaxAttempts,
		r.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("register breaker %s: %w", name, err)
	}
	return nil
}

// #endregion register

// #region load-save

// load reads one breaker row with explicit field decoding and defaults.
func (r *Registry) load(ctx context.Context, tenant, name string) (Breaker, bool, error) {
	var b Breaker
	var state string
	var lastTripped, lastClosed sql.NullString
	var enabled, resetSeconds int

	err := r.db.QueryRowContext(ctx,
		`SELECT state, trip_count, consecutive_failures, half_open_attempts,
		        last_tripped_at, last_closed_at, enabled, trip_threshold,
		        reset_timeout_seconds, half_open_max_attempts
		 FROM circuit_breakers WHERE tenant_id = ? AND name = ?`,
		tenant, name,
	).Scan(&state, &b.TripCount, &b.ConsecutiveFailures, &b.HalfOpenAttempts,
		&lastTripped, &lastClosed, &enabled, &b.Config.TripThreshold,
		&resetSeconds, &b.Config.HalfOpenMaxAttempts)
	if err == sql.ErrNoRows {
		return Breaker{}, false, nil
	}
	if err != nil {
		return Breaker{}, false, fmt.Errorf("load breaker %s: %w", name, err)
	}

	b.Tenant = tenant
	b.Name = name
	b.State = State(state)
	if b.State != StateOpen && b.State != StateHalfOpen {
		b.State = StateClosed
	}
	b.Config.Enabled = enabled != 0
	b.Config.ResetTimeout = time.Duration(resetSeconds) * time.Second
	if b.Config.TripThreshold <= 0 {
		b.Config.TripThreshold = DefaultConfig().TripThreshold
	}
	if b.Config.HalfOpenMaxAttempts <= 0 {
		b.Config.HalfOpenMaxAttempts = DefaultConfig().HalfOpenMaxAttempts
	}
	if lastTripped.Valid {
		b.LastTrippedAt, _ = time.Parse(time.RFC3339Nano, lastTripped.String)
	}
	if lastClosed.Valid {
		b.LastClosedAt, _ = time.Parse(time.RFC3339Nano, lastClosed.String)
	}
	return b, true, nil
}

// save writes the mutable fields of a breaker row back.
func (r *Registry) save(ctx context.Context, b Breaker) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE circuit_breakers SET state = ?, trip_count = ?, consecutive_failures = ?,
		        half_open_attempts = ?, last_tripped_at = ?, last_closed_at = ?, updated_at = ?
		 WHERE tenant_id = ? AND name = ?`,
		string(b.State), b.TripCount, b.ConsecutiveFailures, b.HalfOpenAttempts,
		nullIfZeroTime(b.LastTrippedAt), nullIfZeroTime(b.LastClosedAt),
		r.now().UTC().Format(time.RFC3339Nano),
		b.Tenant, b.Name,
	)
	if err != nil {
		return fmt.Errorf("save breaker %s: %w", b.Name, err)
	}
	return nil
}

// ensure loads a breaker, creating a default CLOSED row when absent.
func (r *Registry) ensure(ctx context.Context, tenant, name string) (Breaker, error) {
	b, found, err := r.load(ctx, tenant, name)
	if err != nil {
		return Breaker{}, err
	}
	if found {
		return b, nil
	}
	if err := r.Register(ctx, tenant, name, DefaultConfig()); err != nil {
		return Breaker{}, err
	}
	return Breaker{Tenant: tenant, Name: name, State: StateClosed, Config: DefaultConfig()}, nil
}

// #endregion load-save

// #region should-allow

// ShouldAllow reports whether a call guarded by the breaker may proceed.
// Unknown names and read errors fail open. A disabled breaker always
// allows and never changes state. An OPEN breaker moves to HALF_OPEN on
// the first check after the reset timeout has elapsed.
func (r *Registry) ShouldAllow(ctx context.Context, tenant, name string) bool {
	b, found, err := r.load(ctx, tenant, name)
	if err != nil {
		r.log.Warnw("breaker load failed, failing open", "name", name, "error", err)
		return true
	}
	if !found {
		return !r.StrictUnknown
	}
	if !b.Config.Enabled {
		return true
	}

	switch b.State {
	case StateClosed:
		return true

	case StateOpen:
		if r.now().Sub(b.LastTrippedAt) <= b.Config.ResetTimeout {
			return false
		}
		// Timeout elapsed: probe via HALF_OPEN. This check counts as the
		// first half-open attempt.
		b.State = StateHalfOpen
		b.HalfOpenAttempts = 1
		if err := r.save(ctx, b); err != nil {
			r.log.Warnw("breaker half-open transition not persisted", "name", name, "error", err)
		}
		r.log.Infow("breaker half-open", "tenant", tenant, "name", name)
		return true

	case StateHalfOpen:
		if b.HalfOpenAttempts >= b.Config.HalfOpenMaxAttempts {
			return false
		}
		b.HalfOpenAttempts++
		if err := r.save(ctx, b); err != nil {
			r.log.Warnw("breaker attempt count not persisted", "name", name, "error", err)
		}
		return true
	}
	return true
}

// #endregion should-allow

// #region record-failure

// RecordFailure registers one failed call. From CLOSED it trips to OPEN
// once consecutive failures reach the threshold; from HALF_OPEN any
// failure re-trips immediately.
func (r *Registry) RecordFailure(ctx context.Context, tenant, name string) error {
	b, err := r.ensure(ctx, tenant, name)
	if err != nil {
		return err
	}
	if !b.Config.Enabled {
		return nil
	}

	switch b.State {
	case StateClosed:
		b.ConsecutiveFailures++
		if b.ConsecutiveFailures >= b.Config.TripThreshold {
			r.trip(ctx, &b, "trip threshold reached")
		}
	case StateHalfOpen:
		r.trip(ctx, &b, "failure during half-open probe")
	case StateOpen:
		b.ConsecutiveFailures++
	}
	return r.save(ctx, b)
}

// trip moves a breaker to OPEN and fires the best-effort side effects.
func (r *Registry) trip(ctx context.Context, b *Breaker, reason string) {
	b.State = StateOpen
	b.TripCount++
	b.ConsecutiveFailures = 0
	b.HalfOpenAttempts = 0
	b.LastTrippedAt = r.now().UTC()

	r.log.Warnw("breaker tripped",
		"tenant", b.Tenant, "name", b.Name,
		"trip_count", b.TripCount, "reason", reason)
	r.metrics.BreakerTrips.WithLabelValues(b.Tenant, b.Name).Inc()
	r.notifyBestEffort(ctx, fmt.Sprintf("breaker %s tripped: %s", b.Name, reason), "warning")
}

// #endregion record-failure

// #region record-success

// RecordSuccess registers one successful call. From HALF_OPEN it closes
// the breaker and fires a recovery notification; from CLOSED it resets
// the consecutive-failure count. Success while OPEN is ignored.
func (r *Registry) RecordSuccess(ctx context.Context, tenant, name string) error {
	b, err := r.ensure(ctx, tenant, name)
	if err != nil {
		return err
	}
	if !b.Config.Enabled {
		return nil
	}

	switch b.State {
	case StateClosed:
		b.ConsecutiveFailures = 0
	case StateHalfOpen:
		b.State = StateClosed
		b.ConsecutiveFailures = 0
		b.HalfOpenAttempts = 0
		b.LastClosedAt = r.now().UTC()

		r.log.Infow("breaker recovered", "tenant", tenant, "name", name)
		r.metrics.BreakerRecoveries.WithLabelValues(tenant, name).Inc()
		r.notifyBestEffort(ctx, fmt.Sprintf("breaker %s recovered", name), "info")
	case StateOpen:
		return nil
	}
	return r.save(ctx, b)
}

// #endregion record-success

// #region reset

// Reset returns a breaker to CLOSED with counters cleared. Rows are never
// deleted, only reset.
func (r *Registry) Reset(ctx context.Context, tenant, name string) error {
	b, found, err := r.load(ctx, tenant, name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("reset breaker %s: not registered", name)
	}
	b.State = StateClosed
	b.ConsecutiveFailures = 0
	b.HalfOpenAttempts = 0
	b.LastClosedAt = r.now().UTC()
	return r.save(ctx, b)
}

// #endregion reset

// #region intervention

// InterventionLevel derives the aggregated level for a tenant. Errors
// reading the breaker set degrade to NONE.
func (r *Registry) InterventionLevel(ctx context.Context, tenant string) Level {
	breakers, err := r.list(ctx, tenant)
	if err != nil {
		r.log.Warnw("intervention level degraded to NONE", "error", err)
		return LevelNone
	}
	return AggregateLevel(breakers)
}

// AggregateLevel is the pure intervention policy. The named-breaker checks
// take priority over the count-based escalation.
func AggregateLevel(breakers []Breaker) Level {
	open := 0
	byName := make(map[string]State, len(breakers))
	for _, b := range breakers {
		byName[b.Name] = b.State
		if b.State == StateOpen {
			open++
		}
	}

	switch {
	case byName[MasterSafetyBreaker] == StateOpen:
		return LevelHibernate
	case byName[CostBreaker] == StateOpen:
		return LevelPause
	case byName[AnxietyBreaker] == StateOpen:
		return LevelDampen
	case open >= 3:
		return LevelReset
	case open >= 2:
		return LevelPause
	case open >= 1:
		return LevelDampen
	default:
		return LevelNone
	}
}

// #endregion intervention

// #region dashboard

// Dashboard returns every breaker row for a tenant plus the derived level.
func (r *Registry) Dashboard(ctx context.Context, tenant string) (Dashboard, error) {
	breakers, err := r.list(ctx, tenant)
	if err != nil {
		return Dashboard{}, err
	}
	open := 0
	for _, b := range breakers {
		if b.State == StateOpen {
			open++
		}
	}
	r.metrics.OpenBreakers.WithLabelValues(tenant).Set(float64(open))
	return Dashboard{
		Breakers:  breakers,
		Level:     AggregateLevel(breakers),
		OpenCount: open,
	}, nil
}

// list loads all breaker rows for a tenant.
func (r *Registry) list(ctx context.Context, tenant string) ([]Breaker, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name FROM circuit_breakers WHERE tenant_id = ? ORDER BY name`, tenant)
	if err != nil {
		return nil, fmt.Errorf("list breakers: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan breaker name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	breakers := make([]Breaker, 0, len(names))
	for _, name := range names {
		b, found, err := r.load(ctx, tenant, name)
		if err != nil {
			return nil, err
		}
		if found {
			breakers = append(breakers, b)
		}
	}
	return breakers, nil
}

// #endregion dashboard

// #region helpers

func (r *Registry) notifyBestEffort(ctx context.Context, message, severity string) {
	if r.target == "" {
		return
	}
	if err := r.notifier.Send(ctx, r.target, message, severity); err != nil {
		r.log.Warnw("breaker notification failed", "error", err)
	}
}

func nullIfZeroTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// #endregion helpers
