package breaker

import "time"

// #region state

// State is the circuit position of one named breaker.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// #endregion state

// #region names

// Named breakers with dedicated intervention semantics.
const (
	MasterSafetyBreaker = "master_safety"
	CostBreaker         = "cost"
	AnxietyBreaker      = "anxiety"
)

// #endregion names

// #region config

// Config holds per-breaker thresholds.
type Config struct {
	Enabled             bool
	TripThreshold       int
	ResetTimeout        time.Duration
	HalfOpenMaxAttempts int
}

// DefaultConfig returns the standard breaker thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		TripThreshold:       5,
		ResetTimeout:        60 * time.Second,
		HalfOpenMaxAttempts: 3,
	}
}

// #endregion config

// #region breaker

// Breaker is one named circuit breaker row. One row per (tenant, name);
// rows are never deleted, only reset.
type Breaker struct {
	Tenant              string
	Name                string
	State               State
	TripCount           int
	ConsecutiveFailures int
	HalfOpenAttempts    int
	LastTrippedAt       time.Time
	LastClosedAt        time.Time
	Config              Config
}

// #endregion breaker

// #region level

// Level is the aggregated intervention level derived from the breaker set.
type Level string

const (
	LevelNone      Level = "NONE"
	LevelDampen    Level = "DAMPEN"
	LevelPause     Level = "PAUSE"
	LevelReset     Level = "RESET"
	LevelHibernate Level = "HIBERNATE"
)

// #endregion level

// #region dashboard

// Dashboard is the full breaker view for one tenant.
type Dashboard struct {
	Breakers  []Breaker
	Level     Level
	OpenCount int
}

// #endregion dashboard
