package heartbeat

import (
	"time"

	"github.com/Zynapses/Radiant-sub008/internal/belief"
)

// #region tick

// Tick is one heartbeat cycle's record. Immutable once appended.
type Tick struct {
	ID            string
	Tenant        string
	Timestamp     time.Time
	Coherence     float64
	BeliefState   belief.Belief
	InferredState belief.State
	ActionTaken   belief.Action
	PhiReading    float64
	Notes         string
}

// #endregion tick

// #region config

// Config holds the scheduler's timing and sensing parameters.
type Config struct {
	TickInterval time.Duration // default 2s (0.5 Hz)
	SenseWindow  time.Duration // how far back sensing reads events
	RingCapacity int           // tick buffer size; halved on overflow
}

// DefaultConfig returns the standard heartbeat parameters.
func DefaultConfig() Config {
	return Config{
		TickInterval: 2 * time.Second,
		SenseWindow:  60 * time.Second,
		RingCapacity: 200,
	}
}

// #endregion config

// #region callbacks

// AlertCallback receives emergency and introspection alerts. Errors and
// panics are isolated per subscriber; a failing callback never aborts a
// tick or its peers.
type AlertCallback func(severity, message string) error

// #endregion callbacks

// #region status

// Status is the scheduler's answer to a status query.
type Status struct {
	Running              bool
	TickCount            int64
	LastTick             *Tick
	MeanCoherence10      float64
	IntrospectionsLast10 int
}

// #endregion status
