package integration

import "time"

// #region nodes

// Node indexes into the 5-component activation vector.
type Node int

const (
	NodeMem Node = iota
	NodePerc
	NodePlan
	NodeAct
	NodeSelf

	numNodes  = 5
	numStates = 1 << numNodes // 32 joint activation states
)

// NodeLabels maps node indexes to their display labels.
var NodeLabels = [numNodes]string{"MEM", "PERC", "PLAN", "ACT", "SELF"}

// #endregion nodes

// #region activation

// Activation is one event's component-activation vector.
type Activation [numNodes]bool

// StateIndex packs an activation into a joint-state index (bit i = node i).
func (a Activation) StateIndex() int {
	idx := 0
	for i := 0; i < numNodes; i++ {
		if a[i] {
			idx |= 1 << i
		}
	}
	return idx
}

// #endregion activation

// #region phi-reading

// PhiReading is one computed integration estimate. Never mutated after
// creation.
type PhiReading struct {
	Phi              float64
	MainComplexNodes []string
	NumConcepts      int
	SourceEventCount int
	ComputedAt       time.Time
}

// #endregion phi-reading

// #region config

// Config holds the estimator's window and caching parameters.
type Config struct {
	Window    time.Duration // how far back to read events
	MaxEvents int           // cap on events per TPM build
	MinEvents int           // below this, fall back to the uniform matrix
	CacheTTL  time.Duration // per-tenant TPM cache lifetime
}

// DefaultConfig returns the standard estimator parameters.
func DefaultConfig() Config {
	return Config{
		Window:    10 * time.Minute,
		MaxEvents: 200,
		MinEvents: 10,
		CacheTTL:  30 * time.Second,
	}
}

// #endregion config
