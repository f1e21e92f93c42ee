package eventlog

import "time"

// #region event

// Event is one append-only log row. Payload is decoded lazily from JSON.
type Event struct {
	ID        string
	Tenant    string
	Type      string
	Payload   map[string]any
	CreatedAt time.Time
}

// #endregion event

// #region tick-record

// TickRecord is the archived form of one heartbeat tick.
type TickRecord struct {
	ID            string
	Tenant        string
	Coherence     float64
	POK           float64
	PDegraded     float64
	InferredState string
	ActionTaken   string
	Phi           float64
	Notes         string
	CreatedAt     time.Time
}

// #endregion tick-record
