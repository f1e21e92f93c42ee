// Package metrics defines the Prometheus instrumentation shared by the
// heartbeat, breaker, and verification components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all sentinel metrics.
const namespace = "sentinel"

// #region metrics-struct

// Metrics holds all counters and gauges. Initialize once at startup.
type Metrics struct {
	// TicksTotal counts heartbeat ticks by tenant and action taken.
	TicksTotal *prometheus.CounterVec
	// BreakerTrips counts CLOSED/HALF_OPEN -> OPEN transitions.
	BreakerTrips *prometheus.CounterVec
	// BreakerRecoveries counts HALF_OPEN -> CLOSED transitions.
	BreakerRecoveries *prometheus.CounterVec
	// AlertsTotal counts alert callback fan-outs by severity.
	AlertsTotal *prometheus.CounterVec
	// VerificationsTotal counts pipeline runs by grounding status.
	VerificationsTotal *prometheus.CounterVec

	// BeliefOK is the current p(OK) per tenant.
	BeliefOK *prometheus.GaugeVec
	// Phi is the most recent integration reading per tenant.
	Phi *prometheus.GaugeVec
	// OpenBreakers is the current count of OPEN breakers per tenant.
	OpenBreakers *prometheus.GaugeVec
}

// #endregion metrics-struct

// #region constructor

// New registers all metrics against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "ticks_total",
			Help:      "Heartbeat ticks by tenant and action taken.",
		}, []string{"tenant", "action"}),
		BreakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "trips_total",
			Help:      "Circuit breaker trips by tenant and breaker name.",
		}, []string{"tenant", "name"}),
		BreakerRecoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "recoveries_total",
			Help:      "Circuit breaker recoveries by tenant and breaker name.",
		}, []string{"tenant", "name"}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "alerts_total",
			Help:      "Alert callback invocations by tenant and severity.",
		}, []string{"tenant", "severity"}),
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "claims_total",
			Help:      "Claim verifications by tenant and grounding status.",
		}, []string{"tenant", "grounding"}),
		BeliefOK: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "belief_ok",
			Help:      "Current belief probability that the agent is in the OK state.",
		}, []string{"tenant"}),
		Phi: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "integration",
			Name:      "phi",
			Help:      "Most recent macro-integration reading.",
		}, []string{"tenant"}),
		OpenBreakers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "open",
			Help:      "Count of currently OPEN breakers.",
		}, []string{"tenant"}),
	}
}

// NewNop returns metrics bound to a throwaway registry. Used in tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// #endregion constructor
