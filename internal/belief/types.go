package belief

// #region belief

// Belief is the distribution over the two hidden operating states.
// Index 0 is p(OK), index 1 is p(Degraded). Entries are >= 0 and sum to 1.
type Belief [2]float64

// Uniform returns the maximum-entropy starting belief.
func Uniform() Belief {
	return Belief{0.5, 0.5}
}

// POK returns the probability mass on the OK state.
func (b Belief) POK() float64 { return b[0] }

// PDegraded returns the probability mass on the Degraded state.
func (b Belief) PDegraded() float64 { return b[1] }

// #endregion belief

// #region observation

// Observation is the binarized coherence reading fed to the filter.
type Observation int

const (
	ObservationCoherent Observation = iota
	ObservationIncoherent
)

// #endregion observation

// #region state

// State is the qualitative operating state derived from the belief.
type State string

const (
	StateCoherent    State = "COHERENT"
	StateMildEntropy State = "MILD_ENTROPY"
	StateHighEntropy State = "HIGH_ENTROPY"
	StateCritical    State = "CRITICAL"
)

// #endregion state

// #region action

// Action is what the control loop does with a tick.
type Action string

const (
	ActionDoNothing            Action = "DO_NOTHING"
	ActionLogStatus            Action = "LOG_STATUS"
	ActionTriggerIntrospection Action = "TRIGGER_INTROSPECTION"
	ActionAlertAdmin           Action = "ALERT_ADMIN"
	ActionEmergencyPause       Action = "EMERGENCY_PAUSE"
)

// #endregion action

// #region config

// Config holds the observation model and decision constants.
type Config struct {
	// Likelihood is the observation model A. Rows are observations
	// (Coherent, Incoherent); columns are hidden states (OK, Degraded).
	Likelihood [2][2]float64

	// EntropyThreshold splits the sensed coherence score into the two
	// observations: coherence >= threshold reads as Coherent.
	EntropyThreshold float64

	// CriticalCoherence is the stricter floor below which a low-belief
	// tick is labeled CRITICAL instead of HIGH_ENTROPY.
	CriticalCoherence float64

	// Expected-free-energy constants. Doing nothing is cheap when OK
	// (CostIdleOK < CostIntrospectOK); introspecting is relatively cheap
	// when degraded (CostIntrospectDegraded < CostIdleDegraded).
	CostIdleOK             float64
	CostIdleDegraded       float64
	CostIntrospectOK       float64
	CostIntrospectDegraded float64
}

// DefaultConfig returns the standard filter constants.
func DefaultConfig() Config {
	return Config{
		Likelihood: [2][2]float64{
			{0.9, 0.2}, // p(Coherent | OK), p(Coherent | Degraded)
			{0.1, 0.8}, // p(Incoherent | OK), p(Incoherent | Degraded)
		},
		EntropyThreshold:       0.6,
		CriticalCoherence:      0.25,
		CostIdleOK:             0.1,
		CostIdleDegraded:       2.0,
		CostIntrospectOK:       0.5,
		CostIntrospectDegraded: 0.5,
	}
}

// #endregion config

// #region step-result

// StepResult bundles everything one filter step produced.
type StepResult struct {
	Observation Observation
	Posterior   Belief
	State       State
	Action      Action
}

// #endregion step-result
