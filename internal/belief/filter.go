// Package belief implements the two-state Active-Inference-style estimator
// behind the heartbeat loop: a Bayesian observation update over {OK,
// Degraded} and expected-free-energy action selection.
package belief

// #region filter

// Filter performs Bayesian belief updates and EFE action selection.
// All methods are pure; the filter holds only constants.
type Filter struct {
	config Config
}

// NewFilter creates a filter with the given constants.
func NewFilter(config Config) *Filter {
	return &Filter{config: config}
}

// #endregion filter

// #region observe

// Observe binarizes a sensed coherence score against the entropy threshold.
func (f *Filter) Observe(coherence float64) Observation {
	if coherence >= f.config.EntropyThreshold {
		return ObservationCoherent
	}
	return ObservationIncoherent
}

// #endregion observe

// #region update

// Update applies the likelihood row for the observation to the prior and
// renormalizes. No transition model is applied before the Bayesian step:
// the prior is the previous posterior directly (a random-walk assumption).
// A full Active Inference agent would apply a transition matrix B here
// first; this filter deliberately does not.
func (f *Filter) Update(prior Belief, obs Observation) Belief {
	row := f.config.Likelihood[obs]
	posterior := Belief{
		row[0] * prior[0],
		row[1] * prior[1],
	}
	sum := posterior[0] + posterior[1]
	if sum <= 0 {
		// Degenerate prior or likelihood; reset to maximum entropy.
		return Uniform()
	}
	posterior[0] /= sum
	posterior[1] /= sum
	return posterior
}

// #endregion update

// #region select-action

// SelectAction compares the expected free energy of doing nothing against
// introspecting and picks the cheaper. Ties favor doing nothing.
func (f *Filter) SelectAction(b Belief) Action {
	efeIdle := b[0]*f.config.CostIdleOK + b[1]*f.config.CostIdleDegraded
	efeIntrospect := b[0]*f.config.CostIntrospectOK + b[1]*f.config.CostIntrospectDegraded
	if efeIntrospect < efeIdle {
		return ActionTriggerIntrospection
	}
	return ActionDoNothing
}

// #endregion select-action

// #region infer-state

// InferState derives the qualitative operating state from p(OK).
// When belief is low, a raw coherence score under the critical floor
// overrides the belief-derived label with CRITICAL.
func (f *Filter) InferState(b Belief, coherence float64) State {
	switch {
	case b.POK() > 0.8:
		return StateCoherent
	case b.POK() > 0.5:
		return StateMildEntropy
	case coherence < f.config.CriticalCoherence:
		return StateCritical
	default:
		return StateHighEntropy
	}
}

// #endregion infer-state

// #region step

// Step runs one full filter cycle: observe, update, label, select.
func (f *Filter) Step(prior Belief, coherence float64) StepResult {
	obs := f.Observe(coherence)
	posterior := f.Update(prior, obs)
	return StepResult{
		Observation: obs,
		Posterior:   posterior,
		State:       f.InferState(posterior, coherence),
		Action:      f.SelectAction(posterior),
	}
}

// #endregion step
