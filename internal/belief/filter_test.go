package belief

import (
	"math"
	"testing"
)

func TestUpdateNormalizes(t *testing.T) {
	f := NewFilter(DefaultConfig())

	b := Uniform()
	for i := 0; i < 50; i++ {
		obs := ObservationCoherent
		if i%3 == 0 {
			obs = ObservationIncoherent
		}
		b = f.Update(b, obs)
		sum := b[0] + b[1]
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("step %d: belief sums to %v", i, sum)
		}
		if b[0] < 0 || b[1] < 0 {
			t.Fatalf("step %d: negative mass %v", i, b)
		}
	}
}

func TestUpdateConvergesOnCoherentStream(t *testing.T) {
	f := NewFilter(DefaultConfig())

	b := Uniform()
	for i := 0; i < 20; i++ {
		b = f.Update(b, ObservationCoherent)
	}
	if b.POK() < 0.9 {
		t.Fatalf("expected p(OK) >= 0.9 after 20 coherent observations, got %f", b.POK())
	}
}

func TestUpdateConvergesOnIncoherentStream(t *testing.T) {
	f := NewFilter(DefaultConfig())

	b := Uniform()
	for i := 0; i < 20; i++ {
		b = f.Update(b, ObservationIncoherent)
	}
	if b.PDegraded() < 0.9 {
		t.Fatalf("expected p(Degraded) >= 0.9 after 20 incoherent observations, got %f", b.PDegraded())
	}
}

func TestUpdateDegeneratePriorResets(t *testing.T) {
	f := NewFilter(DefaultConfig())

	b := f.Update(Belief{0, 0}, ObservationCoherent)
	if b != Uniform() {
		t.Fatalf("expected uniform reset, got %v", b)
	}
}

func TestObserveThreshold(t *testing.T) {
	f := NewFilter(DefaultConfig())

	if got := f.Observe(0.6); got != ObservationCoherent {
		t.Fatalf("coherence 0.6 should read Coherent, got %v", got)
	}
	if got := f.Observe(0.59); got != ObservationIncoherent {
		t.Fatalf("coherence 0.59 should read Incoherent, got %v", got)
	}
}

func TestSelectAction(t *testing.T) {
	f := NewFilter(DefaultConfig())

	cases := []struct {
		name   string
		belief Belief
		want   Action
	}{
		{"confident ok", Belief{0.9, 0.1}, ActionDoNothing},
		{"confident degraded", Belief{0.1, 0.9}, ActionTriggerIntrospection},
		{"uniform", Belief{0.5, 0.5}, ActionTriggerIntrospection},
	}
	for _, tc := range cases {
		if got := f.SelectAction(tc.belief); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestSelectActionTieFavorsIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CostIdleOK = 0.5
	cfg.CostIdleDegraded = 0.5
	f := NewFilter(cfg)

	// Both actions cost 0.5 regardless of belief.
	if got := f.SelectAction(Belief{0.3, 0.7}); got != ActionDoNothing {
		t.Fatalf("tie should favor DO_NOTHING, got %s", got)
	}
}

func TestInferState(t *testing.T) {
	f := NewFilter(DefaultConfig())

	cases := []struct {
		name      string
		belief    Belief
		coherence float64
		want      State
	}{
		{"coherent", Belief{0.85, 0.15}, 0.9, StateCoherent},
		{"mild", Belief{0.6, 0.4}, 0.7, StateMildEntropy},
		{"high", Belief{0.3, 0.7}, 0.4, StateHighEntropy},
		{"critical overrides high", Belief{0.3, 0.7}, 0.2, StateCritical},
		{"high belief ignores critical coherence", Belief{0.85, 0.15}, 0.1, StateCoherent},
	}
	for _, tc := range cases {
		if got := f.InferState(tc.belief, tc.coherence); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestStepBundlesAllPhases(t *testing.T) {
	f := NewFilter(DefaultConfig())

	res := f.Step(Uniform(), 0.9)
	if res.Observation != ObservationCoherent {
		t.Fatalf("expected Coherent observation, got %v", res.Observation)
	}
	if res.Posterior.POK() <= 0.5 {
		t.Fatalf("coherent observation should raise p(OK), got %f", res.Posterior.POK())
	}
	if res.State != StateMildEntropy && res.State != StateCoherent {
		t.Fatalf("unexpected state %s", res.State)
	}

	res = f.Step(Uniform(), 0.1)
	if res.State != StateCritical {
		t.Fatalf("low coherence with low belief should be CRITICAL, got %s", res.State)
	}
}
