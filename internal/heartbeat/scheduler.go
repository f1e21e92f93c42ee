// Package heartbeat owns the periodic tick loop: sense coherence from
// recent events, update the belief filter, act on the inferred state, and
// archive the tick. One scheduler runs per tenant.
package heartbeat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Zynapses/Radiant-sub008/internal/belief"
	"github.com/Zynapses/Radiant-sub008/internal/breaker"
	"github.com/Zynapses/Radiant-sub008/internal/eventlog"
	"github.com/Zynapses/Radiant-sub008/internal/integration"
	"github.com/Zynapses/Radiant-sub008/internal/metrics"
	"github.com/Zynapses/Radiant-sub008/internal/notify"
)

// #region error-markers

// errorMarkers are the event-type substrings counted as failures when
// sensing coherence.
var errorMarkers = []string{"error", "failure", "timeout", "exception"}

// #endregion error-markers

// #region scheduler

// Scheduler runs the tick loop for one tenant. Ticks never overlap: a
// long tick delays the next fire rather than queuing.
type Scheduler struct {
	tenant    string
	config    Config
	events    *eventlog.Store
	filter    *belief.Filter
	breakers  *breaker.Registry
	estimator *integration.Estimator
	notifier  notify.Notifier
	target    string
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	done      chan struct{}
	belief    belief.Belief
	history   []Tick
	tickCount int64
	callbacks []AlertCallback

	now func() time.Time
}

// NewScheduler builds a scheduler for one tenant. estimator may be nil
// when integration readings are not wanted on ticks.
func NewScheduler(tenant string, config Config, events *eventlog.Store, filter *belief.Filter,
	breakers *breaker.Registry, estimator *integration.Estimator,
	notifier notify.Notifier, target string, m *metrics.Metrics, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		tenant:    tenant,
		config:    config,
		events:    events,
		filter:    filter,
		breakers:  breakers,
		estimator: estimator,
		notifier:  notifier,
		target:    target,
		metrics:   m,
		log:       log.Named("heartbeat").With("tenant", tenant),
		belief:    belief.Uniform(),
		now:       time.Now,
	}
}

// #endregion scheduler

// #region lifecycle

// Start begins the tick loop: one immediate tick, then one every
// TickInterval. Starting a running scheduler logs and no-ops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Infow("start ignored, already running")
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.tick(context.Background())
		ticker := time.NewTicker(s.config.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.tick(context.Background())
			}
		}
	}()
	s.log.Infow("heartbeat started", "interval", s.config.TickInterval)
}

// Stop halts future ticks. An in-flight tick completes; calling Stop on a
// stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.log.Infow("heartbeat stopped")
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RegisterAlertCallback subscribes to emergency and introspection alerts.
func (s *Scheduler) RegisterAlertCallback(cb AlertCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// #endregion lifecycle

// #region tick

// tick runs one full cycle: sense, infer, act, record.
func (s *Scheduler) tick(ctx context.Context) {
	coherence := s.senseCoherence(ctx)

	s.mu.Lock()
	prior := s.belief
	s.mu.Unlock()

	step := s.filter.Step(prior, coherence)

	// Safety overrides: CRITICAL always pauses; HIGH_ENTROPY always
	// introspects, regardless of the EFE-selected action.
	action := step.Action
	switch step.State {
	case belief.StateCritical:
		action = belief.ActionEmergencyPause
	case belief.StateHighEntropy:
		action = belief.ActionTriggerIntrospection
	}

	s.execute(ctx, action, step, coherence)

	notes := s.feedBreakers(ctx, step.State)

	tick := Tick{
		ID:            uuid.New().String(),
		Tenant:        s.tenant,
		Timestamp:     s.now().UTC(),
		Coherence:     coherence,
		BeliefState:   step.Posterior,
		InferredState: step.State,
		ActionTaken:   action,
		Notes:         notes,
	}
	if s.estimator != nil {
		if reading, ok := s.estimator.LastReading(s.tenant); ok {
			tick.PhiReading = reading.Phi
		}
	}

	s.record(ctx, tick)

	s.metrics.TicksTotal.WithLabelValues(s.tenant, string(action)).Inc()
	s.metrics.BeliefOK.WithLabelValues(s.tenant).Set(step.Posterior.POK())
}

// senseCoherence derives a coherence score from the recent event window.
// Sensing never raises: no events reads neutral 0.5; a failed query reads
// degraded 0.3.
func (s *Scheduler) senseCoherence(ctx context.Context) float64 {
	events, err := s.events.Query(ctx, s.tenant, s.now().Add(-s.config.SenseWindow), "", 0)
	if err != nil {
		s.log.Warnw("sense failed, assuming degraded", "error", err)
		return 0.3
	}
	if len(events) == 0 {
		return 0.5
	}

	errors := 0
	for _, ev := range events {
		if isErrorType(ev.Type) {
			errors++
		}
	}
	successRate := 1 - float64(errors)/float64(len(events))
	return successRate*0.7 + 0.3
}

// feedBreakers reports the tick outcome to the anxiety breaker and returns
// a note when an intervention level is in force. Breaker errors are logged
// and do not affect the tick.
func (s *Scheduler) feedBreakers(ctx context.Context, state belief.State) string {
	if s.breakers == nil {
		return ""
	}

	var err error
	if state == belief.StateCritical || state == belief.StateHighEntropy {
		err = s.breakers.RecordFailure(ctx, s.tenant, breaker.AnxietyBreaker)
	} else {
		err = s.breakers.RecordSuccess(ctx, s.tenant, breaker.AnxietyBreaker)
	}
	if err != nil {
		s.log.Warnw("breaker update failed", "error", err)
	}

	if level := s.breakers.InterventionLevel(ctx, s.tenant); level != breaker.LevelNone {
		return "intervention=" + string(level)
	}
	return ""
}

func isErrorType(eventType string) bool {
	lower := strings.ToLower(eventType)
	for _, m := range errorMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// #endregion tick

// #region actions

// execute performs the side effects of the selected action.
func (s *Scheduler) execute(ctx context.Context, action belief.Action, step belief.StepResult, coherence float64) {
	switch action {
	case belief.ActionEmergencyPause:
		s.log.Errorw("emergency pause",
			"coherence", coherence, "p_ok", step.Posterior.POK())
		s.appendOwnEvent(ctx, "sentinel_emergency_pause", coherence, step)
		s.fanOut("critical", fmt.Sprintf(
			"emergency pause: coherence %.2f, p(OK) %.2f", coherence, step.Posterior.POK()))
		s.notifyBestEffort(ctx, "emergency pause triggered", "critical")

	case belief.ActionTriggerIntrospection:
		s.log.Infow("introspection triggered",
			"coherence", coherence, "p_ok", step.Posterior.POK())
		s.appendOwnEvent(ctx, "introspection_triggered", coherence, step)
		s.fanOut("info", fmt.Sprintf(
			"introspection: coherence %.2f, p(OK) %.2f", coherence, step.Posterior.POK()))

	case belief.ActionAlertAdmin:
		s.fanOut("warning", fmt.Sprintf("coherence degraded to %.2f", coherence))
		s.notifyBestEffort(ctx, fmt.Sprintf("coherence degraded to %.2f", coherence), "warning")

	case belief.ActionLogStatus:
		s.log.Infow("status", "coherence", coherence, "state", step.State)
	}
}

// fanOut invokes every registered callback, isolating failures.
func (s *Scheduler) fanOut(severity, message string) {
	s.mu.Lock()
	callbacks := make([]AlertCallback, len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()

	s.metrics.AlertsTotal.WithLabelValues(s.tenant, severity).Inc()
	for i, cb := range callbacks {
		s.invoke(i, cb, severity, message)
	}
}

// invoke calls one callback with panic and error isolation.
func (s *Scheduler) invoke(i int, cb AlertCallback, severity, message string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warnw("alert callback panicked", "index", i, "panic", r)
		}
	}()
	if err := cb(severity, message); err != nil {
		s.log.Warnw("alert callback failed", "index", i, "error", err)
	}
}

// appendOwnEvent makes the sentinel's own action visible to future
// sensing and grounding queries. Failures are logged and swallowed.
func (s *Scheduler) appendOwnEvent(ctx context.Context, eventType string, coherence float64, step belief.StepResult) {
	err := s.events.Append(ctx, s.tenant, eventType, map[string]any{
		"coherence": coherence,
		"p_ok":      step.Posterior.POK(),
		"state":     string(step.State),
	})
	if err != nil {
		s.log.Warnw("own event not appended", "type", eventType, "error", err)
	}
}

func (s *Scheduler) notifyBestEffort(ctx context.Context, message, severity string) {
	if s.target == "" {
		return
	}
	if err := s.notifier.Send(ctx, s.target, message, severity); err != nil {
		s.log.Warnw("heartbeat notification failed", "error", err)
	}
}

// #endregion actions

// #region record

// record appends the tick to the bounded ring and archives it. Archive
// failures do not fail the tick.
func (s *Scheduler) record(ctx context.Context, tick Tick) {
	s.mu.Lock()
	s.belief = tick.BeliefState
	s.tickCount++
	s.history = append(s.history, tick)
	if len(s.history) > s.config.RingCapacity {
		// Halve, keeping the most recent half.
		keep := s.config.RingCapacity / 2
		s.history = append(s.history[:0:0], s.history[len(s.history)-keep:]...)
	}
	s.mu.Unlock()

	err := s.events.AppendTick(ctx, eventlog.TickRecord{
		ID:            tick.ID,
		Tenant:        tick.Tenant,
		Coherence:     tick.Coherence,
		POK:           tick.BeliefState.POK(),
		PDegraded:     tick.BeliefState.PDegraded(),
		InferredState: string(tick.InferredState),
		ActionTaken:   string(tick.ActionTaken),
		Phi:           tick.PhiReading,
		Notes:         tick.Notes,
		CreatedAt:     tick.Timestamp,
	})
	if err != nil {
		s.log.Warnw("tick not archived", "error", err)
	}
}

// #endregion record

// #region status

// Status reports the running flag, latest tick, and rolling figures over
// the last 10 ticks.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:   s.running,
		TickCount: s.tickCount,
	}
	if len(s.history) == 0 {
		return status
	}

	last := s.history[len(s.history)-1]
	status.LastTick = &last

	window := s.history
	if len(window) > 10 {
		window = window[len(window)-10:]
	}
	var coherenceSum float64
	for _, t := range window {
		coherenceSum += t.Coherence
		if t.ActionTaken == belief.ActionTriggerIntrospection {
			status.IntrospectionsLast10++
		}
	}
	status.MeanCoherence10 = coherenceSum / float64(len(window))
	return status
}

// History returns up to n most recent ticks, oldest first.
func (s *Scheduler) History(n int) []Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]Tick, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// #endregion status
