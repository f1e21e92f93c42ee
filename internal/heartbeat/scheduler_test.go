package heartbeat

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Zynapses/Radiant-sub008/internal/belief"
	"github.com/Zynapses/Radiant-sub008/internal/breaker"
	"github.com/Zynapses/Radiant-sub008/internal/eventlog"
	"github.com/Zynapses/Radiant-sub008/internal/logging"
	"github.com/Zynapses/Radiant-sub008/internal/metrics"
	"github.com/Zynapses/Radiant-sub008/internal/notify"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Send(_ context.Context, _, message, severity string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, severity+": "+message)
	return nil
}

func newTestScheduler(t *testing.T, filterCfg belief.Config, cfg Config) (*Scheduler, *eventlog.Store, *recordingNotifier) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	events, err := eventlog.NewStoreWithDB(db)
	if err != nil {
		t.Fatalf("NewStoreWithDB: %v", err)
	}
	breakers, err := breaker.NewRegistry(db, logging.Nop(), notify.Nop{}, metrics.NewNop(), "")
	if err != nil {
		t.Fatalf("breaker.NewRegistry: %v", err)
	}

	notifier := &recordingNotifier{}
	s := NewScheduler("t1", cfg, events, belief.NewFilter(filterCfg), breakers,
		nil, notifier, "hooks://test", metrics.NewNop(), logging.Nop())
	return s, events, notifier
}

func TestHealthyStreamSettlesCoherent(t *testing.T) {
	s, events, _ := newTestScheduler(t, belief.DefaultConfig(), DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := events.Append(ctx, "t1", "tool_call", nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		s.tick(ctx)
	}

	status := s.Status()
	if status.TickCount != 5 {
		t.Fatalf("expected 5 ticks, got %d", status.TickCount)
	}
	last := status.LastTick
	if last.InferredState != belief.StateCoherent {
		t.Fatalf("expected COHERENT after healthy stream, got %s", last.InferredState)
	}
	if last.ActionTaken != belief.ActionDoNothing {
		t.Fatalf("expected DO_NOTHING, got %s", last.ActionTaken)
	}
	if last.Coherence < 0.99 {
		t.Fatalf("all-success stream should read coherence ~1.0, got %f", last.Coherence)
	}
}

func TestErrorStormTriggersIntrospection(t *testing.T) {
	s, events, _ := newTestScheduler(t, belief.DefaultConfig(), DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := events.Append(ctx, "t1", "tool_error", nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	var alerts []string
	s.RegisterAlertCallback(func(severity, message string) error {
		alerts = append(alerts, severity)
		return nil
	})

	s.tick(ctx)
	s.tick(ctx)

	last := s.Status().LastTick
	if last.InferredState != belief.StateHighEntropy {
		t.Fatalf("expected HIGH_ENTROPY, got %s", last.InferredState)
	}
	if last.ActionTaken != belief.ActionTriggerIntrospection {
		t.Fatalf("expected TRIGGER_INTROSPECTION, got %s", last.ActionTaken)
	}
	if len(alerts) == 0 || alerts[0] != "info" {
		t.Fatalf("expected info alerts, got %v", alerts)
	}

	// Introspection makes itself visible in the event log.
	introspections, err := events.Query(ctx, "t1", time.Now().Add(-time.Minute), "introspection", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(introspections) != 2 {
		t.Fatalf("expected 2 introspection events, got %d", len(introspections))
	}
}

func TestCriticalTriggersEmergencyPause(t *testing.T) {
	// Raise the critical floor above the sensing minimum of 0.3 so an
	// all-error stream reads as CRITICAL.
	filterCfg := belief.DefaultConfig()
	filterCfg.CriticalCoherence = 0.35
	s, events, notifier := newTestScheduler(t, filterCfg, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := events.Append(ctx, "t1", "tool_error", nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	var severities []string
	s.RegisterAlertCallback(func(severity, message string) error {
		severities = append(severities, severity)
		return nil
	})

	s.tick(ctx)

	last := s.Status().LastTick
	if last.InferredState != belief.StateCritical {
		t.Fatalf("expected CRITICAL, got %s", last.InferredState)
	}
	if last.ActionTaken != belief.ActionEmergencyPause {
		t.Fatalf("expected EMERGENCY_PAUSE, got %s", last.ActionTaken)
	}
	if len(severities) != 1 || severities[0] != "critical" {
		t.Fatalf("expected one critical alert, got %v", severities)
	}

	notifier.mu.Lock()
	sent := len(notifier.sent)
	notifier.mu.Unlock()
	if sent == 0 {
		t.Fatal("emergency pause should notify the outbound channel")
	}

	pauses, err := events.Query(ctx, "t1", time.Now().Add(-time.Minute), "sentinel_emergency_pause", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(pauses) != 1 {
		t.Fatalf("expected a pause event, got %d", len(pauses))
	}
}

func TestEmptyWindowReadsNeutral(t *testing.T) {
	s, _, _ := newTestScheduler(t, belief.DefaultConfig(), DefaultConfig())

	s.tick(context.Background())
	last := s.Status().LastTick
	if last.Coherence != 0.5 {
		t.Fatalf("empty window should read 0.5, got %f", last.Coherence)
	}
}

func TestCallbackPanicIsolated(t *testing.T) {
	s, events, _ := newTestScheduler(t, belief.DefaultConfig(), DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := events.Append(ctx, "t1", "tool_timeout", nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	called := 0
	s.RegisterAlertCallback(func(severity, message string) error {
		panic("subscriber bug")
	})
	s.RegisterAlertCallback(func(severity, message string) error {
		called++
		return errors.New("also failing")
	})

	// Must not panic, and the second callback still runs.
	s.tick(ctx)
	if called != 1 {
		t.Fatalf("second callback should run despite the first panicking, got %d calls", called)
	}
}

func TestTicksArchived(t *testing.T) {
	s, events, _ := newTestScheduler(t, belief.DefaultConfig(), DefaultConfig())
	ctx := context.Background()

	s.tick(ctx)
	s.tick(ctx)

	ticks, err := events.ListTicks(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("ListTicks: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("expected 2 archived ticks, got %d", len(ticks))
	}
	if ticks[0].POK+ticks[0].PDegraded < 0.999 {
		t.Fatalf("archived belief not normalized: %f + %f", ticks[0].POK, ticks[0].PDegraded)
	}
}

func TestRingHalvesAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RingCapacity = 4
	s, _, _ := newTestScheduler(t, belief.DefaultConfig(), cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.tick(ctx)
	}

	history := s.History(0)
	if len(history) != 2 {
		t.Fatalf("expected ring halved to 2, got %d", len(history))
	}
	if s.Status().TickCount != 5 {
		t.Fatalf("tick count should survive halving, got %d", s.Status().TickCount)
	}
}

func TestHistoryReturnsMostRecent(t *testing.T) {
	s, _, _ := newTestScheduler(t, belief.DefaultConfig(), DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		s.tick(ctx)
	}

	history := s.History(3)
	if len(history) != 3 {
		t.Fatalf("expected 3 ticks, got %d", len(history))
	}
	all := s.History(0)
	if history[2].ID != all[len(all)-1].ID {
		t.Fatal("History(n) should end with the newest tick")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour // only the immediate tick fires
	s, _, _ := newTestScheduler(t, belief.DefaultConfig(), cfg)

	s.Start()
	s.Start() // no-op

	deadline := time.After(5 * time.Second)
	for s.Status().TickCount == 0 {
		select {
		case <-deadline:
			t.Fatal("immediate tick never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if !s.Running() {
		t.Fatal("expected running")
	}

	s.Stop()
	s.Stop() // no-op
	if s.Running() {
		t.Fatal("expected stopped")
	}
	if s.Status().TickCount != 1 {
		t.Fatalf("expected exactly 1 tick, got %d", s.Status().TickCount)
	}
}

func TestStatusRollingWindow(t *testing.T) {
	s, events, _ := newTestScheduler(t, belief.DefaultConfig(), DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := events.Append(ctx, "t1", "tool_call", nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		s.tick(ctx)
	}

	status := s.Status()
	if status.MeanCoherence10 < 0.99 {
		t.Fatalf("expected mean coherence ~1.0, got %f", status.MeanCoherence10)
	}
	if status.IntrospectionsLast10 != 0 {
		t.Fatalf("expected no introspections, got %d", status.IntrospectionsLast10)
	}
}

func TestRegistryPerTenant(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	events, err := eventlog.NewStoreWithDB(db)
	if err != nil {
		t.Fatalf("NewStoreWithDB: %v", err)
	}
	breakers, err := breaker.NewRegistry(db, logging.Nop(), notify.Nop{}, metrics.NewNop(), "")
	if err != nil {
		t.Fatalf("breaker.NewRegistry: %v", err)
	}

	r := NewRegistry(DefaultConfig(), events, belief.NewFilter(belief.DefaultConfig()),
		breakers, nil, notify.Nop{}, "", metrics.NewNop(), logging.Nop())

	a := r.For("tenant-a")
	b := r.For("tenant-b")
	if a == b {
		t.Fatal("tenants must get distinct schedulers")
	}
	if again := r.For("tenant-a"); again != a {
		t.Fatal("same tenant should get the same scheduler")
	}
	if got := len(r.Tenants()); got != 2 {
		t.Fatalf("expected 2 tenants, got %d", got)
	}

	a.Start()
	r.Shutdown()
	if a.Running() {
		t.Fatal("shutdown should stop running schedulers")
	}
}
