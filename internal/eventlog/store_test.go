package eventlog

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	s, err := NewStoreWithDB(db)
	if err != nil {
		t.Fatalf("NewStoreWithDB: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "t1", "tool_call", map[string]any{"tool": "search"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, "t1", "tool_error", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := s.Query(ctx, "t1", time.Now().Add(-time.Minute), "", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "tool_call" {
		t.Fatalf("expected oldest first, got %s", events[0].Type)
	}
	if events[0].Payload["tool"] != "search" {
		t.Fatalf("payload not round-tripped: %v", events[0].Payload)
	}
	if events[1].Payload != nil {
		t.Fatalf("nil payload should stay nil, got %v", events[1].Payload)
	}
}

func TestQueryWindowExcludesOld(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "t1", "observation", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := s.Query(ctx, "t1", time.Now().Add(time.Minute), "", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("future window should exclude the event, got %d", len(events))
	}
}

func TestQueryTypeFilterSubstring(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, typ := range []string{"tool_error", "tool_call", "memory_store"} {
		if err := s.Append(ctx, "t1", typ, nil); err != nil {
			t.Fatalf("Append %s: %v", typ, err)
		}
	}

	events, err := s.Query(ctx, "t1", time.Now().Add(-time.Minute), "tool", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 tool events, got %d", len(events))
	}
}

func TestQueryTenantIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "t1", "observation", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := s.Query(ctx, "t2", time.Now().Add(-time.Minute), "", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("t2 should see no events, got %d", len(events))
	}
}

func TestQueryLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.Append(ctx, "t1", "observation", nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	events, err := s.Query(ctx, "t1", time.Now().Add(-time.Minute), "", 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected limit 3, got %d", len(events))
	}
}

func TestTickArchive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := TickRecord{
		ID:            "tick-1",
		Tenant:        "t1",
		Coherence:     0.82,
		POK:           0.9,
		PDegraded:     0.1,
		InferredState: "COHERENT",
		ActionTaken:   "DO_NOTHING",
		Phi:           0.4,
		Notes:         "intervention=NONE",
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.AppendTick(ctx, rec); err != nil {
		t.Fatalf("AppendTick: %v", err)
	}

	ticks, err := s.ListTicks(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("ListTicks: %v", err)
	}
	if len(ticks) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(ticks))
	}
	got := ticks[0]
	if got.ID != rec.ID || got.Coherence != rec.Coherence || got.InferredState != rec.InferredState {
		t.Fatalf("tick not round-tripped: %+v", got)
	}
	if got.Notes != rec.Notes {
		t.Fatalf("notes not round-tripped: %q", got.Notes)
	}
}

func TestListTicksNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := s.AppendTick(ctx, TickRecord{
			ID:            string(rune('a' + i)),
			Tenant:        "t1",
			InferredState: "COHERENT",
			ActionTaken:   "DO_NOTHING",
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendTick: %v", err)
		}
	}

	ticks, err := s.ListTicks(ctx, "t1", 2)
	if err != nil {
		t.Fatalf("ListTicks: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
	if ticks[0].ID != "c" || ticks[1].ID != "b" {
		t.Fatalf("expected newest first, got %s then %s", ticks[0].ID, ticks[1].ID)
	}
}
