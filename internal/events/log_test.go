package events

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aceteam-ai/opencorp/internal/store"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	reg := store.NewRegistry()
	t.Cleanup(func() { reg.CloseAll() })
	coll, lock, err := reg.Acquire(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	return NewLog(coll, lock)
}

func TestEmitDispatchesHandlers(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	record := func(tag string) Handler {
		return func(_ context.Context, ev Event) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, tag+":"+ev.Type)
			return nil
		}
	}
	l.On("workflow.started", record("typed"))
	l.On(Wildcard, record("all"))
	l.On("workflow.started", func(context.Context, Event) error { return errors.New("ignored") })
	l.On("workflow.started", func(context.Context, Event) error { panic("also ignored") })

	if err := l.Emit(ctx, Event{Type: "workflow.started", Source: "workflow:demo"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := l.Emit(ctx, Event{Type: "budget.alert"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	want := []string{"typed:workflow.started", "all:workflow.started", "all:budget.alert"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestQuery(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	evs := []Event{
		{Type: "a", Source: "x", Timestamp: base},
		{Type: "b", Source: "x", Timestamp: base.Add(time.Minute)},
		{Type: "a", Source: "y", Timestamp: base.Add(2 * time.Minute)},
	}
	for _, ev := range evs {
		if err := l.Emit(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	all, err := l.Query(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Source != "y" || all[2].Type != "a" {
		t.Errorf("newest-first order wrong: %+v", all)
	}
	if all[0].ID == "" {
		t.Error("ID should be assigned")
	}

	typed, _ := l.Query(ctx, Filter{Type: "a"})
	if len(typed) != 2 {
		t.Errorf("type filter returned %d", len(typed))
	}
	src, _ := l.Query(ctx, Filter{Type: "a", Source: "x"})
	if len(src) != 1 {
		t.Errorf("source filter returned %d", len(src))
	}
	since, _ := l.Query(ctx, Filter{Since: base.Add(30 * time.Second)})
	if len(since) != 2 {
		t.Errorf("since filter returned %d", len(since))
	}
	limited, _ := l.Query(ctx, Filter{Limit: 1})
	if len(limited) != 1 || limited[0].Source != "y" {
		t.Errorf("limit = %+v", limited)
	}
}
