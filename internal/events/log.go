// internal/events/log.go
// Package events keeps the persistent event log and fans events out to
// in-process handlers.
package events

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aceteam-ai/opencorp/internal/logging"
	"github.com/aceteam-ai/opencorp/internal/store"
)

// Table holds events inside the events collection.
const Table = "events"

// Wildcard registers a handler for every event type.
const Wildcard = "*"

// Event is one fact that happened, e.g. "workflow.started".
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler reacts to an event. Errors are logged and otherwise ignored.
type Handler func(ctx context.Context, ev Event) error

// Log persists events and dispatches them.
type Log struct {
	coll *store.Collection
	lock *sync.Mutex
	now  func() time.Time

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewLog creates a log over coll.
func NewLog(coll *store.Collection, lock *sync.Mutex) *Log {
	return &Log{
		coll:     coll,
		lock:     lock,
		now:      time.Now,
		handlers: make(map[string][]Handler),
	}
}

// On registers h for typ, or for everything with Wildcard.
func (l *Log) On(typ string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[typ] = append(l.handlers[typ], h)
}

// Emit stores ev and then runs the matching handlers: type-specific
// handlers first, wildcard handlers after.
func (l *Log) Emit(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now().UTC()
	}

	l.lock.Lock()
	_, err := l.coll.Insert(ctx, Table, ev)
	l.lock.Unlock()
	if err != nil {
		return fmt.Errorf("emit %s: %w", ev.Type, err)
	}

	l.mu.RLock()
	hs := append([]Handler(nil), l.handlers[ev.Type]...)
	if ev.Type != Wildcard {
		hs = append(hs, l.handlers[Wildcard]...)
	}
	l.mu.RUnlock()

	for _, h := range hs {
		l.call(ctx, h, ev)
	}
	return nil
}

func (l *Log) call(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).Warn("events: handler panicked", "type", ev.Type, "panic", r)
		}
	}()
	if err := h(ctx, ev); err != nil {
		logging.FromContext(ctx).Warn("events: handler failed", "type", ev.Type, "error", err)
	}
}

// Filter narrows Query. Zero fields match everything; Limit 0 means 50.
type Filter struct {
	Type   string
	Source string
	Since  time.Time
	Limit  int
}

// Query returns matching events, newest first.
func (l *Log) Query(ctx context.Context, f Filter) ([]Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	l.lock.Lock()
	var docs []store.Document
	var err error
	if f.Type != "" {
		docs, err = l.coll.Find(ctx, Table, "type", f.Type)
	} else {
		docs, err = l.coll.All(ctx, Table)
	}
	l.lock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	var out []Event
	for _, d := range docs {
		var ev Event
		if err := d.Decode(&ev); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", d.ID, err)
		}
		if f.Source != "" && ev.Source != f.Source {
			continue
		}
		if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
