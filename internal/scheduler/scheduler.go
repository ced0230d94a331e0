package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/aceteam-ai/opencorp/internal/agents"
	"github.com/aceteam-ai/opencorp/internal/backend"
	"github.com/aceteam-ai/opencorp/internal/dispatch"
	"github.com/aceteam-ai/opencorp/internal/events"
	"github.com/aceteam-ai/opencorp/internal/logging"
	"github.com/aceteam-ai/opencorp/internal/store"
)

// Table holds tasks inside the scheduler collection.
const Table = "tasks"

// responseLimit bounds the reply carried by task.completed events.
const responseLimit = 500

// Dispatcher runs one call. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Invoke(ctx context.Context, req dispatch.Request) (*dispatch.Response, error)
}

// Executors checks and resolves workers. *agents.Registry implements it.
type Executors interface {
	Exists(name string) bool
	Resolve(name string) (agents.Profile, error)
}

// Emitter receives task events. *events.Log implements it.
type Emitter interface {
	Emit(ctx context.Context, ev events.Event) error
}

// Scheduler keeps scheduled tasks and fires them while started.
type Scheduler struct {
	dispatcher Dispatcher
	coll       *store.Collection
	lock       *sync.Mutex
	executors  Executors
	emitter    Emitter
	now        func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	runCtx  context.Context
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithExecutors checks workers on Add and adds their system prompts.
func WithExecutors(x Executors) Option { return func(s *Scheduler) { s.executors = x } }

// WithEvents emits task.started, task.completed and task.failed.
func WithEvents(em Emitter) Option { return func(s *Scheduler) { s.emitter = em } }

// WithClock overrides the time source for timestamps and past checks.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// New creates a scheduler persisting tasks into coll.
func New(d Dispatcher, coll *store.Collection, lock *sync.Mutex, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		dispatcher: d,
		coll:       coll,
		lock:       lock,
		now:        time.Now,
		entries:    make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := coll.Index(context.Background(), Table, "id"); err != nil {
		return nil, fmt.Errorf("scheduler: index tasks: %w", err)
	}
	return s, nil
}

// Add validates t, assigns its ID and stores it enabled. A running
// scheduler picks it up immediately.
func (s *Scheduler) Add(ctx context.Context, t Task) (*Task, error) {
	t.Worker = strings.TrimSpace(t.Worker)
	if t.Worker == "" {
		return nil, fmt.Errorf("scheduler: task needs a worker")
	}
	if strings.TrimSpace(t.Message) == "" {
		return nil, fmt.Errorf("scheduler: task needs a message")
	}
	if _, err := parseSchedule(t.Kind, t.Value, s.now()); err != nil {
		return nil, err
	}
	if s.executors != nil && !s.executors.Exists(t.Worker) {
		return nil, fmt.Errorf("%w: %s (add it under workers/ first)", agents.ErrWorkerNotFound, t.Worker)
	}

	t.ID = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	t.Enabled = true
	t.CreatedAt = s.now().UTC()
	t.LastRun = time.Time{}

	s.lock.Lock()
	_, err := s.coll.Insert(ctx, Table, t)
	s.lock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("scheduler: save task: %w", err)
	}
	logging.FromContext(ctx).Info("scheduler: task added", "id", t.ID, "worker", t.Worker, "schedule", t.String())

	s.mu.Lock()
	if s.cron != nil {
		s.register(t)
	}
	s.mu.Unlock()
	return &t, nil
}

// Remove deletes the task with id and unschedules it.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	s.lock.Lock()
	n, err := s.coll.Delete(ctx, Table, "id", id)
	s.lock.Unlock()
	if err != nil {
		return fmt.Errorf("scheduler: remove %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	s.mu.Lock()
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	s.mu.Unlock()
	logging.FromContext(ctx).Info("scheduler: task removed", "id", id)
	return nil
}

// List returns every task in the order it was added.
func (s *Scheduler) List(ctx context.Context) ([]Task, error) {
	s.lock.Lock()
	docs, err := s.coll.All(ctx, Table)
	s.lock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("scheduler: load tasks: %w", err)
	}
	tasks := make([]Task, 0, len(docs))
	for _, d := range docs {
		var t Task
		if err := d.Decode(&t); err != nil {
			return nil, fmt.Errorf("scheduler: decode task %d: %w", d.ID, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Get loads one task by ID.
func (s *Scheduler) Get(ctx context.Context, id string) (*Task, error) {
	s.lock.Lock()
	docs, err := s.coll.Find(ctx, Table, "id", id)
	s.lock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("scheduler: load task %s: %w", id, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	var t Task
	if err := docs[len(docs)-1].Decode(&t); err != nil {
		return nil, fmt.Errorf("scheduler: decode task %s: %w", id, err)
	}
	return &t, nil
}

// Start registers every enabled task and begins firing them. Runs use
// ctx for logging and cancellation. One-shot tasks whose time passed while
// the scheduler was down are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	tasks, err := s.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrRunning
	}
	cl := cronLogger{logging.FromContext(ctx)}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.runCtx = ctx
	for _, t := range tasks {
		if t.Enabled {
			s.register(t)
		}
	}
	s.cron.Start()
	logging.FromContext(ctx).Info("scheduler: started", "tasks", len(s.entries))
	return nil
}

// Stop halts the timetable and waits for running tasks until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.entries = make(map[string]cron.EntryID)
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports the number of registered tasks, or -1 when stopped.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return -1
	}
	return len(s.entries)
}

// register adds t to the running cron. s.mu must be held.
func (s *Scheduler) register(t Task) {
	log := logging.FromContext(s.runCtx)
	sched, err := parseSchedule(t.Kind, t.Value, s.now())
	if err != nil {
		log.Warn("scheduler: task not scheduled", "id", t.ID, "error", err)
		return
	}
	id := t.ID
	s.entries[id] = s.cron.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.Execute(s.runCtx, id); err != nil {
			log.Warn("scheduler: task run failed", "id", id, "error", err)
		}
		if t.Kind == KindOnce {
			s.mu.Lock()
			if entry, ok := s.entries[id]; ok && s.cron != nil {
				s.cron.Remove(entry)
				delete(s.entries, id)
			}
			s.mu.Unlock()
		}
	}))
}

// Execute runs task id once, now. The reply is returned and reported in a
// task.completed event; a failure is reported as task.failed.
func (s *Scheduler) Execute(ctx context.Context, id string) (string, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	log := logging.FromContext(ctx).With("task", id, "worker", t.Worker)
	source := "scheduler:" + id

	s.emit(ctx, "task.started", source, map[string]any{"worker": t.Worker, "message": t.Message})
	log.Info("scheduler: task started")

	out, err := s.invoke(ctx, t)
	if err != nil {
		s.emit(ctx, "task.failed", source, map[string]any{"worker": t.Worker, "error": err.Error()})
		return "", fmt.Errorf("scheduler: task %s: %w", id, err)
	}
	s.emit(ctx, "task.completed", source, map[string]any{"worker": t.Worker, "response": truncate(out, responseLimit)})
	log.Info("scheduler: task completed")

	if err := s.markRun(ctx, t); err != nil {
		log.Warn("scheduler: record last run", "error", err)
	}
	return out, nil
}

func (s *Scheduler) invoke(ctx context.Context, t *Task) (string, error) {
	msgs := []backend.Message{{Role: "user", Content: t.Message}}
	if s.executors != nil {
		p, err := s.executors.Resolve(t.Worker)
		if err != nil {
			return "", err
		}
		if p.SystemPrompt != "" {
			msgs = append([]backend.Message{{Role: "system", Content: p.SystemPrompt}}, msgs...)
		}
	}
	resp, err := s.dispatcher.Invoke(ctx, dispatch.Request{Executor: t.Worker, Messages: msgs})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// markRun stamps LastRun; a fired one-shot task is also disabled.
func (s *Scheduler) markRun(ctx context.Context, t *Task) error {
	t.LastRun = s.now().UTC()
	if t.Kind == KindOnce {
		t.Enabled = false
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	n, err := s.coll.Delete(ctx, Table, "id", t.ID)
	if err != nil || n == 0 {
		// Removed while running.
		return err
	}
	_, err = s.coll.Insert(ctx, Table, t)
	return err
}

func (s *Scheduler) emit(ctx context.Context, typ, source string, data map[string]any) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, events.Event{Type: typ, Source: source, Data: data}); err != nil {
		logging.FromContext(ctx).Warn("scheduler: emit failed", "type", typ, "error", err)
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// cronLogger routes cron's own messages into slog.
type cronLogger struct {
	log *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
