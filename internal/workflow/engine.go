// internal/workflow/engine.go
// Package workflow validates and runs task graphs: layer by layer on a
// bounded worker pool, with per-task timeouts and retries, conditional
// skipping and a whole-graph timeout.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aceteam-ai/opencorp/internal/agents"
	"github.com/aceteam-ai/opencorp/internal/backend"
	"github.com/aceteam-ai/opencorp/internal/budget"
	"github.com/aceteam-ai/opencorp/internal/config"
	"github.com/aceteam-ai/opencorp/internal/dispatch"
	"github.com/aceteam-ai/opencorp/internal/events"
	"github.com/aceteam-ai/opencorp/internal/logging"
	"github.com/aceteam-ai/opencorp/internal/store"
)

// Dispatcher executes one task attempt. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Invoke(ctx context.Context, req dispatch.Request) (*dispatch.Response, error)
}

// Executors is the worker registry. *agents.Registry implements it.
type Executors interface {
	Exists(name string) bool
	Resolve(name string) (agents.Profile, error)
	List() ([]agents.Profile, error)
}

// Emitter receives lifecycle events. *events.Log implements it.
type Emitter interface {
	Emit(ctx context.Context, ev events.Event) error
}

// Engine runs workflow definitions.
type Engine struct {
	cfg        config.Workflow
	dispatcher Dispatcher
	coll       *store.Collection
	lock       *sync.Mutex

	executors Executors
	selector  agents.Selector
	emitter   Emitter
	progress  func(task string, r TaskResult)
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithExecutors enables worker validation, system prompts and "auto"
// selection.
func WithExecutors(x Executors) Option { return func(e *Engine) { e.executors = x } }

// WithSelector sets the strategy for "auto" tasks (default SkillMatch).
func WithSelector(s agents.Selector) Option { return func(e *Engine) { e.selector = s } }

// WithEvents sends workflow.* events to em.
func WithEvents(em Emitter) Option { return func(e *Engine) { e.emitter = em } }

// WithProgress calls fn after every task state change. fn runs on the
// task's goroutine and must not block.
func WithProgress(fn func(task string, r TaskResult)) Option {
	return func(e *Engine) { e.progress = fn }
}

// WithClock overrides the time source for timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates an engine persisting runs into coll.
func NewEngine(cfg config.Workflow, d Dispatcher, coll *store.Collection, lock *sync.Mutex, opts ...Option) (*Engine, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 300
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = 2000
	}
	e := &Engine{
		cfg:        cfg,
		dispatcher: d,
		coll:       coll,
		lock:       lock,
		selector:   agents.SkillMatch{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.ensureIndexes(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

func newRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (e *Engine) emit(ctx context.Context, typ, workflow string, data map[string]any) {
	if e.emitter == nil {
		return
	}
	ev := events.Event{Type: typ, Source: "workflow:" + workflow, Data: data}
	if err := e.emitter.Emit(ctx, ev); err != nil {
		logging.FromContext(ctx).Warn("workflow: emit failed", "type", typ, "error", err)
	}
}

// Validate checks def against this engine's worker registry.
func (e *Engine) Validate(def *Definition) error {
	var exists func(string) bool
	if e.executors != nil {
		exists = e.executors.Exists
	}
	return Validate(def, exists)
}

// RunFile loads and runs the workflow at path.
func (e *Engine) RunFile(ctx context.Context, path string) (*Run, error) {
	def, err := LoadDefinition(path)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, def)
}

// Run validates def, executes it and persists the finished run. Definition
// errors are returned before any task starts. A whole-graph timeout is not
// an error: it is recorded on the run, which is returned as failed.
func (e *Engine) Run(ctx context.Context, def *Definition) (*Run, error) {
	if err := e.Validate(def); err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx).With("workflow", def.Name)

	layers := Layers(def)
	run := &Run{
		ID:        newRunID(),
		Workflow:  def.Name,
		Status:    RunRunning,
		StartedAt: e.now().UTC(),
		Tasks:     make(map[string]*TaskResult, len(def.Tasks)),
	}
	for _, layer := range layers {
		for _, name := range layer {
			run.Tasks[name] = &TaskResult{Status: TaskPending}
			run.Order = append(run.Order, name)
		}
	}
	st := &runState{run: run, now: e.now, progress: e.progress}
	log = log.With("run", run.ID)
	ctx = logging.WithLogger(ctx, log)

	log.Info("workflow started", "tasks", len(def.Tasks), "layers", len(layers))
	e.emit(ctx, "workflow.started", def.Name, map[string]any{"run_id": run.ID, "tasks": run.Order})

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	limit := e.cfg.Timeout
	if def.Timeout != nil {
		limit = *def.Timeout
	}
	if limit > 0 {
		timer := time.AfterFunc(time.Duration(limit)*time.Second, func() { cancel(ErrRunTimeout) })
		defer timer.Stop()
	}

	aborted := false
	for depth, layer := range layers {
		if err := e.runLayer(runCtx, st, def, layer); err != nil {
			log.Warn("workflow aborted", "depth", depth, "error", err)
			st.abort(err)
			aborted = true
			break
		}
	}

	st.close(aborted)
	if err := e.save(ctx, run); err != nil {
		return run, err
	}

	typ := "workflow.completed"
	if run.Status == RunFailed {
		typ = "workflow.failed"
	}
	log.Info("workflow finished", "status", run.Status, "duration", run.Duration())
	e.emit(ctx, typ, def.Name, map[string]any{"run_id": run.ID, "status": string(run.Status)})

	if err := ctx.Err(); err != nil {
		return run, err
	}
	return run, nil
}

// runLayer runs every task of one depth on the worker pool and waits for
// all of them. It returns early with the cause when runCtx ends.
func (e *Engine) runLayer(runCtx context.Context, st *runState, def *Definition, layer []string) error {
	if runCtx.Err() != nil {
		return context.Cause(runCtx)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(e.cfg.MaxWorkers)
		for _, name := range layer {
			spec := def.Tasks[name]
			g.Go(func() error {
				e.executeTask(runCtx, st, name, spec)
				return nil
			})
		}
		g.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-runCtx.Done():
		return context.Cause(runCtx)
	}
}

func (e *Engine) executeTask(ctx context.Context, st *runState, name string, spec *TaskSpec) {
	if ctx.Err() != nil {
		return
	}
	log := logging.FromContext(ctx).With("task", name)

	if len(spec.DependsOn) > 0 {
		cond, _ := parseCondition(spec.Condition)
		if !cond.met(spec.DependsOn, st.results(spec.DependsOn)) {
			log.Info("task skipped", "condition", spec.Condition)
			if st.finish(name, TaskSkipped, "", nil) {
				e.emitTask(ctx, st, name, TaskSkipped, "")
			}
			return
		}
	}

	message := substitute(spec.Message, st.outputs(), e.cfg.OutputLimit)
	if !st.start(name) {
		return
	}

	retries := e.cfg.TaskRetries
	if spec.Retries != nil {
		retries = *spec.Retries
	}
	timeout := e.cfg.TaskTimeoutDuration()
	if spec.Timeout > 0 {
		timeout = time.Duration(spec.Timeout) * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= retries+1; attempt++ {
		if !st.attempt(name, attempt) {
			return
		}
		if attempt > 1 {
			log.Warn("retrying task", "attempt", attempt, "of", retries+1, "error", lastErr)
		}
		out, err := e.attempt(ctx, name, spec, message, timeout)
		if err == nil {
			if st.finish(name, TaskSucceeded, truncate(out, e.cfg.OutputLimit), nil) {
				e.emitTask(ctx, st, name, TaskSucceeded, "")
			}
			return
		}
		lastErr = err
		if errors.Is(err, budget.ErrBudgetExceeded) || ctx.Err() != nil {
			break
		}
	}

	log.Warn("task failed", "error", lastErr)
	if st.finish(name, TaskFailed, "", lastErr) {
		e.emitTask(ctx, st, name, TaskFailed, lastErr.Error())
	}
}

func (e *Engine) emitTask(ctx context.Context, st *runState, task string, status TaskStatus, errMsg string) {
	data := map[string]any{"run_id": st.run.ID, "task": task, "status": string(status)}
	if errMsg != "" {
		data["error"] = errMsg
	}
	e.emit(ctx, "workflow.task_completed", st.run.Workflow, data)
}

// attempt runs one dispatch bounded by timeout. It returns as soon as the
// timeout fires, even if the dispatcher ignores cancellation.
func (e *Engine) attempt(ctx context.Context, name string, spec *TaskSpec, message string, timeout time.Duration) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := e.invoke(tctx, name, spec, message)
		ch <- result{out, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && tctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", fmt.Errorf("%w: %q after %s", ErrTaskTimeout, name, timeout)
		}
		return r.out, r.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return "", context.Cause(ctx)
		}
		return "", fmt.Errorf("%w: %q after %s", ErrTaskTimeout, name, timeout)
	}
}

func (e *Engine) invoke(ctx context.Context, task string, spec *TaskSpec, message string) (string, error) {
	worker := spec.Worker
	if worker == autoWorker {
		name, err := e.selectWorker(message)
		if err != nil {
			return "", err
		}
		worker = name
		logging.FromContext(ctx).Info("auto-selected worker", "task", task, "worker", worker)
	}

	msgs := []backend.Message{{Role: "user", Content: message}}
	if e.executors != nil {
		p, err := e.executors.Resolve(worker)
		if err != nil {
			return "", err
		}
		if p.SystemPrompt != "" {
			msgs = append([]backend.Message{{Role: "system", Content: p.SystemPrompt}}, msgs...)
		}
	}

	resp, err := e.dispatcher.Invoke(ctx, dispatch.Request{Executor: worker, Messages: msgs})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (e *Engine) selectWorker(message string) (string, error) {
	if e.executors == nil {
		return "", errors.New("no worker registry for auto selection")
	}
	candidates, err := e.executors.List()
	if err != nil {
		return "", err
	}
	name, ok := e.selector.Select(candidates, message)
	if !ok {
		return "", errors.New("no workers available for auto selection")
	}
	return name, nil
}
