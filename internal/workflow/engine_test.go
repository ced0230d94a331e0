package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aceteam-ai/opencorp/internal/agents"
	"github.com/aceteam-ai/opencorp/internal/budget"
	"github.com/aceteam-ai/opencorp/internal/config"
	"github.com/aceteam-ai/opencorp/internal/dispatch"
	"github.com/aceteam-ai/opencorp/internal/events"
	"github.com/aceteam-ai/opencorp/internal/store"
)

// fakeDispatcher answers with fn and records every request.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatch.Request
	fn    func(ctx context.Context, req dispatch.Request) (string, error)
}

func (f *fakeDispatcher) Invoke(ctx context.Context, req dispatch.Request) (*dispatch.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	out, err := f.fn(ctx, req)
	if err != nil {
		return nil, err
	}
	return &dispatch.Response{Content: out}, nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func lastMessage(req dispatch.Request) string {
	return req.Messages[len(req.Messages)-1].Content
}

// echo replies "done: <message>".
func echo(_ context.Context, req dispatch.Request) (string, error) {
	return "done: " + lastMessage(req), nil
}

func newTestEngine(t *testing.T, cfg config.Workflow, d Dispatcher, opts ...Option) *Engine {
	t.Helper()
	reg := store.NewRegistry()
	t.Cleanup(func() { reg.CloseAll() })
	coll, lock, err := reg.Acquire(filepath.Join(t.TempDir(), "workflows.db"))
	if err != nil {
		t.Fatal(err)
	}
	e, err := NewEngine(cfg, d, coll, lock, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func mustParse(t *testing.T, doc string) *Definition {
	t.Helper()
	def, err := ParseDefinition([]byte(doc), "test")
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	return def
}

// Linear A -> B -> C: succeeds in order with depths 0, 1, 2.
func TestRunLinear(t *testing.T) {
	d := &fakeDispatcher{fn: echo}
	e := newTestEngine(t, config.Workflow{}, d)
	def := mustParse(t, `
name: linear
nodes:
  A: {worker: w, message: "a"}
  B: {worker: w, message: "b after {A.output}", depends_on: [A]}
  C: {worker: w, message: "c", depends_on: [B]}
`)

	run, err := e.Run(context.Background(), def)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != RunSucceeded {
		t.Errorf("Status = %s", run.Status)
	}
	depths := Depths(def)
	if depths["A"] != 0 || depths["B"] != 1 || depths["C"] != 2 {
		t.Errorf("depths = %v", depths)
	}

	var order []string
	for _, c := range d.calls {
		order = append(order, strings.Fields(lastMessage(c))[0])
	}
	if strings.Join(order, ",") != "a,b,c" {
		t.Errorf("dispatch order = %v", order)
	}
	if got := lastMessage(d.calls[1]); got != "b after done: a" {
		t.Errorf("substituted message = %q", got)
	}
	for name, r := range run.Tasks {
		if r.Status != TaskSucceeded || r.Attempts != 1 {
			t.Errorf("%s = %+v", name, r)
		}
	}
	a, b := run.Tasks["A"], run.Tasks["B"]
	if b.StartedAt.Before(a.CompletedAt) {
		t.Error("B started before A completed")
	}
}

// Diamond: both branches are running at the same time, merge waits for both.
func TestRunDiamondConcurrent(t *testing.T) {
	var entered sync.WaitGroup
	entered.Add(2)
	bothIn := make(chan struct{})
	go func() { entered.Wait(); close(bothIn) }()

	d := &fakeDispatcher{fn: func(ctx context.Context, req dispatch.Request) (string, error) {
		msg := lastMessage(req)
		if strings.HasPrefix(msg, "branch") {
			entered.Done()
			select {
			case <-bothIn:
			case <-time.After(3 * time.Second):
				return "", errors.New("sibling never started")
			}
		}
		return msg, nil
	}}

	var mu sync.Mutex
	terminal := make(map[string]bool)
	var violations []string
	deps := map[string][]string{"branchA": {"start"}, "branchB": {"start"}, "merge": {"branchA", "branchB"}}
	progress := func(task string, r TaskResult) {
		mu.Lock()
		defer mu.Unlock()
		if r.Status == TaskRunning {
			for _, dep := range deps[task] {
				if !terminal[dep] {
					violations = append(violations, task+" before "+dep)
				}
			}
		}
		if r.Status.Terminal() {
			terminal[task] = true
		}
	}

	e := newTestEngine(t, config.Workflow{MaxWorkers: 4}, d, WithProgress(progress))
	run, err := e.Run(context.Background(), mustParse(t, `
nodes:
  start: {worker: w, message: start}
  branchA: {worker: w, message: branchA, depends_on: [start]}
  branchB: {worker: w, message: branchB, depends_on: [start]}
  merge: {worker: w, message: merge, depends_on: [branchA, branchB]}
`))
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != RunSucceeded {
		t.Fatalf("run = %s, tasks: %+v %+v", run.Status, run.Tasks["branchA"], run.Tasks["branchB"])
	}
	if len(violations) > 0 {
		t.Errorf("tasks started before dependencies were terminal: %v", violations)
	}
	merge := run.Tasks["merge"]
	for _, b := range []string{"branchA", "branchB"} {
		if merge.StartedAt.Before(run.Tasks[b].CompletedAt) {
			t.Errorf("merge started before %s completed", b)
		}
	}
}

func TestRunCycleNeverStarts(t *testing.T) {
	d := &fakeDispatcher{fn: echo}
	var started []string
	e := newTestEngine(t, config.Workflow{}, d, WithProgress(func(task string, r TaskResult) {
		started = append(started, task)
	}))

	run, err := e.Run(context.Background(), mustParse(t, `
nodes:
  a: {worker: w, message: a, depends_on: [c]}
  b: {worker: w, message: b, depends_on: [a]}
  c: {worker: w, message: c, depends_on: [b]}
  free: {worker: w, message: free}
`))
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("err = %v, want ErrInvalidDefinition", err)
	}
	if run != nil || d.count() != 0 || len(started) != 0 {
		t.Errorf("nothing may run for a cyclic graph: run=%v calls=%d progress=%v", run, d.count(), started)
	}
	if runs, _ := e.ListRuns(context.Background(), ""); len(runs) != 0 {
		t.Error("invalid definitions must not be persisted")
	}
}

// Definitions assembled in code carry no declaration order.
func TestRunDefinitionWithoutOrder(t *testing.T) {
	spec := func(worker, msg string, deps ...string) *TaskSpec {
		return &TaskSpec{Worker: worker, Message: msg, DependsOn: deps}
	}

	t.Run("cycle rejected", func(t *testing.T) {
		d := &fakeDispatcher{fn: echo}
		e := newTestEngine(t, config.Workflow{}, d)
		def := &Definition{Name: "loop", Tasks: map[string]*TaskSpec{
			"a": spec("w", "a", "b"),
			"b": spec("w", "b", "a"),
		}}
		run, err := e.Run(context.Background(), def)
		if !errors.Is(err, ErrInvalidDefinition) || !strings.Contains(err.Error(), "dependency cycle") {
			t.Fatalf("err = %v, want a dependency cycle", err)
		}
		if run != nil || d.count() != 0 {
			t.Errorf("nothing may run: run=%v calls=%d", run, d.count())
		}
	})

	t.Run("every task runs", func(t *testing.T) {
		d := &fakeDispatcher{fn: echo}
		e := newTestEngine(t, config.Workflow{}, d)
		def := &Definition{Name: "built", Tasks: map[string]*TaskSpec{
			"write":  spec("w", "write", "gather"),
			"gather": spec("w", "gather"),
			"check":  spec("w", "check"),
		}}
		run, err := e.Run(context.Background(), def)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if run.Status != RunSucceeded || len(run.Tasks) != 3 || d.count() != 3 {
			t.Fatalf("status=%s tasks=%d calls=%d", run.Status, len(run.Tasks), d.count())
		}
		if got := strings.Join(run.Order, ","); got != "check,gather,write" {
			t.Errorf("Order = %s", got)
		}
		for name, r := range run.Tasks {
			if r.Status != TaskSucceeded {
				t.Errorf("%s = %s", name, r.Status)
			}
		}
	})

	for _, tt := range []struct {
		name string
		def  *Definition
		want string
	}{
		{"no tasks", &Definition{Name: "empty"}, "no nodes"},
		{"nil task", &Definition{Tasks: map[string]*TaskSpec{"a": nil}}, "no definition"},
		{"missing worker", &Definition{Tasks: map[string]*TaskSpec{"a": spec("", "a")}}, "'worker'"},
		{"order names unknown task", &Definition{
			Tasks: map[string]*TaskSpec{"a": spec("w", "a")},
			Order: []string{"a", "ghost"},
		}, "not defined"},
		{"order omits task", &Definition{
			Tasks: map[string]*TaskSpec{"a": spec("w", "a"), "b": spec("w", "b")},
			Order: []string{"a"},
		}, "missing from order"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{fn: echo}
			e := newTestEngine(t, config.Workflow{}, d)
			_, err := e.Run(context.Background(), tt.def)
			if !errors.Is(err, ErrInvalidDefinition) || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
			if d.count() != 0 {
				t.Errorf("calls = %d", d.count())
			}
		})
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	var n int
	var mu sync.Mutex
	d := &fakeDispatcher{fn: func(ctx context.Context, req dispatch.Request) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n <= 2 {
			return "", fmt.Errorf("flaky %d", n)
		}
		return "third time", nil
	}}
	e := newTestEngine(t, config.Workflow{}, d)
	run, err := e.Run(context.Background(), mustParse(t, `
nodes:
  t: {worker: w, message: go, retries: 2}
`))
	if err != nil {
		t.Fatal(err)
	}
	r := run.Tasks["t"]
	if r.Status != TaskSucceeded || r.Attempts != 3 || r.Output != "third time" {
		t.Errorf("result = %+v", r)
	}
}

func TestRetriesExhausted(t *testing.T) {
	d := &fakeDispatcher{fn: func(context.Context, dispatch.Request) (string, error) {
		return "", errors.New("always down")
	}}
	e := newTestEngine(t, config.Workflow{TaskRetries: 1}, d)
	run, err := e.Run(context.Background(), mustParse(t, `
nodes:
  t: {worker: w, message: go}
`))
	if err != nil {
		t.Fatal(err)
	}
	r := run.Tasks["t"]
	if r.Status != TaskFailed || r.Attempts != 2 || !strings.Contains(r.Error, "always down") {
		t.Errorf("result = %+v", r)
	}
	if run.Status != RunFailed {
		t.Errorf("run status = %s", run.Status)
	}
}

func TestBudgetRejectionNotRetried(t *testing.T) {
	d := &fakeDispatcher{fn: func(context.Context, dispatch.Request) (string, error) {
		return "", &budget.ExceededError{Status: budget.StatusFrozen, Limit: 1}
	}}
	e := newTestEngine(t, config.Workflow{}, d)
	run, err := e.Run(context.Background(), mustParse(t, `
nodes:
  t: {worker: w, message: go, retries: 3}
  sibling: {worker: w, message: go}
`))
	if err != nil {
		t.Fatal(err)
	}
	if r := run.Tasks["t"]; r.Attempts != 1 || r.Status != TaskFailed {
		t.Errorf("budget rejection was retried: %+v", r)
	}
	if d.count() != 2 {
		t.Errorf("calls = %d, want one per task", d.count())
	}
}

// A 1s task timeout against a 5s backend fails in about a second.
func TestTaskTimeout(t *testing.T) {
	d := &fakeDispatcher{fn: func(ctx context.Context, req dispatch.Request) (string, error) {
		if lastMessage(req) == "fast" {
			return "quick", nil
		}
		time.Sleep(5 * time.Second) // ignores ctx on purpose
		return "too late", nil
	}}
	e := newTestEngine(t, config.Workflow{}, d)

	start := time.Now()
	run, err := e.Run(context.Background(), mustParse(t, `
nodes:
  slow: {worker: w, message: slow, timeout: 1}
  fast: {worker: w, message: fast}
`))
	elapsed := time.Since(start)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("run took %s, want about 1s", elapsed)
	}
	slow := run.Tasks["slow"]
	if slow.Status != TaskFailed || !strings.Contains(slow.Error, ErrTaskTimeout.Error()) {
		t.Errorf("slow = %+v", slow)
	}
	if run.Tasks["fast"].Status != TaskSucceeded {
		t.Errorf("sibling should be unaffected: %+v", run.Tasks["fast"])
	}
}

func TestWholeGraphTimeout(t *testing.T) {
	d := &fakeDispatcher{fn: func(ctx context.Context, req dispatch.Request) (string, error) {
		if lastMessage(req) == "quick" {
			return "ok", nil
		}
		time.Sleep(5 * time.Second)
		return "late", nil
	}}
	e := newTestEngine(t, config.Workflow{}, d)

	start := time.Now()
	run, err := e.Run(context.Background(), mustParse(t, `
timeout: 1
nodes:
  quick: {worker: w, message: quick}
  stuck: {worker: w, message: stuck}
  after: {worker: w, message: after, depends_on: [stuck]}
`))
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("run took %s, want about 1s", elapsed)
	}
	if run.Status != RunFailed {
		t.Errorf("Status = %s", run.Status)
	}
	want := map[string]TaskStatus{"quick": TaskSucceeded, "stuck": TaskFailed, "after": TaskSkipped}
	for name, st := range want {
		if got := run.Tasks[name].Status; got != st {
			t.Errorf("%s = %s, want %s", name, got, st)
		}
	}
	if !strings.Contains(run.Tasks["stuck"].Error, ErrRunTimeout.Error()) {
		t.Errorf("stuck error = %q", run.Tasks["stuck"].Error)
	}
	if d.count() != 2 {
		t.Errorf("no call may be made after the timeout, got %d calls", d.count())
	}
}

// The configured timeout covers definitions that set none; an explicit 0
// lifts it.
func TestConfigWorkflowTimeout(t *testing.T) {
	slow := func(ctx context.Context, req dispatch.Request) (string, error) {
		time.Sleep(1500 * time.Millisecond)
		return "slow", nil
	}

	d := &fakeDispatcher{fn: slow}
	e := newTestEngine(t, config.Workflow{Timeout: 1}, d)
	run, err := e.Run(context.Background(), mustParse(t, `
nodes:
  slow: {worker: w, message: slow}
`))
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != RunFailed || !strings.Contains(run.Tasks["slow"].Error, ErrRunTimeout.Error()) {
		t.Errorf("default timeout not applied: %s %q", run.Status, run.Tasks["slow"].Error)
	}

	d = &fakeDispatcher{fn: slow}
	e = newTestEngine(t, config.Workflow{Timeout: 1}, d)
	run, err = e.Run(context.Background(), mustParse(t, `
timeout: 0
nodes:
  slow: {worker: w, message: slow}
`))
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != RunSucceeded {
		t.Errorf("explicit timeout 0 should be unlimited, got %s %q", run.Status, run.Tasks["slow"].Error)
	}
}

func TestContainsCondition(t *testing.T) {
	for _, tt := range []struct {
		output string
		want   TaskStatus
	}{
		{"Recommendation: buy now", TaskSucceeded},
		{"hold", TaskSkipped},
	} {
		t.Run(tt.output, func(t *testing.T) {
			d := &fakeDispatcher{fn: func(ctx context.Context, req dispatch.Request) (string, error) {
				if lastMessage(req) == "analyse" {
					return tt.output, nil
				}
				return "traded", nil
			}}
			e := newTestEngine(t, config.Workflow{}, d)
			run, err := e.Run(context.Background(), mustParse(t, `
nodes:
  analyse: {worker: w, message: analyse}
  trade: {worker: w, message: trade, depends_on: [analyse], condition: "contains:buy"}
`))
			if err != nil {
				t.Fatal(err)
			}
			trade := run.Tasks["trade"]
			if trade.Status != tt.want {
				t.Errorf("trade = %s, want %s", trade.Status, tt.want)
			}
			if tt.want == TaskSkipped && trade.Attempts != 0 {
				t.Errorf("skipped task has %d attempts", trade.Attempts)
			}
		})
	}
}

func TestFailurePropagation(t *testing.T) {
	d := &fakeDispatcher{fn: func(ctx context.Context, req dispatch.Request) (string, error) {
		if lastMessage(req) == "a" {
			return "", errors.New("boom")
		}
		return "fine", nil
	}}
	e := newTestEngine(t, config.Workflow{}, d)
	run, err := e.Run(context.Background(), mustParse(t, `
nodes:
  a: {worker: w, message: a}
  b: {worker: w, message: b, depends_on: [a]}
  c: {worker: w, message: c, depends_on: [b]}
  d: {worker: w, message: d}
`))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]TaskStatus{"a": TaskFailed, "b": TaskSkipped, "c": TaskSkipped, "d": TaskSucceeded}
	for name, st := range want {
		if got := run.Tasks[name].Status; got != st {
			t.Errorf("%s = %s, want %s", name, got, st)
		}
	}
	if run.Status != RunFailed {
		t.Errorf("run = %s", run.Status)
	}
}

func TestOutputBounded(t *testing.T) {
	long := strings.Repeat("z", 10000)
	d := &fakeDispatcher{fn: func(ctx context.Context, req dispatch.Request) (string, error) {
		if lastMessage(req) == "produce" {
			return long, nil
		}
		return "ok", nil
	}}
	e := newTestEngine(t, config.Workflow{}, d)
	run, err := e.Run(context.Background(), mustParse(t, `
nodes:
  produce: {worker: w, message: produce}
  consume: {worker: w, message: "x{produce.output}y{produce.output}", depends_on: [produce]}
`))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(run.Tasks["produce"].Output); n != 2000 {
		t.Errorf("stored output = %d chars, want 2000", n)
	}
	msg := lastMessage(d.calls[1])
	if n := strings.Count(msg, "z"); n != 4000 {
		t.Errorf("consume message carries %d chars of output, want 2000 per reference", n)
	}
}

type fakeExecutors map[string]agents.Profile

func (f fakeExecutors) Exists(name string) bool {
	_, ok := f[name]
	return ok
}

func (f fakeExecutors) Resolve(name string) (agents.Profile, error) {
	p, ok := f[name]
	if !ok {
		return agents.Profile{}, agents.ErrWorkerNotFound
	}
	return p, nil
}

func (f fakeExecutors) List() ([]agents.Profile, error) {
	var out []agents.Profile
	for _, p := range f {
		out = append(out, p)
	}
	return out, nil
}

func TestAutoWorkerAndSystemPrompt(t *testing.T) {
	x := fakeExecutors{
		"analyst": {Name: "analyst", Level: 3, Skills: []string{"research"}, SystemPrompt: "You research."},
		"writer":  {Name: "writer", Level: 1, Skills: []string{"copy"}, SystemPrompt: "You write."},
	}
	d := &fakeDispatcher{fn: echo}
	e := newTestEngine(t, config.Workflow{}, d, WithExecutors(x))

	_, err := e.Run(context.Background(), mustParse(t, `
nodes:
  r: {worker: auto, message: "research the market"}
  w: {worker: writer, message: "draft", depends_on: [r]}
`))
	if err != nil {
		t.Fatal(err)
	}
	if d.calls[0].Executor != "analyst" {
		t.Errorf("auto picked %q, want analyst", d.calls[0].Executor)
	}
	if sys := d.calls[1].Messages[0]; sys.Role != "system" || sys.Content != "You write." {
		t.Errorf("system message = %+v", sys)
	}

	_, err = e.Run(context.Background(), mustParse(t, `
nodes:
  x: {worker: ghost, message: hi}
`))
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Errorf("unknown worker err = %v", err)
	}
}

func TestPersistenceAndEvents(t *testing.T) {
	reg := store.NewRegistry()
	defer reg.CloseAll()
	evColl, evLock, err := reg.Acquire(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	log := events.NewLog(evColl, evLock)

	e := newTestEngine(t, config.Workflow{}, &fakeDispatcher{fn: echo}, WithEvents(log))
	ctx := context.Background()
	def := mustParse(t, "name: daily\nnodes:\n  a: {worker: w, message: hi}\n")

	first, err := e.Run(ctx, def)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.ID) != 8 {
		t.Errorf("run ID %q should be 8 hex chars", first.ID)
	}
	if _, err := e.Run(ctx, mustParse(t, "name: other\nnodes:\n  a: {worker: w, message: hi}\n")); err != nil {
		t.Fatal(err)
	}

	all, err := e.ListRuns(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("ListRuns = %v, %v", all, err)
	}
	daily, _ := e.ListRuns(ctx, "daily")
	if len(daily) != 1 || daily[0].ID != first.ID || daily[0].Tasks != 1 {
		t.Errorf("filtered = %+v", daily)
	}

	got, err := e.GetRun(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Tasks["a"].Output != "done: hi" || got.Status != RunSucceeded {
		t.Errorf("GetRun = %+v", got)
	}
	if _, err := e.GetRun(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun unknown err = %v", err)
	}

	evs, err := log.Query(ctx, events.Filter{Source: "workflow:daily"})
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]int{}
	for _, ev := range evs {
		types[ev.Type]++
	}
	if types["workflow.started"] != 1 || types["workflow.task_completed"] != 1 || types["workflow.completed"] != 1 {
		t.Errorf("events = %v", types)
	}
}

func TestRunFile(t *testing.T) {
	e := newTestEngine(t, config.Workflow{}, &fakeDispatcher{fn: echo})
	if _, err := e.RunFile(context.Background(), filepath.Join(t.TempDir(), "none.yaml")); !errors.Is(err, ErrInvalidDefinition) {
		t.Errorf("err = %v", err)
	}
}
