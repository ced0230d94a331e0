package workflow

import (
	"sync"
	"time"
)

// runState guards a Run while its tasks execute. Once closed, by the run
// finishing or timing out, late writes from abandoned goroutines are
// dropped.
type runState struct {
	mu       sync.Mutex
	run      *Run
	closed   bool
	now      func() time.Time
	progress func(task string, r TaskResult)
}

func (s *runState) notify(task string, r TaskResult) {
	if s.progress != nil {
		s.progress(task, r)
	}
}

// update applies fn to task's result unless the run is closed.
func (s *runState) update(task string, fn func(r *TaskResult)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	r := s.run.Tasks[task]
	fn(r)
	snap := *r
	s.mu.Unlock()

	s.notify(task, snap)
	return true
}

func (s *runState) start(task string) bool {
	return s.update(task, func(r *TaskResult) {
		r.Status = TaskRunning
		r.StartedAt = s.now().UTC()
	})
}

func (s *runState) attempt(task string, n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.run.Tasks[task].Attempts = n
	return true
}

func (s *runState) finish(task string, status TaskStatus, output string, err error) bool {
	return s.update(task, func(r *TaskResult) {
		r.Status = status
		r.Output = output
		if err != nil {
			r.Error = err.Error()
		}
		r.CompletedAt = s.now().UTC()
	})
}

// results copies the results of names.
func (s *runState) results(names []string) map[string]TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TaskResult, len(names))
	for _, n := range names {
		if r, ok := s.run.Tasks[n]; ok {
			out[n] = *r
		}
	}
	return out
}

// outputs returns the output of every terminal task.
func (s *runState) outputs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for name, r := range s.run.Tasks {
		if r.Status.Terminal() {
			out[name] = r.Output
		}
	}
	return out
}

// abort closes the run after a whole-graph timeout or cancellation:
// running tasks fail with cause, tasks that never started are skipped.
func (s *runState) abort(cause error) {
	s.mu.Lock()
	now := s.now().UTC()
	var changed []string
	for name, r := range s.run.Tasks {
		switch r.Status {
		case TaskRunning:
			r.Status = TaskFailed
			r.Error = cause.Error()
		case TaskPending:
			r.Status = TaskSkipped
			r.Error = cause.Error()
		default:
			continue
		}
		r.CompletedAt = now
		changed = append(changed, name)
	}
	s.closed = true
	snaps := make([]TaskResult, len(changed))
	for i, name := range changed {
		snaps[i] = *s.run.Tasks[name]
	}
	s.mu.Unlock()

	for i, name := range changed {
		s.notify(name, snaps[i])
	}
}

// close seals the run and computes its status. An aborted run always
// fails.
func (s *runState) close(aborted bool) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.run.Status = RunSucceeded
	if aborted {
		s.run.Status = RunFailed
	}
	for _, r := range s.run.Tasks {
		if r.Status == TaskFailed {
			s.run.Status = RunFailed
			break
		}
	}
	s.run.CompletedAt = s.now().UTC()
	return s.run
}
