package workflow

import "time"

// TaskStatus is the state of one task inside a run.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// Terminal reports whether the status can no longer change.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskSkipped
}

// RunStatus is the overall state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// TaskResult is the outcome of one task.
type TaskResult struct {
	Status      TaskStatus `json:"status"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at,omitzero"`
	CompletedAt time.Time  `json:"completed_at,omitzero"`
	Attempts    int        `json:"attempts"`
}

// Run is one execution of a definition.
type Run struct {
	ID          string                 `json:"id"`
	Workflow    string                 `json:"workflow"`
	Status      RunStatus              `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at,omitzero"`
	Tasks       map[string]*TaskResult `json:"tasks"`
	// Order lists task names layer by layer.
	Order []string `json:"order"`
}

// RunSummary is the list view of a run.
type RunSummary struct {
	ID          string    `json:"id"`
	Workflow    string    `json:"workflow"`
	Status      RunStatus `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Tasks       int       `json:"tasks"`
	Failed      int       `json:"failed"`
}

// Summary condenses r.
func (r *Run) Summary() RunSummary {
	s := RunSummary{
		ID:          r.ID,
		Workflow:    r.Workflow,
		Status:      r.Status,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Tasks:       len(r.Tasks),
	}
	for _, t := range r.Tasks {
		if t.Status == TaskFailed {
			s.Failed++
		}
	}
	return s
}

// Duration is the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
