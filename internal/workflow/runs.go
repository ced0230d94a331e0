package workflow

import (
	"context"
	"fmt"

	"github.com/aceteam-ai/opencorp/internal/store"
)

// RunsTable holds finished runs inside the workflows collection.
const RunsTable = "runs"

func (e *Engine) ensureIndexes(ctx context.Context) error {
	for _, field := range []string{"id", "workflow"} {
		if err := e.coll.Index(ctx, RunsTable, field); err != nil {
			return fmt.Errorf("workflow: index runs: %w", err)
		}
	}
	return nil
}

func (e *Engine) save(ctx context.Context, run *Run) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if _, err := e.coll.Insert(ctx, RunsTable, run); err != nil {
		return fmt.Errorf("workflow: persist run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns summaries of finished runs in the order they finished,
// optionally only those of workflow name.
func (e *Engine) ListRuns(ctx context.Context, name string) ([]RunSummary, error) {
	runs, err := e.loadRuns(ctx, "workflow", name)
	if err != nil {
		return nil, err
	}
	out := make([]RunSummary, len(runs))
	for i, r := range runs {
		out[i] = r.Summary()
	}
	return out, nil
}

// GetRun loads one run by ID.
func (e *Engine) GetRun(ctx context.Context, id string) (*Run, error) {
	runs, err := e.loadRuns(ctx, "id", id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return runs[len(runs)-1], nil
}

// loadRuns reads runs whose field equals value; an empty value reads all.
func (e *Engine) loadRuns(ctx context.Context, field, value string) ([]*Run, error) {
	e.lock.Lock()
	docs, err := func() ([]store.Document, error) {
		if value == "" {
			return e.coll.All(ctx, RunsTable)
		}
		return e.coll.Find(ctx, RunsTable, field, value)
	}()
	e.lock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("workflow: load runs: %w", err)
	}

	runs := make([]*Run, 0, len(docs))
	for _, d := range docs {
		var r Run
		if err := d.Decode(&r); err != nil {
			return nil, fmt.Errorf("workflow: decode run %d: %w", d.ID, err)
		}
		runs = append(runs, &r)
	}
	return runs, nil
}
