package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDefinition is matched by every *DefinitionError.
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrTaskTimeout is recorded when one task exceeds its own timeout.
	ErrTaskTimeout = errors.New("task timed out")

	// ErrRunTimeout is recorded on tasks cut short by the whole-graph timeout.
	ErrRunTimeout = errors.New("workflow timeout exceeded")

	// ErrRunNotFound is returned by GetRun for unknown IDs.
	ErrRunNotFound = errors.New("workflow run not found")
)

// Problem is one reason a definition was rejected.
type Problem struct {
	Task    string
	Message string
}

// DefinitionError collects every problem found in a definition.
type DefinitionError struct {
	Workflow string
	Problems []Problem
}

func (e *DefinitionError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		if p.Task == "" {
			parts[i] = p.Message
		} else {
			parts[i] = fmt.Sprintf("task %q: %s", p.Task, p.Message)
		}
	}
	return fmt.Sprintf("workflow %q is invalid: %s", e.Workflow, strings.Join(parts, "; "))
}

func (e *DefinitionError) Is(target error) bool { return target == ErrInvalidDefinition }

// Tasks lists the offending task names without duplicates.
func (e *DefinitionError) Tasks() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range e.Problems {
		if p.Task != "" && !seen[p.Task] {
			seen[p.Task] = true
			out = append(out, p.Task)
		}
	}
	return out
}

func (e *DefinitionError) add(task, format string, args ...any) {
	e.Problems = append(e.Problems, Problem{Task: task, Message: fmt.Sprintf(format, args...)})
}

func (e *DefinitionError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
