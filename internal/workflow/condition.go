package workflow

import (
	"fmt"
	"strings"
)

const autoWorker = "auto"

const containsPrefix = "contains:"

// condition decides whether a task with dependencies runs.
type condition struct {
	keyword string // empty means "success"
}

func parseCondition(s string) (condition, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == "success":
		return condition{}, nil
	case strings.HasPrefix(s, containsPrefix):
		kw := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, containsPrefix)))
		if kw == "" {
			return condition{}, fmt.Errorf("condition %q has an empty keyword", s)
		}
		return condition{keyword: kw}, nil
	default:
		return condition{}, fmt.Errorf("unknown condition %q (use \"success\" or \"contains:<keyword>\")", s)
	}
}

// met evaluates the condition over the dependency results. "success"
// needs every dependency succeeded; "contains:" needs any dependency
// output to hold the keyword, whatever that dependency's status.
func (c condition) met(deps []string, results map[string]TaskResult) bool {
	if c.keyword == "" {
		for _, d := range deps {
			if results[d].Status != TaskSucceeded {
				return false
			}
		}
		return true
	}
	for _, d := range deps {
		if strings.Contains(strings.ToLower(results[d].Output), c.keyword) {
			return true
		}
	}
	return false
}
