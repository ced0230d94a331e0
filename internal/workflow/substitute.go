package workflow

import (
	"fmt"
	"regexp"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_-]+)\.output\}`)

// substitute replaces {task.output} with that task's recorded output,
// truncated to limit characters. Tasks without a result yet are marked
// as unavailable rather than left as raw placeholders.
func substitute(message string, outputs map[string]string, limit int) string {
	return placeholder.ReplaceAllStringFunc(message, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		out, ok := outputs[name]
		if !ok {
			return fmt.Sprintf("{{ %s.output not available }}", name)
		}
		return truncate(out, limit)
	})
}

// truncate cuts s to at most limit characters. limit <= 0 disables it.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
