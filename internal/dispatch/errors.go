package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoBackendAvailable is matched by every *UnavailableError.
var ErrNoBackendAvailable = errors.New("no backend available")

// Attempt is the last failure seen on one candidate.
type Attempt struct {
	Backend string
	Err     error
}

// UnavailableError reports that every candidate failed.
type UnavailableError struct {
	Tier     string
	Attempts []Attempt
}

func (e *UnavailableError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("no backend available for tier %q: no candidates configured", e.Tier)
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Backend, a.Err)
	}
	return fmt.Sprintf("no backend available for tier %q, tried %s", e.Tier, strings.Join(parts, "; "))
}

func (e *UnavailableError) Is(target error) bool { return target == ErrNoBackendAvailable }

// Tried lists the candidates in the order they were attempted.
func (e *UnavailableError) Tried() []string {
	out := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Backend
	}
	return out
}
