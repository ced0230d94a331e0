// internal/agents/profile.go
// Package agents resolves executor names to the tier and model their calls
// run on, and picks an executor for "auto" tasks.
package agents

import (
	"fmt"
	"regexp"
)

// Tier names an executor can map to.
const (
	TierCheap   = "cheap"
	TierMid     = "mid"
	TierPremium = "premium"
)

// Auto is the wildcard executor name resolved through a Selector.
const Auto = "auto"

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// ValidateName rejects names that cannot be used as a worker directory.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid worker name %q: use letters, digits, '-' or '_' (max 64)", name)
	}
	return nil
}

// Profile is everything the core needs to know about one executor.
type Profile struct {
	Name   string
	Level  int
	Tier   string
	Model  string
	Role   string
	Skills []string

	// SystemPrompt is sent ahead of every message the executor handles.
	SystemPrompt string

	AvgRating  float64
	RatedCount int
}

// TierForLevel maps seniority to a tier: 1-2 cheap, 3 mid, 4-5 premium.
func TierForLevel(level int) string {
	switch {
	case level >= 4:
		return TierPremium
	case level == 3:
		return TierMid
	default:
		return TierCheap
	}
}
