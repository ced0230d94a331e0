package agents

import (
	"strings"
	"sync"
)

// Selector picks the executor for a task description from candidates.
// ok is false when none fits.
type Selector interface {
	Select(candidates []Profile, task string) (name string, ok bool)
}

// SkillMatch scores candidates on skill overlap with the task words (50%),
// average rating (35%, neutral 0.5 when unrated) and seniority (15%).
type SkillMatch struct{}

// Select implements Selector. Ties go to the earliest candidate.
func (SkillMatch) Select(candidates []Profile, task string) (string, bool) {
	taskWords := wordSet(task)
	best, bestScore := "", -1.0
	for _, c := range candidates {
		score := Score(c, taskWords)
		if score > bestScore {
			best, bestScore = c.Name, score
		}
	}
	return best, best != ""
}

// Score is the SkillMatch score of p for a set of lower-cased task words.
func Score(p Profile, taskWords map[string]bool) float64 {
	skillWords := make(map[string]bool)
	for _, s := range p.Skills {
		for w := range wordSet(s) {
			skillWords[w] = true
		}
	}
	for w := range wordSet(p.Role) {
		skillWords[w] = true
	}

	var skill float64
	if len(skillWords) > 0 && len(taskWords) > 0 {
		hits := 0
		for w := range taskWords {
			if skillWords[w] {
				hits++
			}
		}
		skill = float64(hits) / float64(len(taskWords))
	}

	perf := 0.5
	if p.RatedCount > 0 {
		perf = p.AvgRating / 5.0
	}
	seniority := float64(p.Level) * 0.04

	return skill*0.5 + perf*0.35 + seniority*0.15
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}

// RoundRobin cycles through candidates in order.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

// Select implements Selector.
func (r *RoundRobin) Select(candidates []Profile, _ string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := candidates[r.next%len(candidates)].Name
	r.next++
	return name, true
}

// Fixed always picks Name when it is among the candidates.
type Fixed struct {
	Name string
}

// Select implements Selector.
func (f Fixed) Select(candidates []Profile, _ string) (string, bool) {
	for _, c := range candidates {
		if c.Name == f.Name {
			return f.Name, true
		}
	}
	return "", false
}

// SelectorByName returns the strategy for a charter setting. Unknown names
// fall back to SkillMatch.
func SelectorByName(name string) Selector {
	switch {
	case name == "round_robin":
		return &RoundRobin{}
	case strings.HasPrefix(name, "fixed:"):
		return Fixed{Name: strings.TrimPrefix(name, "fixed:")}
	default:
		return SkillMatch{}
	}
}
