package workflow

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseCondition(t *testing.T) {
	for _, ok := range []string{"", "success", " success ", "contains:buy", "contains: Buy Now"} {
		if _, err := parseCondition(ok); err != nil {
			t.Errorf("parseCondition(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"failure", "contains:", "contains:   ", "always"} {
		if _, err := parseCondition(bad); err == nil {
			t.Errorf("parseCondition(%q) should fail", bad)
		}
	}
}

func TestConditionMet(t *testing.T) {
	results := map[string]TaskResult{
		"ok":     {Status: TaskSucceeded, Output: "Recommendation: BUY now"},
		"hold":   {Status: TaskSucceeded, Output: "hold"},
		"failed": {Status: TaskFailed, Output: "partial: buy signal"},
		"skip":   {Status: TaskSkipped},
	}
	success, _ := parseCondition("success")
	buy, _ := parseCondition("contains:buy")

	tests := []struct {
		name string
		cond condition
		deps []string
		want bool
	}{
		{"all succeeded", success, []string{"ok", "hold"}, true},
		{"one failed", success, []string{"ok", "failed"}, false},
		{"one skipped", success, []string{"skip"}, false},
		{"keyword case-insensitive", buy, []string{"ok"}, true},
		{"keyword absent", buy, []string{"hold"}, false},
		{"any dependency", buy, []string{"hold", "ok"}, true},
		{"failed dependency output", buy, []string{"failed"}, true},
	}
	for _, tt := range tests {
		if got := tt.cond.met(tt.deps, results); got != tt.want {
			t.Errorf("%s: met = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSubstitute(t *testing.T) {
	outputs := map[string]string{"a": "alpha", "long-one": strings.Repeat("x", 5000), "empty": ""}

	got := substitute("A={a} B={a.output} C={long-one.output} D={missing.output} E={empty.output}", outputs, 2000)
	if !strings.HasPrefix(got, "A={a} B=alpha C=") {
		t.Errorf("prefix = %q", got[:30])
	}
	if strings.Count(got, "x") != 2000 {
		t.Errorf("substituted %d chars of long output, want 2000", strings.Count(got, "x"))
	}
	if !strings.Contains(got, "D={{ missing.output not available }}") {
		t.Error("missing output should be marked unavailable")
	}
	if !strings.HasSuffix(got, "E=") {
		t.Errorf("empty output should substitute as empty: %q", got[len(got)-10:])
	}
}

func TestTruncateCountsCharacters(t *testing.T) {
	s := strings.Repeat("é", 10)
	got := truncate(s, 4)
	if utf8.RuneCountInString(got) != 4 || !utf8.ValidString(got) {
		t.Errorf("truncate = %q", got)
	}
	if truncate("short", 10) != "short" || truncate("abc", 0) != "abc" {
		t.Error("short strings and zero limit must pass through")
	}
}
