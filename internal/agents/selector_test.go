package agents

import "testing"

func TestSkillMatch(t *testing.T) {
	candidates := []Profile{
		{Name: "writer", Level: 1, Skills: []string{"copywriting", "blog posts"}},
		{Name: "analyst", Level: 1, Role: "stock analyst", Skills: []string{"research"}},
		{Name: "senior", Level: 5},
	}

	name, ok := SkillMatch{}.Select(candidates, "Research the stock market")
	if !ok || name != "analyst" {
		t.Errorf("Select = %q, %v, want analyst", name, ok)
	}

	// Without skill overlap seniority decides.
	name, _ = SkillMatch{}.Select(candidates, "unrelated chores")
	if name != "senior" {
		t.Errorf("Select = %q, want senior", name)
	}

	if _, ok := (SkillMatch{}).Select(nil, "x"); ok {
		t.Error("no candidates should not select")
	}
}

func TestScoreUsesRatings(t *testing.T) {
	words := wordSet("anything")
	unrated := Score(Profile{Level: 1}, words)
	great := Score(Profile{Level: 1, AvgRating: 5, RatedCount: 3}, words)
	if great <= unrated {
		t.Errorf("rated 5 score %v should beat unrated %v", great, unrated)
	}
	// 0.35 * 0.5 + 0.15 * 0.04
	if want := 0.181; unrated < want-1e-9 || unrated > want+1e-9 {
		t.Errorf("unrated score = %v, want %v", unrated, want)
	}
}

func TestRoundRobin(t *testing.T) {
	c := []Profile{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	rr := &RoundRobin{}
	var got []string
	for i := 0; i < 4; i++ {
		n, _ := rr.Select(c, "")
		got = append(got, n)
	}
	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence = %v, want %v", got, want)
		}
	}
	if _, ok := rr.Select(nil, ""); ok {
		t.Error("empty candidates should not select")
	}
}

func TestFixedAndSelectorByName(t *testing.T) {
	c := []Profile{{Name: "a"}, {Name: "b"}}
	if n, ok := (Fixed{Name: "b"}).Select(c, ""); !ok || n != "b" {
		t.Errorf("Fixed = %q %v", n, ok)
	}
	if _, ok := (Fixed{Name: "z"}).Select(c, ""); ok {
		t.Error("Fixed should fail for absent worker")
	}

	if _, ok := SelectorByName("round_robin").(*RoundRobin); !ok {
		t.Error("round_robin should build RoundRobin")
	}
	if f, ok := SelectorByName("fixed:b").(Fixed); !ok || f.Name != "b" {
		t.Error("fixed:b should build Fixed{b}")
	}
	if _, ok := SelectorByName("").(SkillMatch); !ok {
		t.Error("default should be SkillMatch")
	}
}
