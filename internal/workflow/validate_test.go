package workflow

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"
)

// graph builds a definition from "task: dep dep" lines.
func graph(t *testing.T, lines ...string) *Definition {
	t.Helper()
	def := &Definition{Name: "test", Tasks: make(map[string]*TaskSpec)}
	for _, line := range lines {
		name, deps, _ := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		def.Tasks[name] = &TaskSpec{Name: name, Worker: "w", Message: name, DependsOn: strings.Fields(deps)}
		def.Order = append(def.Order, name)
	}
	return def
}

func TestValidateAcceptsDAG(t *testing.T) {
	def := graph(t, "start:", "branchA: start", "branchB: start", "merge: branchA branchB")
	if err := Validate(def, nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateCycles(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		tasks []string
	}{
		{"two node", []string{"a: b", "b: a"}, []string{"a", "b"}},
		{"three node", []string{"a:", "b: a d", "c: b", "d: c"}, []string{"b", "c", "d"}},
		{"self", []string{"a: a"}, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(graph(t, tt.lines...), nil)
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Fatalf("err = %v, want ErrInvalidDefinition", err)
			}
			var de *DefinitionError
			errors.As(err, &de)
			msg := de.Error()
			for _, task := range tt.tasks {
				if !strings.Contains(msg, task) {
					t.Errorf("error %q does not name %s", msg, task)
				}
			}
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	def := graph(t, "a: ghost", "b: a", "c:")
	def.Tasks["b"].Condition = "maybe"
	def.Tasks["c"].Worker = "nobody"

	err := Validate(def, func(name string) bool { return name == "w" })
	var de *DefinitionError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v", err)
	}
	got := de.Tasks()
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Tasks() = %v", got)
	}
	for _, want := range []string{`unknown task "ghost"`, `unknown condition "maybe"`, `worker "nobody" not found`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidateAutoWorkerSkipsLookup(t *testing.T) {
	def := graph(t, "a:")
	def.Tasks["a"].Worker = "auto"
	if err := Validate(def, func(string) bool { return false }); err != nil {
		t.Errorf("auto should not need a registered worker: %v", err)
	}
}

func TestDepthsAndLayers(t *testing.T) {
	def := graph(t, "c: b", "b: a", "a:", "x:", "y: a x c")
	depths := Depths(def)
	want := map[string]int{"a": 0, "x": 0, "b": 1, "c": 2, "y": 3}
	if !reflect.DeepEqual(depths, want) {
		t.Errorf("Depths = %v, want %v", depths, want)
	}
	layers := Layers(def)
	wantLayers := [][]string{{"a", "x"}, {"b"}, {"c"}, {"y"}}
	if !reflect.DeepEqual(layers, wantLayers) {
		t.Errorf("Layers = %v, want %v", layers, wantLayers)
	}
}
