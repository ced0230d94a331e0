package workflow

import (
	"sort"
	"strings"
)

// Validate checks def before anything runs: dependencies exist, the graph
// is acyclic, conditions parse and, when workerExists is non-nil, every
// named worker exists. All problems are returned in one *DefinitionError.
func Validate(def *Definition, workerExists func(string) bool) error {
	derr := &DefinitionError{Workflow: def.Name}
	if len(def.Tasks) == 0 {
		derr.add("", "workflow has no nodes")
		return derr
	}
	checkOrder(def, derr)
	if len(derr.Problems) > 0 {
		return derr
	}
	if def.Timeout != nil && *def.Timeout < 0 {
		derr.add("", "timeout must not be negative")
	}

	for _, name := range def.names() {
		spec := def.Tasks[name]
		if spec.Worker == "" {
			derr.add(name, "node must have a 'worker' field")
		}
		if spec.Timeout < 0 {
			derr.add(name, "timeout must not be negative")
		}
		if spec.Retries != nil && *spec.Retries < 0 {
			derr.add(name, "retries must not be negative")
		}
		for _, dep := range spec.DependsOn {
			if dep == name {
				derr.add(name, "depends on itself")
				continue
			}
			if _, ok := def.Tasks[dep]; !ok {
				derr.add(name, "depends on unknown task %q", dep)
			}
		}
		if _, err := parseCondition(spec.Condition); err != nil {
			derr.add(name, "%v", err)
		}
		if workerExists != nil && spec.Worker != "" && spec.Worker != autoWorker && !workerExists(spec.Worker) {
			derr.add(name, "worker %q not found", spec.Worker)
		}
	}

	for _, cycle := range findCycles(def) {
		derr.Problems = append(derr.Problems, Problem{
			Task:    cycle[0],
			Message: "dependency cycle: " + strings.Join(cycle, " -> "),
		})
	}
	return derr.orNil()
}

// checkOrder reports tasks without a spec and an Order that does not list
// exactly the keys of Tasks.
func checkOrder(def *Definition, derr *DefinitionError) {
	for _, name := range sortedKeys(def.Tasks) {
		if def.Tasks[name] == nil {
			derr.add(name, "node has no definition")
		}
	}
	if len(def.Order) == 0 {
		return
	}
	seen := make(map[string]bool, len(def.Order))
	for _, name := range def.Order {
		if seen[name] {
			derr.add(name, "listed more than once in order")
			continue
		}
		seen[name] = true
		if _, ok := def.Tasks[name]; !ok {
			derr.add(name, "listed in order but not defined")
		}
	}
	for _, name := range sortedKeys(def.Tasks) {
		if !seen[name] {
			derr.add(name, "defined but missing from order")
		}
	}
}

// names is the declaration order, or the sorted task names when the
// definition was built without one.
func (d *Definition) names() []string {
	if len(d.Order) > 0 {
		return d.Order
	}
	return sortedKeys(d.Tasks)
}

func sortedKeys(tasks map[string]*TaskSpec) []string {
	keys := make([]string, 0, len(tasks))
	for k := range tasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const (
	white = iota // unvisited
	grey         // on the DFS stack
	black        // finished
)

// findCycles runs a depth-first search tracking the visited and on-stack
// sets; an edge into the stack closes a cycle. Each cycle is returned as
// the path from its first node back to itself.
func findCycles(def *Definition) [][]string {
	color := make(map[string]int, len(def.Tasks))
	var stack []string
	var cycles [][]string

	var visit func(name string)
	visit = func(name string) {
		color[name] = grey
		stack = append(stack, name)

		deps := append([]string(nil), def.Tasks[name].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := def.Tasks[dep]; !ok || dep == name {
				continue
			}
			switch color[dep] {
			case white:
				visit(dep)
			case grey:
				start := 0
				for i, n := range stack {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append([]string(nil), stack[start:]...)
				cycles = append(cycles, append(cycle, dep))
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
	}

	for _, name := range def.names() {
		if color[name] == white {
			visit(name)
		}
	}
	return cycles
}

// Depths gives roots depth 0 and every other task 1 + the deepest of its
// dependencies. def must be valid.
func Depths(def *Definition) map[string]int {
	depths := make(map[string]int, len(def.Tasks))
	var depth func(string) int
	depth = func(name string) int {
		if d, ok := depths[name]; ok {
			return d
		}
		d := 0
		for _, dep := range def.Tasks[name].DependsOn {
			if dd := depth(dep) + 1; dd > d {
				d = dd
			}
		}
		depths[name] = d
		return d
	}
	for _, name := range def.names() {
		depth(name)
	}
	return depths
}

// Layers groups tasks by depth, in declaration order within a layer.
func Layers(def *Definition) [][]string {
	depths := Depths(def)
	var layers [][]string
	for _, name := range def.names() {
		d := depths[name]
		for len(layers) <= d {
			layers = append(layers, nil)
		}
		layers[d] = append(layers[d], name)
	}
	return layers
}
