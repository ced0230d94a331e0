// internal/workflow/definition.go
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TaskSpec is one node of a definition.
type TaskSpec struct {
	Name      string   `yaml:"-"`
	Worker    string   `yaml:"worker"`
	Message   string   `yaml:"message"`
	DependsOn []string `yaml:"depends_on"`
	Condition string   `yaml:"condition"`
	// Timeout is in seconds; 0 takes the engine default.
	Timeout int `yaml:"timeout"`
	// Retries is nil when the definition leaves it to the engine default.
	Retries *int `yaml:"retries"`
}

// Definition is a parsed workflow file.
type Definition struct {
	Name        string
	Description string
	// Timeout bounds the whole run in seconds; 0 is unlimited. Nil takes
	// the engine default.
	Timeout *int
	Tasks   map[string]*TaskSpec
	// Order is the declaration order of Tasks.
	Order []string
}

type definitionFile struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Timeout     *int      `yaml:"timeout"`
	Nodes       yaml.Node `yaml:"nodes"`
}

// LoadDefinition reads a workflow YAML file. The file name (without
// extension) is the fallback workflow name.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &DefinitionError{
				Workflow: path,
				Problems: []Problem{{Message: "workflow file not found"}},
			}
		}
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ParseDefinition(data, stem)
}

// ParseDefinition decodes a workflow document. Structural problems are
// reported as a *DefinitionError; graph checks are left to Validate.
func ParseDefinition(data []byte, fallbackName string) (*Definition, error) {
	var f definitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &DefinitionError{
			Workflow: fallbackName,
			Problems: []Problem{{Message: fmt.Sprintf("invalid YAML: %v", err)}},
		}
	}

	def := &Definition{
		Name:        f.Name,
		Description: f.Description,
		Timeout:     f.Timeout,
		Tasks:       make(map[string]*TaskSpec),
	}
	if def.Name == "" {
		def.Name = fallbackName
	}

	derr := &DefinitionError{Workflow: def.Name}
	if def.Timeout != nil && *def.Timeout < 0 {
		derr.add("", "timeout must not be negative")
	}
	if f.Nodes.Kind != yaml.MappingNode || len(f.Nodes.Content) == 0 {
		derr.add("", "workflow has no nodes")
		return nil, derr
	}

	for i := 0; i+1 < len(f.Nodes.Content); i += 2 {
		name := f.Nodes.Content[i].Value
		var spec TaskSpec
		if err := f.Nodes.Content[i+1].Decode(&spec); err != nil {
			derr.add(name, "invalid node: %v", err)
			continue
		}
		if spec.Worker == "" {
			derr.add(name, "node must have a 'worker' field")
		}
		if spec.Timeout < 0 {
			derr.add(name, "timeout must not be negative")
		}
		if spec.Retries != nil && *spec.Retries < 0 {
			derr.add(name, "retries must not be negative")
		}
		if _, dup := def.Tasks[name]; dup {
			derr.add(name, "defined more than once")
			continue
		}
		spec.Name = name
		def.Tasks[name] = &spec
		def.Order = append(def.Order, name)
	}
	if err := derr.orNil(); err != nil {
		return nil, err
	}
	return def, nil
}
