// internal/agents/registry.go
package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrWorkerNotFound is returned for names with no worker directory.
var ErrWorkerNotFound = errors.New("worker not found")

// WorkersDir is the directory under the project root holding one
// subdirectory per worker.
const WorkersDir = "workers"

// Registry reads worker profiles from disk on every call, so edits to a
// worker take effect on the next task.
type Registry struct {
	dir          string
	defaultLevel int
}

// NewRegistry reads workers from projectDir/workers.
func NewRegistry(projectDir string) *Registry {
	return &Registry{dir: filepath.Join(projectDir, WorkersDir), defaultLevel: 1}
}

type workerConfig struct {
	Level int    `yaml:"level"`
	Tier  string `yaml:"tier"`
	Model string `yaml:"model"`
}

type skillsFile struct {
	Role   string       `yaml:"role"`
	Skills []skillEntry `yaml:"skills"`
}

// skillEntry accepts either "name" or {name: ...}.
type skillEntry string

func (s *skillEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = skillEntry(node.Value)
		return nil
	}
	var m struct {
		Name string `yaml:"name"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	*s = skillEntry(m.Name)
	return nil
}

type performanceEntry struct {
	Rating *float64 `json:"rating"`
}

// Exists reports whether name has a worker directory.
func (r *Registry) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(r.dir, name))
	return err == nil && info.IsDir()
}

// Resolve loads the profile of name.
func (r *Registry) Resolve(name string) (Profile, error) {
	if err := ValidateName(name); err != nil {
		return Profile{}, err
	}
	dir := filepath.Join(r.dir, name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return Profile{}, fmt.Errorf("%w: %s", ErrWorkerNotFound, name)
	}

	p := Profile{Name: name, Level: r.defaultLevel}

	var cfg workerConfig
	if err := readYAML(filepath.Join(dir, "config.yaml"), &cfg); err != nil {
		return Profile{}, fmt.Errorf("worker %s: %w", name, err)
	}
	if cfg.Level > 0 {
		p.Level = cfg.Level
	}
	p.Tier = TierForLevel(p.Level)
	if cfg.Tier != "" {
		p.Tier = cfg.Tier
	}
	p.Model = cfg.Model

	var skills skillsFile
	if err := readYAML(filepath.Join(dir, "skills.yaml"), &skills); err != nil {
		return Profile{}, fmt.Errorf("worker %s: %w", name, err)
	}
	p.Role = skills.Role
	for _, s := range skills.Skills {
		if s != "" {
			p.Skills = append(p.Skills, string(s))
		}
	}

	if data, err := os.ReadFile(filepath.Join(dir, "profile.md")); err == nil {
		p.SystemPrompt = strings.TrimSpace(string(data))
	} else {
		p.SystemPrompt = "Worker: " + name
	}

	p.AvgRating, p.RatedCount = readPerformance(filepath.Join(dir, "performance.json"))
	return p, nil
}

// List resolves every worker, sorted by name. Unreadable workers are
// skipped.
func (r *Registry) List() ([]Profile, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Profile
	for _, n := range names {
		p, err := r.Resolve(n)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// readYAML leaves v untouched when path does not exist.
func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readPerformance(path string) (float64, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0
	}
	var entries []performanceEntry
	if json.Unmarshal(data, &entries) != nil {
		return 0, 0
	}
	var sum float64
	var n int
	for _, e := range entries {
		if e.Rating != nil {
			sum += *e.Rating
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
