// internal/config/config.go
// Package config loads the project charter (charter.yaml) that every core
// component is constructed from.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// CharterFile is the configuration file name inside a project directory.
const CharterFile = "charter.yaml"

// DataDirName holds every store collection for a project.
const DataDirName = "data"

// ErrConfig is matched by every *ConfigError.
var ErrConfig = errors.New("config error")

// ConfigError describes an invalid or missing configuration, with an
// optional hint for the user.
type ConfigError struct {
	Message    string
	Suggestion string
}

func (e *ConfigError) Error() string {
	if e.Suggestion == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Suggestion)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// Config is the parsed charter.
type Config struct {
	Project  Project  `yaml:"project"`
	Budget   Budget   `yaml:"budget"`
	Models   Models   `yaml:"models"`
	Dispatch Dispatch `yaml:"dispatch"`
	Workflow Workflow `yaml:"workflow"`
	Logging  Logging  `yaml:"logging"`
	Events   Events   `yaml:"events"`

	// Dir is the project directory the charter was loaded from.
	Dir string `yaml:"-"`

	// APIKey is taken from OPENROUTER_API_KEY, never from the charter.
	APIKey string `yaml:"-"`
}

// Project identifies the deployment.
type Project struct {
	Name    string `yaml:"name"`
	Owner   string `yaml:"owner"`
	Mission string `yaml:"mission"`
}

// Budget is the daily spending ceiling and its graduated thresholds.
type Budget struct {
	DailyLimit float64    `yaml:"daily_limit"`
	Currency   string     `yaml:"currency"`
	Thresholds Thresholds `yaml:"thresholds"`
}

// Thresholds are fractions of the daily limit at which the budget status
// escalates. They must be strictly increasing.
type Thresholds struct {
	Caution   float64 `yaml:"caution"`
	Austerity float64 `yaml:"austerity"`
	Critical  float64 `yaml:"critical"`
	Frozen    float64 `yaml:"frozen"`
}

// DefaultThresholds returns 60/80/95/100 percent.
func DefaultThresholds() Thresholds {
	return Thresholds{Caution: 0.60, Austerity: 0.80, Critical: 0.95, Frozen: 1.00}
}

// Validate checks that thresholds are positive and strictly increasing.
func (t Thresholds) Validate() error {
	steps := []struct {
		name  string
		value float64
	}{
		{"caution", t.Caution},
		{"austerity", t.Austerity},
		{"critical", t.Critical},
		{"frozen", t.Frozen},
	}
	prev := 0.0
	for _, s := range steps {
		if s.value <= prev {
			return &ConfigError{
				Message:    fmt.Sprintf("budget.thresholds.%s must be greater than %.2f, got %.2f", s.name, prev, s.value),
				Suggestion: "thresholds must increase: caution < austerity < critical < frozen",
			}
		}
		prev = s.value
	}
	return nil
}

// Models groups backend tiers.
type Models struct {
	// Order lists tiers from most to least expensive.
	Order []string        `yaml:"order"`
	Tiers map[string]Tier `yaml:"tiers"`
}

// Tier is an ordered list of interchangeable backends sharing a cost class.
type Tier struct {
	Name        string   `yaml:"-"`
	Models      []string `yaml:"models"`
	Description string   `yaml:"for"`
}

// Backends returns the backend IDs of tier name, or nil when unknown.
func (m Models) Backends(name string) []string {
	t, ok := m.Tiers[name]
	if !ok {
		return nil
	}
	return t.Models
}

// Dispatch configures retry, backoff and rate limiting for backend calls.
type Dispatch struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	RateLimit  float64       `yaml:"rate_limit"`
	Burst      int           `yaml:"burst"`
	// RequestTimeout bounds a single HTTP call to a backend.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// OllamaURL serves backend IDs prefixed "ollama/".
	OllamaURL string `yaml:"ollama_url"`
}

// Workflow holds engine defaults. Timeouts are in seconds, 0 = unlimited
// for the whole-graph timeout.
type Workflow struct {
	MaxWorkers  int `yaml:"max_workers"`
	TaskTimeout int `yaml:"task_timeout"`
	TaskRetries int `yaml:"task_retries"`
	Timeout     int `yaml:"timeout"`
	OutputLimit int `yaml:"output_limit"`
	// Selector picks executors for "auto" tasks: skill_match, round_robin
	// or fixed:<name>.
	Selector string `yaml:"selector"`
}

// Logging configures internal/logging.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Events configures the optional Redis event sink.
type Events struct {
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
}

// Load reads charter.yaml from projectDir, applies defaults and environment
// overrides, and validates the result.
func Load(projectDir string) (*Config, error) {
	path := filepath.Join(projectDir, CharterFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigError{
				Message:    fmt.Sprintf("%s not found in %s", CharterFile, projectDir),
				Suggestion: "create a charter.yaml with project and budget sections",
			}
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		abs = projectDir
	}
	cfg.Dir = abs
	return cfg, nil
}

// Parse decodes a charter document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("invalid YAML in %s: %v", CharterFile, err)}
	}
	// Probe for presence; a zero daily_limit is legal (it freezes spending).
	var probe struct {
		Budget *struct {
			DailyLimit *float64 `yaml:"daily_limit"`
		} `yaml:"budget"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("invalid YAML in %s: %v", CharterFile, err)}
	}

	if cfg.Project.Name == "" {
		return nil, &ConfigError{
			Message:    "charter.yaml project.name is required",
			Suggestion: "add a project section with name, owner and mission",
		}
	}
	if probe.Budget == nil {
		return nil, &ConfigError{
			Message:    "charter.yaml missing 'budget' section",
			Suggestion: "add a budget section with daily_limit",
		}
	}
	if probe.Budget.DailyLimit == nil {
		return nil, &ConfigError{
			Message:    "charter.yaml budget.daily_limit is required",
			Suggestion: "add daily_limit to the budget section",
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Budget.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.Dispatch.MaxRetries < 0 {
		return nil, &ConfigError{Message: "dispatch.max_retries must not be negative"}
	}
	if cfg.Dispatch.MaxDelay < cfg.Dispatch.BaseDelay {
		return nil, &ConfigError{Message: "dispatch.max_delay must be >= dispatch.base_delay"}
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Budget.Currency == "" {
		c.Budget.Currency = "USD"
	}
	if c.Budget.Thresholds == (Thresholds{}) {
		c.Budget.Thresholds = DefaultThresholds()
	}
	if len(c.Models.Order) == 0 {
		c.Models.Order = []string{"premium", "mid", "cheap"}
	}
	for name, tier := range c.Models.Tiers {
		tier.Name = name
		c.Models.Tiers[name] = tier
	}
	if c.Dispatch.BaseDelay == 0 {
		c.Dispatch.BaseDelay = time.Second
	}
	if c.Dispatch.MaxDelay == 0 {
		c.Dispatch.MaxDelay = 30 * time.Second
	}
	if c.Dispatch.RequestTimeout == 0 {
		c.Dispatch.RequestTimeout = 60 * time.Second
	}
	if c.Workflow.MaxWorkers <= 0 {
		c.Workflow.MaxWorkers = 4
	}
	if c.Workflow.TaskTimeout <= 0 {
		c.Workflow.TaskTimeout = 300
	}
	if c.Workflow.OutputLimit <= 0 {
		c.Workflow.OutputLimit = 2000
	}
	if c.Workflow.Selector == "" {
		c.Workflow.Selector = "skill_match"
	}
	if c.Dispatch.OllamaURL == "" {
		c.Dispatch.OllamaURL = "http://localhost:11434"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) applyEnv() {
	c.APIKey = os.Getenv("OPENROUTER_API_KEY")
	if v := os.Getenv("CORP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CORP_REDIS_URL"); v != "" {
		c.Events.RedisURL = v
	}
}

// DataDir is where store collections live.
func (c *Config) DataDir() string {
	return filepath.Join(c.Dir, DataDirName)
}

// DataPath joins name onto DataDir.
func (c *Config) DataPath(name string) string {
	return filepath.Join(c.DataDir(), name)
}

// TaskTimeoutDuration returns the default per-task timeout.
func (w Workflow) TaskTimeoutDuration() time.Duration {
	return time.Duration(w.TaskTimeout) * time.Second
}
