package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"workload/internal/domain"
)

// Config models workload.yml.
type Config struct {
	NominalWeekHours float64                 `yaml:"nominal_week_hours" json:"nominal_week_hours"`
	ActiveStatuses   []domain.WorkItemStatus `yaml:"active_statuses" json:"active_statuses"`
	Weights          WeightSeed              `yaml:"weights" json:"weights"`
	Server           struct {
		Addr     string `yaml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" json:"base_path"`
	} `yaml:"server" json:"server"`
}

// WeightSeed holds raw weight rows keyed by category then key. Values stay
// strings so the resolver decides what parses.
type WeightSeed struct {
	EffortSize map[string]string `yaml:"effort_size" json:"effort_size"`
	Role       map[string]string `yaml:"role_weight" json:"role_weight"`
	WorkType   map[string]string `yaml:"work_type_weight" json:"work_type_weight"`
	Phase      map[string]string `yaml:"phase_weight" json:"phase_weight"`
}

// Rows flattens the seed into weight config rows in a stable order.
func (w WeightSeed) Rows() []domain.WeightConfig {
	var rows []domain.WeightConfig
	add := func(cat domain.WeightCategory, m map[string]string) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rows = append(rows, domain.WeightConfig{Category: cat, Key: k, Value: m[k]})
		}
	}
	add(domain.CategoryEffortSize, w.EffortSize)
	add(domain.CategoryRole, w.Role)
	add(domain.CategoryWorkType, w.WorkType)
	add(domain.CategoryPhase, w.Phase)
	return rows
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.NominalWeekHours <= 0 {
		return fmt.Errorf("config.nominal_week_hours must be positive")
	}
	if len(c.ActiveStatuses) == 0 {
		return fmt.Errorf("config.active_statuses is required")
	}
	for _, s := range c.ActiveStatuses {
		if !s.Valid() {
			return fmt.Errorf("config.active_statuses contains unknown status %q", s)
		}
		if s == domain.StatusDeleted {
			return fmt.Errorf("config.active_statuses cannot include %q", domain.StatusDeleted)
		}
	}
	for size := range c.Weights.EffortSize {
		if !domain.ValidEffortSize(size) {
			return fmt.Errorf("weights.effort_size has unknown size %q", size)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "workload.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with wk config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted fields
// take their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	seed := cfg.Weights
	cfg.Weights = WeightSeed{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Weights.EffortSize == nil && cfg.Weights.Role == nil && cfg.Weights.WorkType == nil && cfg.Weights.Phase == nil {
		cfg.Weights = seed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// IsActive reports whether a work item in status s counts toward planned hours.
func (c *Config) IsActive(s domain.WorkItemStatus) bool {
	if s == domain.StatusDeleted {
		return false
	}
	for _, a := range c.ActiveStatuses {
		if a == s {
			return true
		}
	}
	return false
}

const defaultTemplate = `nominal_week_hours: 40

active_statuses:
  - Not Started
  - Planning
  - In Progress
  - On Hold

weights:
  effort_size:
    XS: "0.5"
    S: "1.5"
    M: "3.5"
    L: "7"
    XL: "12"
  role_weight:
    Primary: "1.2"
    Secondary: "0.6"
    Support: "0.3"
  work_type_weight:
    System Initiative: "1.0"
    Epic: "1.1"
    Policy: "0.8"
    Ticket: "0.5"
  phase_weight:
    Discovery: "0.8"
    Design: "1.0"
    Build: "1.2"
    Validation: "1.0"
    Deployment: "1.1"
    Maintenance: "0.5"

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
