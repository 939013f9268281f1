package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models fleetline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Dispatch struct {
		// Capacity is the maximum concurrent order load per partner.
		Capacity int `yaml:"capacity"`
		// RecentAssignments caps the dashboard's recent-assignment list.
		RecentAssignments int `yaml:"recent_assignments"`
	} `yaml:"dispatch"`
	// Areas is the optional service-area vocabulary. When non-empty, partner
	// and order areas must be members.
	Areas []string `yaml:"areas"`
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Dispatch.Capacity < 1 {
		return fmt.Errorf("config.dispatch.capacity must be at least 1")
	}
	if c.Dispatch.RecentAssignments < 1 {
		return fmt.Errorf("config.dispatch.recent_assignments must be at least 1")
	}
	seen := map[string]bool{}
	for _, a := range c.Areas {
		if a == "" {
			return fmt.Errorf("config.areas contains an empty area name")
		}
		if seen[a] {
			return fmt.Errorf("config.areas contains duplicate area %s", a)
		}
		seen[a] = true
	}
	return nil
}

// KnownArea reports whether area is allowed under the configured vocabulary.
// An empty catalog accepts any area.
func (c *Config) KnownArea(area string) bool {
	if len(c.Areas) == 0 {
		return true
	}
	for _, a := range c.Areas {
		if a == area {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fleetline.yml")
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted fields
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
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

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

dispatch:
  capacity: 3
  recent_assignments: 5

areas: []
`
