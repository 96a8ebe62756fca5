package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses an orchestrator configuration from the given YAML
// file path. After parsing, it applies defaults to stages that don't specify
// their own values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for an orchestrator config in standard locations and
// loads the first one found. Search order: ./stagecoach.yaml,
// ~/.stagecoach/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"stagecoach.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".stagecoach", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no orchestrator config found (searched: %v)", candidates)
}

// applyDefaults merges orchestrator-level defaults into stages that don't set
// their own values and fills in baseline retry/breaker/server settings.
func applyDefaults(cfg *Config) {
	o := &cfg.Orchestrator

	if o.Defaults.Retry.MaxAttempts <= 0 {
		o.Defaults.Retry.MaxAttempts = 3
	}
	if o.Defaults.Breaker.FailureThreshold <= 0 {
		o.Defaults.Breaker.FailureThreshold = 5
	}
	if o.Defaults.Breaker.SuccessThreshold <= 0 {
		o.Defaults.Breaker.SuccessThreshold = 1
	}
	if o.Server.Port <= 0 {
		o.Server.Port = 8080
	}
	if o.Checkpoints.Storage == "" {
		o.Checkpoints.Storage = "memory"
	}

	for i := range o.Stages {
		s := &o.Stages[i]

		if s.Mode == "" && o.Defaults.Mode != "" {
			s.Mode = o.Defaults.Mode
		}
		if s.Timeout == "" && o.Defaults.Timeout != "" {
			s.Timeout = o.Defaults.Timeout
		}
	}
}
