// Package server wires the NAT checker components into a runnable service.
package server

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/plexsphere/natcheck/internal/metrics"
	"github.com/plexsphere/natcheck/internal/natcheck"
	"github.com/plexsphere/natcheck/internal/store"
)

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// Config is the top-level configuration of the NAT checker server.
// It aggregates all subsystem configurations and is populated from a YAML
// configuration file via ParseConfig.
type Config struct {
	// LogLevel is the log level: "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// DataDir is the directory for persistent server data. When empty,
	// records are kept in memory only.
	DataDir string `yaml:"data_dir"`

	NATCheck natcheck.Config `yaml:"natcheck"`
	Store    store.Config    `yaml:"store"`
	Metrics  metrics.Config  `yaml:"metrics"`
}

// DefaultConfig returns the configuration used when no file sets a value.
func DefaultConfig() Config {
	return Config{
		NATCheck: natcheck.DefaultConfig(),
		Metrics:  metrics.Config{Enabled: true},
	}
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.NATCheck.ApplyDefaults()
	c.Store.ApplyDefaults(c.DataDir)
	c.Metrics.ApplyDefaults()
}

// Validate checks that required fields are set and values are acceptable.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server: config: invalid log level %q", c.LogLevel)
	}
	if err := c.NATCheck.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	return nil
}

// ReadConfig reads a YAML configuration file on top of DefaultConfig
// without applying defaults or validating. An empty path yields
// DefaultConfig.
func ReadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server: config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("server: config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ParseConfig reads a YAML configuration file and returns a Config.
// It applies defaults and validates the configuration.
func ParseConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("server: config: path is required")
	}
	cfg, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
