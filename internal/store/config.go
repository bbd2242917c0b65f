package store

import (
	"errors"
	"fmt"
)

// Backends accepted in Config.Backend.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
)

// Config selects the record store backend.
type Config struct {
	// Backend is "memory" or "file". When empty, "file" is used if a data
	// directory is configured and "memory" otherwise.
	Backend string `yaml:"backend"`

	// Dir is the directory holding record files of the file backend.
	// Filled in from the server's data directory when empty.
	Dir string `yaml:"dir"`
}

// ApplyDefaults resolves the backend from the server's data directory.
func (c *Config) ApplyDefaults(dataDir string) {
	if c.Dir == "" {
		c.Dir = dataDir
	}
	if c.Backend == "" {
		if c.Dir != "" {
			c.Backend = BackendFile
		} else {
			c.Backend = BackendMemory
		}
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendFile:
		if c.Dir == "" {
			return errors.New("store: config: Dir is required for the file backend")
		}
		return nil
	default:
		return fmt.Errorf("store: config: unknown Backend %q", c.Backend)
	}
}
