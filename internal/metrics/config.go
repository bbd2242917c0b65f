// Package metrics counts classification session outcomes and reports them
// periodically.
package metrics

import (
	"errors"
	"time"
)

// DefaultReportInterval is the default interval between snapshot reports.
const DefaultReportInterval = 60 * time.Second

// MinReportInterval is the smallest accepted report interval.
const MinReportInterval = time.Second

// Config holds the configuration for metrics reporting.
type Config struct {
	// Enabled controls whether snapshots are reported. Counting always happens.
	Enabled bool `yaml:"enabled"`

	// ReportInterval is the interval between snapshot reports.
	// Default: 60s. Must be at least 1s.
	ReportInterval time.Duration `yaml:"report_interval"`
}

// ApplyDefaults sets default values for zero-valued fields.
// Enabled is left untouched; callers that want reporting on by default set
// it before decoding user configuration.
func (c *Config) ApplyDefaults() {
	if c.ReportInterval == 0 {
		c.ReportInterval = DefaultReportInterval
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ReportInterval < MinReportInterval {
		return errors.New("metrics: config: ReportInterval must be at least 1s")
	}
	return nil
}
