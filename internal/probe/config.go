// Package probe runs the client side of the NAT classification protocol.
package probe

import (
	"errors"
	"time"

	"github.com/plexsphere/natcheck/internal/transport"
)

// DefaultConnectRetries is the default number of extra attempts per connect.
const DefaultConnectRetries = 3

// DefaultDrainTimeout bounds how long a server filter probe is held open.
const DefaultDrainTimeout = 2 * time.Second

// Config holds the parameters of a client check.
type Config struct {
	// Server is the server's main address.
	// Required.
	Server transport.Address

	// Local is the address every connection of the check is made from and
	// filter probes are accepted on.
	// Required.
	Local transport.Address

	// Announce is the local address reported to the server.
	// Default: Local
	Announce transport.Address

	// Identifier names this client in the server's records.
	// Required.
	Identifier string

	// ConnectRetries is the number of extra attempts per connect. Zero makes
	// a single attempt; the CLI passes DefaultConnectRetries.
	ConnectRetries int

	// DialTimeout bounds a single connect attempt.
	// Default: 2s
	DialTimeout time.Duration

	// RetryInterval is the pause between connect attempts.
	// Default: 500ms
	RetryInterval time.Duration

	// DrainTimeout bounds how long an accepted filter probe is held open
	// waiting for the server to close it.
	// Default: 2s
	DrainTimeout time.Duration
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Announce.IsZero() {
		c.Announce = c.Local
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = transport.DefaultDialTimeout
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = transport.DefaultRetryInterval
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.IP == "" || c.Server.Port == 0 {
		return errors.New("probe: config: Server is required")
	}
	if c.Local.IP == "" || c.Local.Port == 0 {
		return errors.New("probe: config: Local is required")
	}
	if c.Identifier == "" {
		return errors.New("probe: config: Identifier is required")
	}
	if c.ConnectRetries < 0 {
		return errors.New("probe: config: ConnectRetries must not be negative")
	}
	if c.DialTimeout <= 0 {
		return errors.New("probe: config: DialTimeout must be positive")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("probe: config: DrainTimeout must be positive")
	}
	return nil
}
