// Package natcheck classifies the NAT in front of a client by running a
// multi-round TCP probing protocol from two server addresses.
package natcheck

import (
	"errors"
	"time"

	"github.com/plexsphere/natcheck/internal/transport"
)

// DefaultConnectRetries is the default number of extra connect attempts of a filter probe.
const DefaultConnectRetries = 3

// DefaultConnectRetryInterval is the default pause between filter probe attempts.
const DefaultConnectRetryInterval = 500 * time.Millisecond

// DefaultDialTimeout is the default timeout of a single filter probe attempt.
const DefaultDialTimeout = 2 * time.Second

// DefaultMaxSearchAttempts is the default number of extra mapping rounds used
// to confirm a port increment.
const DefaultMaxSearchAttempts = 10

// DefaultListenBacklog is the default backlog of every listening socket.
const DefaultListenBacklog = 16

// Config holds the immutable parameters of the classification engine.
type Config struct {
	// MainAddress is the address clients first connect to (IP1:Port1).
	// Required.
	MainAddress transport.Address `yaml:"main_address"`

	// SecondaryAddress provides the second IP and port (IP2:Port2).
	// Required. Both IP and port must differ from MainAddress.
	SecondaryAddress transport.Address `yaml:"secondary_address"`

	// ConnectRetries is the number of extra connect attempts per filter probe.
	// Zero makes a single attempt. Default (DefaultConfig): 3
	ConnectRetries int `yaml:"connect_retries"`

	// ConnectRetryInterval is the pause between filter probe attempts.
	// Default: 500ms
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval"`

	// DialTimeout bounds a single filter probe attempt.
	// Default: 2s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// MaxSearchAttempts caps the port-increment search rounds.
	// Default: 10
	MaxSearchAttempts int `yaml:"max_search_attempts"`

	// ListenBacklog is the backlog of every listening socket.
	// Default: 16
	ListenBacklog int `yaml:"listen_backlog"`

	// RoundTimeout bounds the wait for a client reconnect in a mapping round.
	// Zero waits forever.
	RoundTimeout time.Duration `yaml:"round_timeout"`
}

// DefaultConfig returns a Config carrying the defaults for fields whose zero
// value is meaningful.
func DefaultConfig() Config {
	return Config{ConnectRetries: DefaultConnectRetries}
}

// ApplyDefaults sets default values for zero-valued fields. ConnectRetries
// is left alone since zero is a valid setting; start from DefaultConfig to
// get the default.
func (c *Config) ApplyDefaults() {
	if c.ConnectRetryInterval == 0 {
		c.ConnectRetryInterval = DefaultConnectRetryInterval
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.MaxSearchAttempts == 0 {
		c.MaxSearchAttempts = DefaultMaxSearchAttempts
	}
	if c.ListenBacklog == 0 {
		c.ListenBacklog = DefaultListenBacklog
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.MainAddress.IP == "" || c.MainAddress.Port == 0 {
		return errors.New("natcheck: config: MainAddress is required")
	}
	if c.SecondaryAddress.IP == "" || c.SecondaryAddress.Port == 0 {
		return errors.New("natcheck: config: SecondaryAddress is required")
	}
	if _, err := transport.ParseAddress(c.MainAddress.String()); err != nil {
		return errors.New("natcheck: config: MainAddress must be an IPv4 address")
	}
	if _, err := transport.ParseAddress(c.SecondaryAddress.String()); err != nil {
		return errors.New("natcheck: config: SecondaryAddress must be an IPv4 address")
	}
	if c.MainAddress.IP == c.SecondaryAddress.IP {
		return errors.New("natcheck: config: MainAddress and SecondaryAddress must use different IPs")
	}
	if c.MainAddress.Port == c.SecondaryAddress.Port {
		return errors.New("natcheck: config: MainAddress and SecondaryAddress must use different ports")
	}
	if c.ConnectRetries < 0 {
		return errors.New("natcheck: config: ConnectRetries must not be negative")
	}
	if c.ConnectRetryInterval < 0 {
		return errors.New("natcheck: config: ConnectRetryInterval must not be negative")
	}
	if c.DialTimeout <= 0 {
		return errors.New("natcheck: config: DialTimeout must be positive")
	}
	if c.MaxSearchAttempts <= 0 {
		return errors.New("natcheck: config: MaxSearchAttempts must be positive")
	}
	if int(c.SecondaryAddress.Port)+c.MaxSearchAttempts > 65535 {
		return errors.New("natcheck: config: SecondaryAddress port leaves no room for MaxSearchAttempts")
	}
	if c.ListenBacklog <= 0 {
		return errors.New("natcheck: config: ListenBacklog must be positive")
	}
	if c.RoundTimeout < 0 {
		return errors.New("natcheck: config: RoundTimeout must not be negative")
	}
	return nil
}
