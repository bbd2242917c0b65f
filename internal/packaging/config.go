// Package packaging installs the natcheck server as a systemd service on
// bare-metal Linux hosts.
package packaging

import (
	"errors"

	"github.com/plexsphere/natcheck/internal/transport"
)

// InstallConfig describes where the natcheck service is installed.
type InstallConfig struct {
	// BinaryPath is where the natcheck binary is copied.
	// Default: /usr/local/bin/natcheck
	BinaryPath string

	// ConfigDir holds config.yaml.
	// Default: /etc/natcheck
	ConfigDir string

	// DataDir holds persisted records.
	// Default: /var/lib/natcheck
	DataDir string

	// UnitFilePath is the systemd unit file location.
	// Default: /etc/systemd/system/natcheck.service
	UnitFilePath string

	// ServiceName is the systemd service name.
	// Default: natcheck
	ServiceName string

	// MainAddress and SecondaryAddress are written into a freshly generated
	// config. Either may be left zero and filled in by the operator later.
	MainAddress      transport.Address
	SecondaryAddress transport.Address

	// Enable enables the service to start on boot after installation.
	Enable bool
}

const (
	DefaultBinaryPath   = "/usr/local/bin/natcheck"
	DefaultConfigDir    = "/etc/natcheck"
	DefaultDataDir      = "/var/lib/natcheck"
	DefaultServiceName  = "natcheck"
	DefaultUnitFilePath = "/etc/systemd/system/natcheck.service"
)

// ApplyDefaults sets default values for zero-valued fields.
func (c *InstallConfig) ApplyDefaults() {
	if c.BinaryPath == "" {
		c.BinaryPath = DefaultBinaryPath
	}
	if c.ConfigDir == "" {
		c.ConfigDir = DefaultConfigDir
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.UnitFilePath == "" {
		c.UnitFilePath = DefaultUnitFilePath
	}
}

// Validate checks that required fields are set.
func (c *InstallConfig) Validate() error {
	if c.BinaryPath == "" {
		return errors.New("packaging: config: BinaryPath is required")
	}
	if c.ConfigDir == "" {
		return errors.New("packaging: config: ConfigDir is required")
	}
	if c.DataDir == "" {
		return errors.New("packaging: config: DataDir is required")
	}
	if c.ServiceName == "" {
		return errors.New("packaging: config: ServiceName is required")
	}
	if c.UnitFilePath == "" {
		return errors.New("packaging: config: UnitFilePath is required")
	}
	if !c.MainAddress.IsZero() && !c.SecondaryAddress.IsZero() {
		if c.MainAddress.IP == c.SecondaryAddress.IP || c.MainAddress.Port == c.SecondaryAddress.Port {
			return errors.New("packaging: config: MainAddress and SecondaryAddress must differ in both IP and port")
		}
	}
	return nil
}
