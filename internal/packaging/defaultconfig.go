package packaging

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/plexsphere/natcheck/internal/transport"
)

const configHeader = `# natcheck server configuration
# main_address and secondary_address must use different IPs and ports,
# both assigned to this host.

`

type generatedConfig struct {
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`
	NATCheck struct {
		MainAddress      transport.Address `yaml:"main_address,omitempty"`
		SecondaryAddress transport.Address `yaml:"secondary_address,omitempty"`
	} `yaml:"natcheck"`
}

// GenerateDefaultConfig renders a config.yaml for a fresh installation.
func GenerateDefaultConfig(cfg InstallConfig) ([]byte, error) {
	cfg.ApplyDefaults()

	var doc generatedConfig
	doc.LogLevel = "info"
	doc.DataDir = cfg.DataDir
	doc.NATCheck.MainAddress = cfg.MainAddress
	doc.NATCheck.SecondaryAddress = cfg.SecondaryAddress

	body, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("packaging: render config: %w", err)
	}
	return append([]byte(configHeader), body...), nil
}
