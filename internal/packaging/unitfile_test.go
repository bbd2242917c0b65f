package packaging

import (
	"strings"
	"testing"
)

func TestGenerateUnitFile_Defaults(t *testing.T) {
	content := GenerateUnitFile(InstallConfig{})

	for _, want := range []string{
		"[Unit]",
		"[Service]",
		"[Install]",
		"ExecStart=/usr/local/bin/natcheck serve --config /etc/natcheck/config.yaml",
		"ReadWritePaths=/var/lib/natcheck",
		"Restart=always",
		"AmbientCapabilities=CAP_NET_BIND_SERVICE",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("unit file missing %q:\n%s", want, content)
		}
	}
}

func TestGenerateUnitFile_CustomPaths(t *testing.T) {
	content := GenerateUnitFile(InstallConfig{
		BinaryPath: "/opt/natcheck/bin/natcheck",
		ConfigDir:  "/opt/natcheck/etc",
		DataDir:    "/srv/natcheck",
	})

	if !strings.Contains(content, "ExecStart=/opt/natcheck/bin/natcheck serve --config /opt/natcheck/etc/config.yaml") {
		t.Errorf("unit file has wrong ExecStart:\n%s", content)
	}
	if !strings.Contains(content, "ReadWritePaths=/srv/natcheck") {
		t.Errorf("unit file has wrong ReadWritePaths:\n%s", content)
	}
}
