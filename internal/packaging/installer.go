package packaging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/plexsphere/natcheck/internal/fsutil"
)

// Installer installs and removes the natcheck systemd service.
type Installer struct {
	cfg     InstallConfig
	systemd SystemdController
	root    RootChecker
	logger  *slog.Logger
}

// NewInstaller creates an Installer with defaults applied to cfg.
func NewInstaller(cfg InstallConfig, systemd SystemdController, root RootChecker, logger *slog.Logger) *Installer {
	cfg.ApplyDefaults()
	return &Installer{
		cfg:     cfg,
		systemd: systemd,
		root:    root,
		logger:  logger.With("component", "packaging"),
	}
}

// Install copies the binary, writes a config unless one exists, writes the
// unit file and reloads systemd.
func (ins *Installer) Install() error {
	if err := ins.cfg.Validate(); err != nil {
		return err
	}
	if !ins.root.IsRoot() {
		return errors.New("packaging: install requires root privileges")
	}
	if !ins.systemd.IsAvailable() {
		return errors.New("packaging: systemd is not available")
	}

	for _, d := range []struct {
		path string
		perm os.FileMode
	}{
		{ins.cfg.ConfigDir, 0o755},
		{ins.cfg.DataDir, 0o700},
		{filepath.Dir(ins.cfg.UnitFilePath), 0o755},
	} {
		if err := os.MkdirAll(d.path, d.perm); err != nil {
			return fmt.Errorf("packaging: create directory %s: %w", d.path, err)
		}
	}

	if err := ins.copyBinary(); err != nil {
		return err
	}
	if err := ins.writeConfig(); err != nil {
		return err
	}

	unit := GenerateUnitFile(ins.cfg)
	dir, name := filepath.Split(ins.cfg.UnitFilePath)
	if err := fsutil.WriteFileAtomic(dir, name, []byte(unit), 0o644); err != nil {
		return fmt.Errorf("packaging: write unit file: %w", err)
	}
	ins.logger.Info("unit file written", "path", ins.cfg.UnitFilePath)

	if err := ins.systemd.DaemonReload(); err != nil {
		return fmt.Errorf("packaging: daemon-reload: %w", err)
	}
	if ins.cfg.Enable {
		if err := ins.systemd.Enable(ins.cfg.ServiceName); err != nil {
			return fmt.Errorf("packaging: enable: %w", err)
		}
		ins.logger.Info("service enabled", "service", ins.cfg.ServiceName)
	}
	return nil
}

// Uninstall stops and removes the service. With purge the data and config
// directories are removed too.
func (ins *Installer) Uninstall(purge bool) error {
	if !ins.root.IsRoot() {
		return errors.New("packaging: uninstall requires root privileges")
	}
	if _, err := os.Stat(ins.cfg.UnitFilePath); errors.Is(err, os.ErrNotExist) {
		ins.logger.Info("service not installed", "path", ins.cfg.UnitFilePath)
		return nil
	}

	if ins.systemd.IsActive(ins.cfg.ServiceName) {
		if err := ins.systemd.Stop(ins.cfg.ServiceName); err != nil {
			ins.logger.Warn("stop service failed", "error", err)
		}
	}
	if err := ins.systemd.Disable(ins.cfg.ServiceName); err != nil {
		ins.logger.Info("disable service failed", "error", err)
	}

	if err := os.Remove(ins.cfg.UnitFilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("packaging: remove unit file: %w", err)
	}
	if err := ins.systemd.DaemonReload(); err != nil {
		return fmt.Errorf("packaging: daemon-reload: %w", err)
	}
	if err := os.Remove(ins.cfg.BinaryPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("packaging: remove binary: %w", err)
	}
	ins.logger.Info("service removed", "service", ins.cfg.ServiceName)

	if purge {
		for _, dir := range []string{ins.cfg.DataDir, ins.cfg.ConfigDir} {
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("packaging: remove directory %s: %w", dir, err)
			}
			ins.logger.Info("directory removed", "path", dir)
		}
	}
	return nil
}

func (ins *Installer) writeConfig() error {
	path := filepath.Join(ins.cfg.ConfigDir, "config.yaml")
	_, err := os.Stat(path)
	switch {
	case err == nil:
		ins.logger.Info("existing config preserved", "path", path)
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("packaging: stat config: %w", err)
	}

	data, err := GenerateDefaultConfig(ins.cfg)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(ins.cfg.ConfigDir, "config.yaml", data, 0o644); err != nil {
		return fmt.Errorf("packaging: write config: %w", err)
	}
	ins.logger.Info("default config written", "path", path)
	return nil
}

func (ins *Installer) copyBinary() error {
	src, err := os.Executable()
	if err != nil {
		return fmt.Errorf("packaging: resolve executable: %w", err)
	}
	if src, err = filepath.EvalSymlinks(src); err != nil {
		return fmt.Errorf("packaging: resolve executable: %w", err)
	}
	if src == ins.cfg.BinaryPath {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(ins.cfg.BinaryPath), 0o755); err != nil {
		return fmt.Errorf("packaging: create binary directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("packaging: open executable: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(ins.cfg.BinaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("packaging: create binary: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("packaging: copy binary: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("packaging: copy binary: %w", err)
	}
	ins.logger.Info("binary installed", "src", src, "dst", ins.cfg.BinaryPath)
	return nil
}
