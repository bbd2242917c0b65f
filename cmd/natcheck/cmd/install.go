package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexsphere/natcheck/internal/packaging"
	"github.com/plexsphere/natcheck/internal/transport"
)

var (
	installMain      string
	installSecondary string
	installEnable    bool
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install natcheck as a systemd service",
	RunE:  runInstall,
}

func init() {
	installCmd.Flags().StringVar(&installMain, "main", "", "main address ip:port written to a new config")
	installCmd.Flags().StringVar(&installSecondary, "secondary", "", "secondary address ip:port written to a new config")
	installCmd.Flags().BoolVar(&installEnable, "enable", false, "enable the service to start on boot")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, _ []string) error {
	cfg := packaging.InstallConfig{Enable: installEnable}
	var err error
	if installMain != "" {
		if cfg.MainAddress, err = transport.ParseAddress(installMain); err != nil {
			return fmt.Errorf("natcheck install: --main: %w", err)
		}
	}
	if installSecondary != "" {
		if cfg.SecondaryAddress, err = transport.ParseAddress(installSecondary); err != nil {
			return fmt.Errorf("natcheck install: --secondary: %w", err)
		}
	}

	logger := setupLogger(cmd.ErrOrStderr(), logLevel)
	installer := packaging.NewInstaller(cfg, packaging.NewSystemdController(), packaging.NewRootChecker(), logger)
	if err := installer.Install(); err != nil {
		return fmt.Errorf("natcheck install: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "natcheck installed successfully")
	return nil
}
