package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/plexsphere/natcheck/internal/server"
	"github.com/plexsphere/natcheck/internal/transport"
)

var (
	serveMain      string
	serveSecondary string
	serveDataDir   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the NAT checker server",
	Long: "Run the NAT checker server on a main and a secondary address.\n" +
		"Both IP and port of the two addresses must differ, and both IPs must\n" +
		"be assigned to this host.",
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveMain, "main", "", "main address ip:port (overrides config)")
	serveCmd.Flags().StringVar(&serveSecondary, "secondary", "", "secondary address ip:port (overrides config)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "directory for persistent records (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("natcheck serve: %w", err)
	}

	logger := setupLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	logger.Info("starting natcheck", "version", buildVersion)

	srv, err := server.New(*cfg, logger)
	if err != nil {
		return fmt.Errorf("natcheck serve: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("natcheck serve: %w", err)
	}
	return nil
}

// loadServerConfig reads the config file, applies command line overrides,
// defaults and validation.
func loadServerConfig() (*server.Config, error) {
	cfg, err := server.ReadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if serveMain != "" {
		if cfg.NATCheck.MainAddress, err = transport.ParseAddress(serveMain); err != nil {
			return nil, fmt.Errorf("--main: %w", err)
		}
	}
	if serveSecondary != "" {
		if cfg.NATCheck.SecondaryAddress, err = transport.ParseAddress(serveSecondary); err != nil {
			return nil, fmt.Errorf("--secondary: %w", err)
		}
	}
	if serveDataDir != "" {
		cfg.DataDir = serveDataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
