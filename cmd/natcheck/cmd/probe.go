package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/plexsphere/natcheck/internal/probe"
	"github.com/plexsphere/natcheck/internal/transport"
)

var (
	probeServer   string
	probeLocal    string
	probeAnnounce string
	probeID       string
	probeRetries  int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Classify this host's NAT against a natcheck server",
	Long: "Connect to a natcheck server from a fixed local address, follow its\n" +
		"reconnect instructions and print the NAT classification it reports.",
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeServer, "server", "", "server main address ip:port")
	probeCmd.Flags().StringVar(&probeLocal, "local", "", "local address ip:port to connect from")
	probeCmd.Flags().StringVar(&probeAnnounce, "announce", "", "local address to report instead of --local")
	probeCmd.Flags().StringVar(&probeID, "id", "", "identifier recorded by the server (default: hostname)")
	probeCmd.Flags().IntVar(&probeRetries, "retries", probe.DefaultConnectRetries, "extra connect attempts")
	_ = probeCmd.MarkFlagRequired("server")
	_ = probeCmd.MarkFlagRequired("local")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, _ []string) error {
	server, err := transport.ParseAddress(probeServer)
	if err != nil {
		return fmt.Errorf("natcheck probe: --server: %w", err)
	}
	local, err := transport.ParseAddress(probeLocal)
	if err != nil {
		return fmt.Errorf("natcheck probe: --local: %w", err)
	}
	var announce transport.Address
	if probeAnnounce != "" {
		if announce, err = transport.ParseAddress(probeAnnounce); err != nil {
			return fmt.Errorf("natcheck probe: --announce: %w", err)
		}
	}
	id := probeID
	if id == "" {
		if id, err = os.Hostname(); err != nil {
			return fmt.Errorf("natcheck probe: hostname: %w", err)
		}
	}

	logger := setupLogger(cmd.ErrOrStderr(), logLevel)
	client := probe.NewClient(probe.Config{
		Server:         server,
		Local:          local,
		Announce:       announce,
		Identifier:     id,
		ConnectRetries: probeRetries,
	}, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	res, err := client.Check(ctx)
	if err != nil {
		return fmt.Errorf("natcheck probe: %w", err)
	}

	w := cmd.OutOrStdout()
	nat := res.NAT()
	fmt.Fprintf(w, "has NAT:   %t\n", res.HasNAT)
	fmt.Fprintf(w, "NAT type:  %s\n", nat.LegacyName())
	if res.HasNAT {
		fmt.Fprintf(w, "mapping:   %s\n", res.Mapping)
		fmt.Fprintf(w, "filtering: %s\n", res.Filtering)
		fmt.Fprintf(w, "external:  %s\n", res.External)
		fmt.Fprintf(w, "rounds:    %d\n", res.Rounds)
	}
	return nil
}
