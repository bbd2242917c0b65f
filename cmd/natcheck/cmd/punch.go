package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plexsphere/natcheck/internal/transport"
	"github.com/plexsphere/natcheck/internal/traversal"
)

var (
	punchLocal string
	punchTo    string
	punchDelay time.Duration
)

var punchCmd = &cobra.Command{
	Use:   "punch",
	Short: "Connect directly to a peer from a fixed local address",
	Long: "Run a direct-connect traversal: wait for the peer to start its own\n" +
		"attempt, then connect from the local address with one retry.",
	RunE: runPunch,
}

func init() {
	punchCmd.Flags().StringVar(&punchLocal, "local", "", "local address ip:port to connect from")
	punchCmd.Flags().StringVar(&punchTo, "to", "", "peer address ip:port")
	punchCmd.Flags().DurationVar(&punchDelay, "delay", traversal.DefaultDelay, "pause before connecting")
	_ = punchCmd.MarkFlagRequired("local")
	_ = punchCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(punchCmd)
}

func runPunch(cmd *cobra.Command, _ []string) error {
	local, err := transport.ParseAddress(punchLocal)
	if err != nil {
		return fmt.Errorf("natcheck punch: --local: %w", err)
	}
	peer, err := transport.ParseAddress(punchTo)
	if err != nil {
		return fmt.Errorf("natcheck punch: --to: %w", err)
	}

	logger := setupLogger(cmd.ErrOrStderr(), logLevel)
	network := transport.NewReuseNetwork(transport.DefaultDialTimeout, transport.DefaultRetryInterval)
	command := traversal.NewConnectDirectly(network, punchDelay, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	conn, err := command.Traverse(ctx, traversal.ConnectDirectlyMessage(peer), local)
	if err != nil {
		return fmt.Errorf("natcheck punch: %w", err)
	}
	defer conn.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "connected %s -> %s\n", conn.LocalAddr(), conn.RemoteAddr())
	return nil
}
