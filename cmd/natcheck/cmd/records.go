package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/plexsphere/natcheck/internal/natcheck"
	"github.com/plexsphere/natcheck/internal/server"
	"github.com/plexsphere/natcheck/internal/store"
)

var (
	recordsDataDir string
	recordsID      string
	recordsJSON    bool
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Show stored NAT classification records",
	Long:  "Read the records a natcheck server persisted in its data directory.",
	RunE:  runRecords,
}

func init() {
	recordsCmd.Flags().StringVar(&recordsDataDir, "data-dir", "", "server data directory (overrides config)")
	recordsCmd.Flags().StringVar(&recordsID, "id", "", "show only the record of this identifier")
	recordsCmd.Flags().BoolVar(&recordsJSON, "json", false, "print records as JSON")
	rootCmd.AddCommand(recordsCmd)
}

func runRecords(cmd *cobra.Command, _ []string) error {
	dataDir := recordsDataDir
	if dataDir == "" {
		cfg, err := server.ReadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("natcheck records: %w", err)
		}
		dataDir = cfg.DataDir
	}
	if dataDir == "" {
		return errors.New("natcheck records: no data directory; pass --data-dir or --config")
	}

	logger := setupLogger(cmd.ErrOrStderr(), logLevel)
	fs, err := store.NewFileStore(dataDir, logger)
	if err != nil {
		return fmt.Errorf("natcheck records: %w", err)
	}

	var recs []natcheck.SessionRecord
	if recordsID != "" {
		rec, err := fs.Get(cmd.Context(), recordsID)
		if err != nil {
			return fmt.Errorf("natcheck records: %s: %w", recordsID, err)
		}
		recs = append(recs, rec)
	} else if recs, err = fs.List(cmd.Context()); err != nil {
		return fmt.Errorf("natcheck records: %w", err)
	}

	if recordsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if recs == nil {
			recs = []natcheck.SessionRecord{}
		}
		return enc.Encode(recs)
	}
	return printRecords(cmd.OutOrStdout(), recs)
}

func printRecords(w io.Writer, recs []natcheck.SessionRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTIFIER\tNAT TYPE\tMAPPING\tFILTERING\tPREDICTION\tEXTERNAL\tCOMPLETED")
	for _, r := range recs {
		mapping, filtering := "-", "-"
		if r.NAT.HasNAT {
			mapping, filtering = r.NAT.Mapping.String(), r.NAT.Filtering.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Identifier,
			r.NAT.LegacyName(),
			mapping,
			filtering,
			r.NAT.PredictionString(),
			r.External,
			r.CompletedAt.Format(time.RFC3339),
		)
	}
	return tw.Flush()
}
