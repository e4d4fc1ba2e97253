package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/dedupe-cli/internal/monitoring"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise recent reconciliation and analysis activity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		hours, _ := cmd.Flags().GetInt("lookback")
		output, _ := cmd.Flags().GetString("output")

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return err
		}
		if ok, err := writeStructured(os.Stdout, output, snap); ok {
			return err
		}
		formatStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	statsCmd.Flags().Int("lookback", 24, "window in hours (0 for everything)")
	statsCmd.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")
	rootCmd.AddCommand(statsCmd)
}

func formatStats(out io.Writer, snap *monitoring.Snapshot) {
	window := fmt.Sprintf("last %dh", snap.LookbackHours)
	if snap.LookbackHours <= 0 {
		window = "all time"
	}
	_, _ = fmt.Fprintf(out, "Activity (%s, collected %s)\n\n", window, snap.CollectedAt.Format("2006-01-02 15:04"))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "METRIC\tVALUE")
	_, _ = fmt.Fprintln(w, "------\t-----")
	_, _ = fmt.Fprintf(w, "sessions\t%d\n", snap.SessionsTotal)
	_, _ = fmt.Fprintf(w, "  open\t%d\n", snap.SessionsOpen)
	_, _ = fmt.Fprintf(w, "  merged\t%d\n", snap.SessionsMerged)
	_, _ = fmt.Fprintf(w, "  ignored\t%d\n", snap.SessionsIgnored)
	_, _ = fmt.Fprintf(w, "fields merged\t%d\n", snap.FieldsMerged)
	_, _ = fmt.Fprintf(w, "analyses\t%d\n", snap.AnalysesTotal)
	_, _ = fmt.Fprintf(w, "  running\t%d\n", snap.AnalysesRunning)
	_, _ = fmt.Fprintf(w, "  succeeded\t%d\n", snap.AnalysesSuccess)
	_, _ = fmt.Fprintf(w, "  failed\t%d\n", snap.AnalysesFailed)
	_, _ = fmt.Fprintf(w, "analysis fail rate\t%.1f%%\n", snap.AnalysisFailRate*100)
	_ = w.Flush()
}
