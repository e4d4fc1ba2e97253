package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/dedupe-cli/internal/model"
	"github.com/sells-group/dedupe-cli/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored reconciliation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reconciliation sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		output, _ := cmd.Flags().GetString("output")

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		sessions, err := e.Sessions.List(ctx, store.SessionFilter{
			Status: model.SessionStatus(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return err
		}
		if ok, err := writeStructured(os.Stdout, output, sessions); ok {
			return err
		}
		formatSessionsList(os.Stdout, sessions)
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the comparison of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		output, _ := cmd.Flags().GetString("output")

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		state, err := e.Sessions.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if ok, err := writeStructured(os.Stdout, output, state); ok {
			return err
		}
		formatComparison(os.Stdout, state, cfg.Reconcile.Language())
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session (audit entries are kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Sessions.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Deleted session %s\n", args[0])
		return nil
	},
}

var sessionsAuditCmd = &cobra.Command{
	Use:   "audit <session-id>",
	Short: "Show what was submitted from a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		output, _ := cmd.Flags().GetString("output")

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		entries, err := e.Sessions.Audit(ctx, args[0])
		if err != nil {
			return err
		}
		if ok, err := writeStructured(os.Stdout, output, entries); ok {
			return err
		}
		formatAuditList(os.Stdout, entries)
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().String("status", "", "filter by status (open, merged, ignored)")
	sessionsListCmd.Flags().Int("limit", 20, "maximum number of sessions")
	sessionsListCmd.Flags().Int("offset", 0, "number of sessions to skip")
	for _, c := range []*cobra.Command{sessionsListCmd, sessionsShowCmd, sessionsAuditCmd} {
		c.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")
	}
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd, sessionsAuditCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// formatSessionsList writes a tabular list of sessions to w.
func formatSessionsList(out io.Writer, sessions []model.Session) {
	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(out, "No sessions found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPAIR\tSTATUS\tFIELDS\tSELECTED\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t------\t--------\t-------")
	for _, s := range sessions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			truncateID(s.ID),
			s.Pair,
			s.Status,
			len(s.Canonical),
			len(s.Query),
			s.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\nShowing %d sessions\n", len(sessions))
}

func formatAuditList(out io.Writer, entries []model.AuditEntry) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, "No audit entries.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WHEN\tACTION\tPAIR\tFIELDS")
	_, _ = fmt.Fprintln(w, "----\t------\t----\t------")
	for _, a := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
			a.CreatedAt.Format("2006-01-02 15:04:05"),
			a.Action,
			a.Pair,
			len(a.Query),
		)
	}
	_ = w.Flush()
}
