package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dedupe-cli/internal/model"
)

var analysesCmd = &cobra.Command{
	Use:   "analyses",
	Short: "Manage duplicate-detection analysis jobs",
}

var analysesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")
		history, _ := cmd.Flags().GetBool("history")
		output, _ := cmd.Flags().GetString("output")

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		var jobs []model.AnalysisJob
		if history {
			if jobs, err = e.Analyses.History(ctx, limit); err != nil {
				return err
			}
		} else {
			list, err := e.Analyses.List(ctx, page, limit)
			if err != nil {
				return err
			}
			jobs = list.Results
		}
		if ok, err := writeStructured(os.Stdout, output, jobs); ok {
			return err
		}
		formatAnalysesList(os.Stdout, jobs)
		return nil
	},
}

var analysesLaunchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch a duplicate-detection analysis",
	Long: `Launches an analysis job on the backend.

Examples:
  dedupe-cli analyses launch --algorithm namesim --entity-type 3 --fields first_name,last_name
  dedupe-cli analyses launch --algorithm namesim --entity-type 3 --fields name --param threshold=0.8 --watch`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		algorithm, _ := cmd.Flags().GetString("algorithm")
		entityType, _ := cmd.Flags().GetInt64("entity-type")
		fields, _ := cmd.Flags().GetStringSlice("fields")
		rawParams, _ := cmd.Flags().GetStringArray("param")
		watch, _ := cmd.Flags().GetBool("watch")

		thresholds, err := parseParams(rawParams)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		job, err := e.Analyses.Launch(ctx, model.AnalysisParameters{
			Algorithm:    algorithm,
			EntityTypeID: entityType,
			Fields:       fields,
			Thresholds:   thresholds,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Launched analysis %d (%s)\n", job.ID, job.Status)
		if !watch {
			return nil
		}
		_, err = e.Analyses.Watch(ctx, job.ID, printTransition(os.Stdout))
		return err
	},
}

var analysesRelaunchCmd = &cobra.Command{
	Use:   "relaunch <analysis-id>",
	Short: "Launch a new analysis with the parameters of an existing one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ids, err := parseJobIDs(args)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		job, err := e.Analyses.Relaunch(ctx, ids[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Relaunched analysis %d as %d (%s)\n", ids[0], job.ID, job.Status)
		return nil
	},
}

var analysesWatchCmd = &cobra.Command{
	Use:   "watch <analysis-id>...",
	Short: "Poll analysis jobs until they finish",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ids, err := parseJobIDs(args)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		jobs, err := e.Analyses.WatchAll(ctx, ids, printTransition(os.Stdout))
		final := make([]model.AnalysisJob, 0, len(jobs))
		for _, j := range jobs {
			if j != nil {
				final = append(final, *j)
			}
		}
		if len(final) > 0 {
			_, _ = fmt.Fprintln(os.Stdout)
			formatAnalysesList(os.Stdout, final)
		}
		return err
	},
}

func init() {
	analysesListCmd.Flags().Int("page", 1, "page number")
	analysesListCmd.Flags().Int("limit", 20, "jobs per page")
	analysesListCmd.Flags().Bool("history", false, "list locally recorded jobs instead of querying the backend")
	analysesListCmd.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")

	analysesLaunchCmd.Flags().String("algorithm", "", "detection algorithm")
	analysesLaunchCmd.Flags().Int64("entity-type", 0, "entity type id")
	analysesLaunchCmd.Flags().StringSlice("fields", nil, "fields to compare")
	analysesLaunchCmd.Flags().StringArray("param", nil, "algorithm parameter as key=value (repeatable)")
	analysesLaunchCmd.Flags().Bool("watch", false, "poll the job until it finishes")
	_ = analysesLaunchCmd.MarkFlagRequired("algorithm")
	_ = analysesLaunchCmd.MarkFlagRequired("entity-type")
	_ = analysesLaunchCmd.MarkFlagRequired("fields")

	analysesCmd.AddCommand(analysesListCmd, analysesLaunchCmd, analysesRelaunchCmd, analysesWatchCmd)
	rootCmd.AddCommand(analysesCmd)
}

func parseParams(raw []string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	for _, p := range raw {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, eris.Errorf("invalid --param %q (want key=value)", p)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, eris.Errorf("invalid --param %q: value must be a number", p)
		}
		out[k] = f
	}
	return out, nil
}

func parseJobIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, eris.Errorf("invalid analysis id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// printTransition returns a watch callback that prints each status change.
// WatchAll may invoke it concurrently.
func printTransition(out io.Writer) func(*model.AnalysisJob) {
	var mu sync.Mutex
	return func(job *model.AnalysisJob) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintf(out, "analysis %d: %s\n", job.ID, job.Status)
	}
}

// formatAnalysesList writes a tabular list of analysis jobs to w.
func formatAnalysesList(out io.Writer, jobs []model.AnalysisJob) {
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(out, "No analyses found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tALGORITHM\tENTITY TYPE\tFIELDS\tCREATED\tFINISHED")
	_, _ = fmt.Fprintln(w, "--\t------\t---------\t-----------\t------\t-------\t--------")
	for _, j := range jobs {
		finished := "-"
		if j.FinishedAt != nil {
			finished = j.FinishedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			j.ID,
			j.Status,
			j.Parameters.Algorithm,
			j.Parameters.EntityTypeID,
			truncate(strings.Join(j.Parameters.Fields, ","), 30),
			j.CreatedAt.Format("2006-01-02 15:04"),
			finished,
		)
	}
	_ = w.Flush()
}
