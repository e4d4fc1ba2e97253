package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dedupe-cli/internal/export"
	"github.com/sells-group/dedupe-cli/internal/filter"
	"github.com/sells-group/dedupe-cli/internal/model"
	"github.com/sells-group/dedupe-cli/pkg/dupapi"
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Browse suspected duplicate pairs",
}

// -- duplicates list --

var duplicatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List duplicate pairs matching the filters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f, err := filterFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate("client"); err != nil {
			return err
		}

		resp, err := initClient().List(cmd.Context(), f)
		if err != nil {
			return eris.Wrap(err, "duplicates list")
		}
		if len(resp.Results) == 0 {
			fmt.Fprintln(os.Stderr, "No duplicates found.")
			return nil
		}

		formatPairsList(os.Stdout, resp)
		return nil
	},
}

// -- duplicates export --

var duplicatesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export duplicate pairs to CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f, err := filterFromFlags(cmd)
		if err != nil {
			return err
		}
		formatName, _ := cmd.Flags().GetString("format")
		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}
		outPath, _ := cmd.Flags().GetString("out")
		all, _ := cmd.Flags().GetBool("all-pages")
		if err := cfg.Validate("client"); err != nil {
			return err
		}

		client := initClient()
		var pairs []model.DuplicatePairMetadata
		for {
			resp, err := client.List(cmd.Context(), f)
			if err != nil {
				return eris.Wrap(err, "duplicates export")
			}
			pairs = append(pairs, resp.Results...)
			if !all || !resp.HasNext {
				break
			}
			f.Page = resp.Page + 1
		}

		w := io.Writer(os.Stdout)
		if outPath != "" {
			file, err := os.Create(outPath)
			if err != nil {
				return eris.Wrap(err, "duplicates export: create file")
			}
			defer file.Close() //nolint:errcheck
			w = file
		}
		if err := export.Write(w, format, export.PairRecords(pairs)); err != nil {
			return err
		}
		if outPath != "" {
			fmt.Fprintf(os.Stderr, "Exported %d pairs to %s\n", len(pairs), outPath)
		}
		return nil
	},
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("algorithm", nil, "algorithm types")
	cmd.Flags().Int("similarity", -1, "minimum similarity score (0-100)")
	cmd.Flags().Int64Slice("entity-type", nil, "entity type ids")
	cmd.Flags().Int64Slice("org-unit", nil, "org unit ids")
	cmd.Flags().Int64("form", 0, "form id")
	cmd.Flags().String("start-date", "", "created on or after (YYYY-MM-DD)")
	cmd.Flags().String("end-date", "", "created on or before (YYYY-MM-DD)")
	cmd.Flags().String("ignored", "", "filter on ignored pairs (true|false)")
	cmd.Flags().String("merged", "", "filter on merged pairs (true|false)")
	cmd.Flags().StringSlice("fields", nil, "compared fields")
	cmd.Flags().String("search", "", "free-text search")
	cmd.Flags().Int("page", 1, "page number")
	cmd.Flags().Int("limit", 20, "page size")
	cmd.Flags().String("order", "", "sort order (e.g. -similarity)")
}

// filterFromFlags maps the filter flags onto query parameters and decodes
// them, so the CLI applies exactly the API's parsing and validation.
func filterFromFlags(cmd *cobra.Command) (filter.Duplicates, error) {
	q := make(map[string][]string)
	set := func(key, val string) {
		if val != "" {
			q[key] = []string{val}
		}
	}

	algorithms, _ := cmd.Flags().GetStringSlice("algorithm")
	set("algorithm", strings.Join(algorithms, ","))
	if sim, _ := cmd.Flags().GetInt("similarity"); sim >= 0 {
		set("similarity", fmt.Sprint(sim))
	}
	entityTypes, _ := cmd.Flags().GetInt64Slice("entity-type")
	set("entity_type", joinIDs(entityTypes))
	orgUnits, _ := cmd.Flags().GetInt64Slice("org-unit")
	set("org_unit", joinIDs(orgUnits))
	if form, _ := cmd.Flags().GetInt64("form"); form > 0 {
		set("form", fmt.Sprint(form))
	}
	for _, name := range []string{"start-date", "end-date", "ignored", "merged", "search", "order"} {
		val, _ := cmd.Flags().GetString(name)
		set(strings.ReplaceAll(name, "-", "_"), val)
	}
	fields, _ := cmd.Flags().GetStringSlice("fields")
	set("fields", strings.Join(fields, ","))
	page, _ := cmd.Flags().GetInt("page")
	set("page", fmt.Sprint(page))
	limit, _ := cmd.Flags().GetInt("limit")
	set("limit", fmt.Sprint(limit))

	return filter.Decode(q)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}

func init() {
	addFilterFlags(duplicatesListCmd)
	addFilterFlags(duplicatesExportCmd)
	duplicatesExportCmd.Flags().String("format", "csv", "output format (csv, xlsx)")
	duplicatesExportCmd.Flags().StringP("out", "o", "", "output file (default stdout)")
	duplicatesExportCmd.Flags().Bool("all-pages", false, "follow pagination until the last page")

	duplicatesCmd.AddCommand(duplicatesListCmd)
	duplicatesCmd.AddCommand(duplicatesExportCmd)
	rootCmd.AddCommand(duplicatesCmd)
}

// formatPairsList writes a tabular list of duplicate pairs to w.
func formatPairsList(out io.Writer, resp *dupapi.ListResponse) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tENTITIES\tNAMES\tSIMILARITY\tSTARS\tALGORITHMS\tSTATE")
	_, _ = fmt.Fprintln(w, "--\t--------\t-----\t----------\t-----\t----------\t-----")

	for _, p := range resp.Results {
		names := truncate(p.Entity1.Name+" / "+p.Entity2.Name, 30)
		state := "open"
		switch {
		case p.Merged:
			state = "merged"
		case p.Ignored:
			state = "ignored"
		}
		_, _ = fmt.Fprintf(w, "%d\t%d,%d\t%s\t%.0f\t%s\t%s\t%s\n",
			p.ID,
			p.Entity1.ID, p.Entity2.ID,
			names,
			p.Similarity,
			stars(p.Stars()),
			strings.Join(uniqueAlgorithms(p.Algorithms), ","),
			state,
		)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\nPage %d of %d (%d pairs)\n", resp.Page, resp.Pages, resp.Count)
}

func uniqueAlgorithms(runs []model.AlgorithmRun) []string {
	seen := make(map[string]bool, len(runs))
	var out []string
	for _, a := range runs {
		if !seen[a.Type] {
			seen[a.Type] = true
			out = append(out, a.Type)
		}
	}
	return out
}

// stars renders a 0-5 rating as filled and empty stars.
func stars(n float64) string {
	filled := int(n)
	if filled < 0 {
		filled = 0
	}
	if filled > 5 {
		filled = 5
	}
	return strings.Repeat("★", filled) + strings.Repeat("☆", 5-filled)
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
