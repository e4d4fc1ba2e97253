package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/sells-group/dedupe-cli/internal/export"
	"github.com/sells-group/dedupe-cli/internal/model"
	"github.com/sells-group/dedupe-cli/internal/session"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile a duplicate pair field by field",
	Long: `Opens (or resumes) a reconciliation session for a pair, applies the requested
selections, prints the comparison, and optionally submits the merge.

Examples:
  dedupe-cli reconcile --entities 12,34
  dedupe-cli reconcile --entities 12,34 --take entity1 --field gender=entity2
  dedupe-cli reconcile --entities 12,34 --only-unmatched --submit`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		entities, _ := cmd.Flags().GetString("entities")
		pair, err := model.ParsePair(entities)
		if err != nil {
			return err
		}
		fieldFlags, _ := cmd.Flags().GetStringArray("field")
		selections, err := parseFieldSelections(fieldFlags)
		if err != nil {
			return err
		}
		take, _ := cmd.Flags().GetString("take")
		if take != "" && !model.Side(take).Valid() {
			return eris.Errorf("--take must be entity1 or entity2, got %q", take)
		}
		output, _ := cmd.Flags().GetString("output")
		lang := cfg.Reconcile.Language()
		if l, _ := cmd.Flags().GetString("lang"); l != "" {
			if lang, err = language.Parse(l); err != nil {
				return eris.Wrapf(err, "invalid --lang %q", l)
			}
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		open := e.Sessions.Open
		if reload, _ := cmd.Flags().GetBool("reload"); reload {
			open = e.Sessions.Reload
		}
		state, err := open(ctx, pair)
		if err != nil {
			return err
		}
		id := state.Session.ID

		if reset, _ := cmd.Flags().GetBool("reset"); reset {
			if state, err = e.Sessions.Reset(ctx, id); err != nil {
				return err
			}
		}
		if take != "" {
			if state, err = e.Sessions.SelectAll(ctx, id, model.Side(take)); err != nil {
				return err
			}
		}
		for _, sel := range selections {
			if state, err = e.Sessions.Select(ctx, id, sel.Field, sel.Side); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("only-unmatched") {
			only, _ := cmd.Flags().GetBool("only-unmatched")
			if state, err = e.Sessions.ShowOnlyUnmatched(ctx, id, only); err != nil {
				return err
			}
		}

		submit, _ := cmd.Flags().GetBool("submit")
		if !submit {
			if ok, err := writeStructured(os.Stdout, output, state); ok {
				return err
			}
			formatComparison(os.Stdout, state, lang)
			return nil
		}

		merged, resp, err := e.Sessions.Merge(ctx, id)
		if err != nil {
			if eris.Is(err, session.ErrNotReady) {
				formatComparison(os.Stderr, state, lang)
			}
			return err
		}
		zap.L().Debug("merge response", zap.ByteString("body", resp))
		if ok, err := writeStructured(os.Stdout, output, merged); ok {
			return err
		}
		fmt.Fprintf(os.Stdout, "Merged pair %s (%d fields submitted).\n", pair, len(merged.Session.Query))
		return nil
	},
}

// fieldSelection is one --field key=side flag.
type fieldSelection struct {
	Field string
	Side  model.Side
}

func parseFieldSelections(flags []string) ([]fieldSelection, error) {
	out := make([]fieldSelection, 0, len(flags))
	for _, f := range flags {
		key, side, ok := strings.Cut(f, "=")
		key = strings.TrimSpace(key)
		s := model.Side(strings.TrimSpace(side))
		if !ok || key == "" || !s.Valid() {
			return nil, eris.Errorf("invalid --field %q (want field=entity1 or field=entity2)", f)
		}
		out = append(out, fieldSelection{Field: key, Side: s})
	}
	return out, nil
}

func init() {
	reconcileCmd.Flags().String("entities", "", "pair of entity ids, e.g. 12,34")
	_ = reconcileCmd.MarkFlagRequired("entities")
	reconcileCmd.Flags().Bool("reload", false, "discard the open session and reload the pair")
	reconcileCmd.Flags().Bool("reset", false, "clear all selections first")
	reconcileCmd.Flags().String("take", "", "resolve every differing field from one side (entity1, entity2)")
	reconcileCmd.Flags().StringArray("field", nil, "resolve one field, as field=entity1 or field=entity2 (repeatable)")
	reconcileCmd.Flags().Bool("only-unmatched", false, "display only fields that differ")
	reconcileCmd.Flags().Bool("submit", false, "submit the merge when ready")
	reconcileCmd.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")
	reconcileCmd.Flags().String("lang", "", "label language (default from config)")
	rootCmd.AddCommand(reconcileCmd)
}

// formatComparison writes the displayed rows and the readiness summary.
func formatComparison(out io.Writer, state *session.State, lang language.Tag) {
	s := state.Session
	r := state.Readiness

	_, _ = fmt.Fprintf(out, "Session %s  pair %s  status %s\n", truncateID(s.ID), s.Pair, s.Status)
	if s.Descriptor1 != nil && s.Descriptor2 != nil {
		_, _ = fmt.Fprintf(out, "Entities: %s / %s\n", s.Descriptor1.Name, s.Descriptor2.Name)
	}
	_, _ = fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tENTITY1\tENTITY2\tFINAL")
	_, _ = fmt.Fprintln(w, "-----\t-------\t-------\t-----")
	for _, row := range s.Filtered {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			truncate(row.Field.LocalizedLabel(lang), 30),
			cellText(row.Entity1),
			cellText(row.Entity2),
			cellText(row.Final),
		)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	if s.OnlyUnmatched {
		_, _ = fmt.Fprintf(out, "Showing %d of %d fields (unmatched only)\n", len(s.Filtered), len(s.Canonical))
	}
	_, _ = fmt.Fprintf(out, "Similarity: %.0f %s\n", r.SimilarityScore, stars(r.SimilarityStars))
	if len(r.AlgorithmsUsed) > 0 {
		_, _ = fmt.Fprintf(out, "Algorithms: %s (%d runs)\n", strings.Join(r.AlgorithmsUsed, ", "), r.AlgorithmRuns)
	}
	_, _ = fmt.Fprintf(out, "Unmatched remaining: %d\n", r.UnmatchedRemaining)
	if r.CanSubmit {
		_, _ = fmt.Fprintln(out, "Ready to merge.")
	} else {
		_, _ = fmt.Fprintln(out, "Not ready to merge.")
	}
}

// cellText renders a candidate with a status marker.
func cellText(c model.Candidate) string {
	v := truncate(export.FormatValue(c.Value), 24)
	if v == "" {
		v = "-"
	}
	switch c.Status {
	case model.StatusSelected:
		return v + " [x]"
	case model.StatusDropped:
		return v + " [ ]"
	case model.StatusDiff:
		return v + " *"
	default:
		return v
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
