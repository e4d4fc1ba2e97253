package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/dedupe-cli/internal/model"
)

var ignoreCmd = &cobra.Command{
	Use:   "ignore",
	Short: "Mark a duplicate pair as not a duplicate",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		entities, _ := cmd.Flags().GetString("entities")
		pair, err := model.ParsePair(entities)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		state, err := e.Sessions.Open(ctx, pair)
		if err != nil {
			return err
		}
		if _, _, err := e.Sessions.Ignore(ctx, state.Session.ID); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Ignored pair %s\n", pair)
		return nil
	},
}

func init() {
	ignoreCmd.Flags().String("entities", "", "pair of entity ids, e.g. 12,34")
	_ = ignoreCmd.MarkFlagRequired("entities")
	rootCmd.AddCommand(ignoreCmd)
}
