package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"vidingest/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List previous runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := openHistory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				if runs == nil {
					runs = []history.RunSummary{}
				}
				return writeJSON(cmd, runs)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					shortID(run.RunID),
					run.Mode,
					humanize.Time(run.StartedAt),
					strconv.Itoa(run.Counts.Total),
					strconv.Itoa(run.Counts.Succeeded),
					strconv.Itoa(run.Counts.Skipped),
					strconv.Itoa(run.Counts.Failed),
					run.Source,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Mode", "Started", "Items", "OK", "Skipped", "Failed", "Source"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list (0 for all)")
	historyCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print runs as JSON")

	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	return historyCmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show the report of a previous run (a unique ID prefix is enough)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := openHistory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := store.Get(cmd.Context(), args[0])
			if errors.Is(err, history.ErrNotFound) {
				return fmt.Errorf("no run matches %q", args[0])
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}
			renderReport(cmd.OutOrStdout(), report, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	return cmd
}
