package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/storefront-agent/internal/types"
)

var (
	runsPhase  string
	runsStatus string
	runsLimit  int
	runsJSON   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent workflow runs",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsPhase, "phase", "", "Filter by phase (research, generate, quality_gate, publish)")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by status (running, completed, failed)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Print JSON")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.store.ListRuns(ctx, types.RunFilters{
		Phase:  types.Phase(runsPhase),
		Status: types.RunStatus(runsStatus),
		Limit:  runsLimit,
	})
	if err != nil {
		return err
	}
	if runsJSON {
		return printJSON(cmd.OutOrStdout(), runs)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPHASE\tSTATUS\tPROGRESS\tSTARTED")
	for _, r := range runs {
		progress := "-"
		if p, ok := r.Metadata["progress"]; ok {
			progress = fmt.Sprint(p)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Phase, r.Status, progress, r.StartedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
