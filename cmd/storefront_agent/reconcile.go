package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/storefront-agent/internal/observability"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Import new marketplace receipts as sale records",
	RunE:  runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.reconciler.Reconcile(ctx)
	if err != nil {
		return err
	}
	if verbose {
		observability.NewPrinter(cmd.ErrOrStderr()).PrintReconcile(result)
	}
	return printJSON(cmd.OutOrStdout(), result)
}
