package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/storefront-agent/internal/observability"
	"github.com/jonathan/storefront-agent/internal/pipeline"
	"github.com/jonathan/storefront-agent/internal/types"
)

var (
	researchCategories []string
	researchItems      int

	genOpportunity string
	genReport      string
	genEntity      string
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Run the research phase and print the analysis report",
	RunE:  runResearch,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a product for an opportunity and run the quality gate",
	Long: `Generate a product for an opportunity from a research report. With --entity an existing
entity in quality_gate_fail, publish_failed or ready_for_review is regenerated instead.`,
	RunE: runGenerate,
}

var approveCmd = &cobra.Command{
	Use:   "approve <entity-id>",
	Short: "Approve an entity that is ready for review",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var publishCmd = &cobra.Command{
	Use:   "publish <entity-id>",
	Short: "Publish an entity as a marketplace listing",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublish,
}

func init() {
	researchCmd.Flags().StringSliceVarP(&researchCategories, "category", "c", nil, "Category to research (repeatable)")
	researchCmd.Flags().IntVar(&researchItems, "items", 0, "Listings to fetch per category (default 25)")
	_ = researchCmd.MarkFlagRequired("category")

	generateCmd.Flags().StringVar(&genOpportunity, "opportunity", "", "Opportunity id from the report")
	generateCmd.Flags().StringVar(&genReport, "report", "", "Report id")
	generateCmd.Flags().StringVar(&genEntity, "entity", "", "Entity id to regenerate")
	_ = generateCmd.MarkFlagRequired("opportunity")
	_ = generateCmd.MarkFlagRequired("report")

	rootCmd.AddCommand(researchCmd, generateCmd, approveCmd, publishCmd)
}

func runResearch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withWorkflow(ctx); err != nil {
		return err
	}

	result, err := a.orch.ExecuteResearch(ctx, types.ResearchParams{
		Categories:     researchCategories,
		ItemsPerSearch: researchItems,
	})
	if err != nil {
		return err
	}
	if verbose {
		if report, err := a.store.GetReport(ctx, result.ReportID); err == nil {
			observability.NewPrinter(cmd.ErrOrStderr()).PrintReport(report)
		}
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	reportID, err := uuid.Parse(genReport)
	if err != nil {
		return fmt.Errorf("invalid --report: %w", err)
	}
	req := pipeline.GenerationRequest{OpportunityID: genOpportunity, ReportID: reportID}
	if genEntity != "" {
		id, err := uuid.Parse(genEntity)
		if err != nil {
			return fmt.Errorf("invalid --entity: %w", err)
		}
		req.EntityID = &id
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withWorkflow(ctx); err != nil {
		return err
	}

	result, err := a.orch.ExecuteGeneration(ctx, req)
	if err != nil {
		return err
	}
	printEntity(cmd, a, result.EntityID)
	return printJSON(cmd.OutOrStdout(), result)
}

func runApprove(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid entity id: %w", err)
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withWorkflow(ctx); err != nil {
		return err
	}

	entity, err := a.orch.ApproveEntity(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{"id": entity.ID, "status": entity.Status})
}

func runPublish(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid entity id: %w", err)
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withWorkflow(ctx); err != nil {
		return err
	}

	result, err := a.orch.ExecutePublish(ctx, id)
	if err != nil {
		return err
	}
	printEntity(cmd, a, id)
	return printJSON(cmd.OutOrStdout(), result)
}

// printEntity shows the entity summary in verbose mode
func printEntity(cmd *cobra.Command, a *app, id uuid.UUID) {
	if !verbose {
		return
	}
	if e, err := a.store.GetEntity(cmd.Context(), id); err == nil {
		observability.NewPrinter(cmd.ErrOrStderr()).PrintEntity(e)
	}
}
