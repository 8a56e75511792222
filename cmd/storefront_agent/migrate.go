package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/storefront-agent/internal/config"
	"github.com/jonathan/storefront-agent/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back the database schema",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	direction := "up"
	if len(args) == 1 {
		direction = args[0]
	}
	if direction == "down" {
		err = db.MigrateDown(cfg.DatabaseURL)
	} else {
		err = db.Migrate(cfg.DatabaseURL)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", direction)
	return nil
}
