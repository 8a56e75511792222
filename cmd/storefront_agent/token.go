package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/storefront-agent/internal/config"
	"github.com/jonathan/storefront-agent/internal/server"
)

var tokenOperator string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator token for the REST API",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "operator", "Operator name recorded in the token")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	jwtCfg, err := cfg.JWT()
	if err != nil {
		return err
	}
	if jwtCfg == nil {
		return fmt.Errorf("JWT_SECRET is not set; the API is unauthenticated")
	}
	token, err := server.NewJWTService(jwtCfg).GenerateToken(tokenOperator)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
