// Package main provides the entry point for the storefront agent CLI and HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	useMemory  bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "storefront_agent",
	Short: "Storefront Agent",
	Long: `Storefront Agent researches marketplace demand, generates digital products with an LLM,
gates them on quality, publishes approved products as listings and reconciles the resulting sales.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.json (environment variables override file values)")
	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false, "Use the in-memory store instead of PostgreSQL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
