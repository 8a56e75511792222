package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/storefront-agent/internal/marketplace"
)

var (
	authCode     string
	authVerifier string
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Connect the agent to the marketplace account",
	Long: `Without flags, print a consent URL and the PKCE verifier to keep. After granting access,
run again with --code (from the redirect) and --verifier to store the first credential.`,
	RunE: runAuthorize,
}

func init() {
	authorizeCmd.Flags().StringVar(&authCode, "code", "", "Authorization code from the redirect")
	authorizeCmd.Flags().StringVar(&authVerifier, "verifier", "", "PKCE verifier printed by the first step")
	authorizeCmd.MarkFlagsRequiredTogether("code", "verifier")
	rootCmd.AddCommand(authorizeCmd)
}

func runAuthorize(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if authCode == "" {
		pkce, err := marketplace.NewPKCE()
		if err != nil {
			return err
		}
		state := uuid.NewString()
		fmt.Fprintf(out, "Open this URL and grant access:\n\n  %s\n\n", a.market.AuthorizeURL(state, pkce.Challenge, nil))
		fmt.Fprintf(out, "state:    %s\nverifier: %s\n", state, pkce.Verifier)
		return nil
	}

	cred, err := a.market.ExchangeCode(ctx, authCode, authVerifier)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "authorized, token expires at %s\n", cred.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
