package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/storefront-agent/internal/config"
	"github.com/jonathan/storefront-agent/internal/server"
)

// isolateEnv clears the variables a developer .env may set and points file storage at a
// temporary directory
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "GEMINI_API_KEY", "GOOGLE_SEARCH_API_KEY", "GOOGLE_SEARCH_CX",
		"JWT_SECRET", "MARKETPLACE_STATIC_TOKEN", "RECONCILE_INTERVAL",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("BLOB_DIR", t.TempDir())
	t.Setenv("MARKETPLACE_API_KEY", "test-key")
	t.Setenv("MARKETPLACE_REDIRECT_URI", "http://localhost:8080/oauth/callback")
}

// execute runs the root command in-process with flags reset to their defaults
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, useMemory, verbose = "", false, false
	authCode, authVerifier = "", ""
	tokenOperator = "operator"
	runsJSON, runsPhase, runsStatus, runsLimit = false, "", "", 20

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestToken_IssuesValidToken(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", "a-sufficiently-long-secret")

	out, err := execute(t, "token", "--operator", "ci")
	require.NoError(t, err)

	svc := server.NewJWTService(&config.JWTConfig{Secret: "a-sufficiently-long-secret", ExpirationHours: 24})
	claims, err := svc.ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.GetOperator())
}

func TestToken_RequiresSecret(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "token")
	assert.ErrorContains(t, err, "JWT_SECRET is not set")
}

func TestMigrate_RequiresDatabase(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "migrate", "up")
	assert.ErrorContains(t, err, "DATABASE_URL is required")
}

func TestMigrate_RejectsUnknownDirection(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "migrate", "sideways")
	assert.Error(t, err)
}

func TestRuns_MemoryStoreIsEmpty(t *testing.T) {
	isolateEnv(t)
	out, err := execute(t, "--memory", "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "PHASE")

	out, err = execute(t, "--memory", "runs", "--json")
	require.NoError(t, err)
	assert.Equal(t, "null", strings.TrimSpace(out))
}

func TestStore_RequiresDatabaseWithoutMemory(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "runs")
	assert.ErrorContains(t, err, "--memory")
}

func TestAuthorize_PrintsConsentURL(t *testing.T) {
	isolateEnv(t)
	out, err := execute(t, "--memory", "authorize")
	require.NoError(t, err)
	assert.Contains(t, out, "code_challenge=")
	assert.Contains(t, out, "client_id=test-key")
	assert.Contains(t, out, "verifier: ")
}

func TestAuthorize_CodeNeedsVerifier(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "--memory", "authorize", "--code", "abc")
	assert.Error(t, err)
}

func TestResearch_RequiresLLMKey(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "--memory", "research", "--category", "planners")
	assert.ErrorContains(t, err, "GEMINI_API_KEY is required")
}

func TestGenerate_InvalidReport(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "--memory", "generate", "--opportunity", "o1", "--report", "nope")
	assert.ErrorContains(t, err, "invalid --report")
}

func TestApprove_InvalidID(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "--memory", "approve", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid entity id")
}
