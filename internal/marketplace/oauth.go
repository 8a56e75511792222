package marketplace

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonathan/storefront-agent/internal/metrics"
	"github.com/jonathan/storefront-agent/internal/types"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// DefaultScopes are requested by AuthorizeURL when none are given
var DefaultScopes = []string{"listings_r", "listings_w", "transactions_r"}

// PKCE is a proof key pair for one authorization attempt
type PKCE struct {
	Verifier  string
	Challenge string
}

// NewPKCE generates a random S256 verifier and challenge
func NewPKCE() (PKCE, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return PKCE{}, fmt.Errorf("failed to generate verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(verifier))
	return PKCE{Verifier: verifier, Challenge: base64.RawURLEncoding.EncodeToString(sum[:])}, nil
}

// AuthorizeURL builds the consent URL the operator visits to grant access
func (c *Client) AuthorizeURL(state, challenge string, scopes []string) string {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {c.cfg.APIKey},
		"redirect_uri":          {c.cfg.RedirectURI},
		"scope":                 {strings.Join(scopes, " ")},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	return c.cfg.AuthURL + "?" + q.Encode()
}

// ExchangeCode trades an authorization code (PKCE) for the first credential and stores it
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*types.Credential, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.cfg.APIKey},
		"redirect_uri":  {c.cfg.RedirectURI},
		"code":          {code},
		"code_verifier": {verifier},
	}

	cred, err := c.postToken(ctx, form)
	if err != nil {
		return nil, err
	}
	if err := c.creds.Store(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// refreshToken makes exactly one attempt and is never routed through the retry loop
func (c *Client) refreshToken(ctx context.Context, refreshToken string) (*types.Credential, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.cfg.APIKey},
		"refresh_token": {refreshToken},
	}
	return c.postToken(ctx, form)
}

func (c *Client) postToken(ctx context.Context, form url.Values) (*types.Credential, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveRemote(http.MethodPost, 0)
		return nil, &RemoteError{Method: http.MethodPost, Path: "oauth/token", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ObserveRemote(http.MethodPost, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{Method: http.MethodPost, Path: "oauth/token", Status: resp.StatusCode, Body: truncate(body, maxErrorBody)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &MalformedResponseError{Path: "oauth/token", Status: resp.StatusCode, Err: err}
	}
	if tr.AccessToken == "" {
		return nil, &MalformedResponseError{Path: "oauth/token", Status: resp.StatusCode, Err: fmt.Errorf("missing access_token")}
	}

	return &types.Credential{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    c.creds.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
		Scopes:       strings.Fields(tr.Scope),
	}, nil
}
