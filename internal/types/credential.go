package types

import "time"

// RefreshMargin is how close to expiry a token may get before it is refreshed
const RefreshMargin = 5 * time.Minute

// Credential is an OAuth access/refresh token pair for the marketplace
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes"`
}

// NeedsRefresh reports whether the token expires within RefreshMargin of now
func (c *Credential) NeedsRefresh(now time.Time) bool {
	return c.ExpiresAt.Sub(now) < RefreshMargin
}
