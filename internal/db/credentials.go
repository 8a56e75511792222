package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonathan/storefront-agent/internal/types"
)

// marketplaceCredentialID is the key of the single stored marketplace credential
const marketplaceCredentialID = "marketplace"

// GetCredential returns the stored marketplace credential, or nil if none has been authorized
func (db *DB) GetCredential(ctx context.Context) (*types.Credential, error) {
	var cred types.Credential
	var scopes []byte
	err := db.pool.QueryRow(ctx,
		`SELECT access_token, refresh_token, expires_at, scopes FROM credentials WHERE id = $1`,
		marketplaceCredentialID,
	).Scan(&cred.AccessToken, &cred.RefreshToken, &cred.ExpiresAt, &scopes)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &cred.Scopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
		}
	}
	return &cred, nil
}

// ReplaceCredential overwrites the stored credential. Access and refresh tokens are always
// replaced together.
func (db *DB) ReplaceCredential(ctx context.Context, cred *types.Credential) error {
	scopes, err := json.Marshal(nonNil(cred.Scopes))
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO credentials (id, access_token, refresh_token, expires_at, scopes)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET access_token = $2, refresh_token = $3, expires_at = $4, scopes = $5, updated_at = NOW()`,
		marketplaceCredentialID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt, scopes,
	)
	if err != nil {
		return fmt.Errorf("failed to replace credential: %w", err)
	}
	return nil
}
