package marketplace

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/storefront-agent/internal/types"
)

// CredentialStore persists the single marketplace credential.
// GetCredential returns (nil, nil) when none has been stored yet.
type CredentialStore interface {
	GetCredential(ctx context.Context) (*types.Credential, error)
	ReplaceCredential(ctx context.Context, cred *types.Credential) error
}

// refreshFunc exchanges a refresh token for a new credential in a single attempt
type refreshFunc func(ctx context.Context, refreshToken string) (*types.Credential, error)

// CredentialManager resolves a valid access token, refreshing it when it is about to expire.
// Refreshes are serialized so a refresh token is never spent twice.
type CredentialManager struct {
	store       CredentialStore
	staticToken string
	refresh     refreshFunc
	now         func() time.Time
	logger      *zap.Logger
	mu          sync.Mutex
}

// NewCredentialManager creates a manager backed by store. staticToken is used, without
// refresh capability, when the store has no credential.
func NewCredentialManager(store CredentialStore, staticToken string, refresh refreshFunc, logger *zap.Logger) *CredentialManager {
	return &CredentialManager{
		store:       store,
		staticToken: staticToken,
		refresh:     refresh,
		now:         time.Now,
		logger:      logger.Named("credentials"),
	}
}

// GetValidToken returns an access token that is not within types.RefreshMargin of expiry
func (m *CredentialManager) GetValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cred *types.Credential
	if m.store != nil {
		var err error
		cred, err = m.store.GetCredential(ctx)
		if err != nil {
			return "", &NoCredentialError{Reason: "failed to read stored credential", Err: err}
		}
	}

	if cred == nil {
		if m.staticToken != "" {
			return m.staticToken, nil
		}
		return "", &NoCredentialError{Reason: "no stored credential and no static token configured"}
	}

	if !cred.NeedsRefresh(m.now()) {
		return cred.AccessToken, nil
	}

	if cred.RefreshToken == "" || m.refresh == nil {
		return "", &NoCredentialError{Reason: "credential expired and cannot be refreshed"}
	}

	m.logger.Info("credential_refresh", zap.Time("expires_at", cred.ExpiresAt))
	fresh, err := m.refresh(ctx, cred.RefreshToken)
	if err != nil {
		m.logger.Error("credential_refresh_failed", zap.Error(err))
		return "", &NoCredentialError{Reason: "refresh failed", Err: err}
	}

	if err := m.store.ReplaceCredential(ctx, fresh); err != nil {
		return "", &NoCredentialError{Reason: "failed to store refreshed credential", Err: err}
	}
	return fresh.AccessToken, nil
}

// Store saves a newly authorized credential
func (m *CredentialManager) Store(ctx context.Context, cred *types.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return &NoCredentialError{Reason: "no credential store configured"}
	}
	return m.store.ReplaceCredential(ctx, cred)
}
