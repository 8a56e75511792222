package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT(t *testing.T) {
	tests := []struct {
		name      string
		secret    string
		hours     int
		wantNil   bool
		wantErr   string
		wantHours int
	}{
		{name: "no secret disables auth", wantNil: true},
		{name: "valid", secret: "0123456789abcdef", hours: 12, wantHours: 12},
		{name: "short secret", secret: "short", hours: 24, wantErr: "at least 16 characters"},
		{name: "zero hours", secret: "0123456789abcdef", hours: 0, wantErr: "at least 1 hour"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{JWTSecret: tt.secret, JWTExpirationHours: tt.hours}

			jc, err := cfg.JWT()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, jc)
				return
			}
			assert.Equal(t, tt.secret, jc.Secret)
			assert.Equal(t, tt.wantHours, jc.ExpirationHours)
		})
	}
}

func TestJWT_FromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret-0123456789")
	t.Setenv("JWT_EXPIRATION_HOURS", "48")

	cfg := LoadFromEnv(Default())
	jc, err := cfg.JWT()
	require.NoError(t, err)
	require.NotNil(t, jc)
	assert.Equal(t, 48, jc.ExpirationHours)
}
