package secrets

import (
	"context"
	"errors"
	"testing"

	"campusconnect/backend/pkg/config"
	"campusconnect/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapManager map[string]string

func (m mapManager) GetSecret(_ context.Context, key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", ErrSecretNotFound
}

type brokenManager struct{}

func (brokenManager) GetSecret(context.Context, string) (string, error) {
	return "", errors.New("permission denied")
}

func TestApplyOverridesOnlyKnownKeys(t *testing.T) {
	cfg := &config.Config{}
	cfg.JWT.Secret = "from-env"
	cfg.Webhook.IdentitySecret = "whsec_env"

	err := Apply(context.Background(), mapManager{KeyJWTSecret: "from-vault"}, cfg, logger.Discard())
	require.NoError(t, err)

	assert.Equal(t, "from-vault", cfg.JWT.Secret)
	assert.Equal(t, "whsec_env", cfg.Webhook.IdentitySecret)
}

func TestApplyPropagatesStoreErrors(t *testing.T) {
	err := Apply(context.Background(), brokenManager{}, &config.Config{}, logger.Discard())
	assert.Error(t, err)
}

func TestDisabledVaultFallsBackToEnvironment(t *testing.T) {
	t.Setenv("IDENTITY_WEBHOOK_SECRET", "whsec_abc")

	m, err := NewVaultManager(VaultConfig{Enabled: false}, logger.Discard())
	require.NoError(t, err)
	defer m.Close()

	v, err := m.GetSecret(context.Background(), "identity-webhook-secret")
	require.NoError(t, err)
	assert.Equal(t, "whsec_abc", v)

	_, err = m.GetSecret(context.Background(), "missing_key")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestEnabledVaultRequiresAddressAndToken(t *testing.T) {
	_, err := NewVaultManager(VaultConfig{Enabled: true}, logger.Discard())
	assert.ErrorIs(t, err, ErrNoVaultAddress)

	_, err = NewVaultManager(VaultConfig{Enabled: true, Address: "http://127.0.0.1:8200"}, logger.Discard())
	assert.ErrorIs(t, err, ErrNoVaultToken)
}
