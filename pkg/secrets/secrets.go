package secrets

import (
	"context"
	"errors"

	"campusconnect/backend/pkg/config"
	"campusconnect/backend/pkg/logger"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)
}

// Secret keys looked up in the secret store
const (
	KeyJWTSecret             = "jwt_secret"
	KeyIdentityWebhookSecret = "identity_webhook_secret"
	KeyDatabasePassword      = "db_password"
)

// Apply overrides the sensitive parts of cfg with values held by m. Missing
// keys keep the values loaded from the environment.
func Apply(ctx context.Context, m Manager, cfg *config.Config, log *logger.Logger) error {
	targets := map[string]*string{
		KeyJWTSecret:             &cfg.JWT.Secret,
		KeyIdentityWebhookSecret: &cfg.Webhook.IdentitySecret,
		KeyDatabasePassword:      &cfg.Database.Password,
	}

	for key, target := range targets {
		value, err := m.GetSecret(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		*target = value
		log.Debug("Secret loaded from secret store", "key", key)
	}

	return nil
}
