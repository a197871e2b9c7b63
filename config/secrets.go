package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when a secret store has no value for a key.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves named secrets.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from environment variables. A
// "<KEY>_FILE" variable names a file holding the secret, as mounted by
// container orchestrators; the plain variable wins when both are set.
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

func (EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, nil
	}
	if path, ok := os.LookupEnv(key + "_FILE"); ok && path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - operator supplied path
		if err != nil {
			return "", fmt.Errorf("read secret file for %s: %w", key, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
}

func (s EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// Secret names consulted by LoadSecrets.
const (
	SecretRedisPassword = "PLAYKIT_SECRET_REDIS_PASSWORD"
	SecretSQLDSN        = "PLAYKIT_SECRET_SQL_DSN"
	SecretWebhook       = "PLAYKIT_SECRET_WEBHOOK"
	SecretAPIKeys       = "PLAYKIT_SECRET_API_KEYS"
)

// LoadSecrets fills credentials from store. Missing secrets keep the
// current value; any other store error aborts.
func (c *Config) LoadSecrets(ctx context.Context, store SecretStore) error {
	set := func(key string, apply func(string)) error {
		v, err := store.Get(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		apply(v)
		return nil
	}
	return errors.Join(
		set(SecretRedisPassword, func(v string) { c.Storage.Redis.Password = v }),
		set(SecretSQLDSN, func(v string) { c.Storage.SQL.DSN = v }),
		set(SecretWebhook, func(v string) { c.Webhooks.Secret = v }),
		set(SecretAPIKeys, func(v string) {
			var keys []string
			for _, k := range strings.Split(v, ",") {
				if k = strings.TrimSpace(k); k != "" {
					keys = append(keys, k)
				}
			}
			c.Security.APIKeys = keys
		}),
	)
}

// LoadSecretsFromEnv is LoadSecrets over the environment.
func (c *Config) LoadSecretsFromEnv(ctx context.Context) error {
	return c.LoadSecrets(ctx, NewEnvironmentSecretStore())
}
