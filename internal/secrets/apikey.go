// Package secrets stores the upstream provider key in the OS keychain so it
// does not have to live in config files or shell history.
package secrets

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zalando/go-keyring"

	"jobmate/search-service/internal/config"
)

// KeyringService groups this app's secrets in the OS keychain.
const KeyringService = "jobmate-search"

// ErrNotFound is returned when the keychain has no key for the account.
var ErrNotFound = errors.New("API key not found in keychain")

// GetAPIKey reads the provider key stored under account.
func GetAPIKey(account string) (string, error) {
	if strings.TrimSpace(account) == "" {
		return "", errors.New("keyring account name is empty")
	}
	key, err := keyring.Get(KeyringService, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring get: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrNotFound
	}
	return key, nil
}

// SetAPIKey stores key under account.
func SetAPIKey(account, key string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("API key is empty")
	}
	return keyring.Set(KeyringService, account, strings.TrimSpace(key))
}

// DeleteAPIKey removes the key stored under account.
func DeleteAPIKey(account string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	return keyring.Delete(KeyringService, account)
}

// ResolveAPIKey fills cfg.Upstream.APIKey from the keychain when neither the
// environment nor the config file provided one. It never fails startup: a
// missing entry or an unusable keychain leaves the key empty, and the search
// pipeline reports the missing key per request.
func ResolveAPIKey(cfg *config.Config, logger *slog.Logger) {
	if strings.TrimSpace(cfg.Upstream.APIKey) != "" || cfg.Upstream.KeyringAccount == "" {
		return
	}
	key, err := GetAPIKey(cfg.Upstream.KeyringAccount)
	switch {
	case errors.Is(err, ErrNotFound):
		return
	case err != nil:
		logger.Warn("keychain unavailable, continuing without stored API key",
			"account", cfg.Upstream.KeyringAccount, "err", err)
		return
	}
	cfg.Upstream.APIKey = key
}
