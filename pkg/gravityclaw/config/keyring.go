package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used in the OS keyring.
const KeyringService = "gravityclaw"

// Secret describes one credential: its keyring key and environment variable.
type Secret struct {
	Key string
	Env string

	field func(*Config) *string
}

// Secrets lists every credential, in resolution order of importance.
var Secrets = []Secret{
	{Key: "telegram_token", Env: "TELEGRAM_BOT_TOKEN", field: func(c *Config) *string { return &c.Telegram.Token }},
	{Key: "openrouter_api_key", Env: "OPENROUTER_API_KEY", field: func(c *Config) *string { return &c.Providers.OpenRouter.APIKey }},
	{Key: "google_api_key", Env: "GOOGLE_API_KEY", field: func(c *Config) *string { return &c.Providers.Gemini.APIKey }},
	{Key: "groq_api_key", Env: "GROQ_API_KEY", field: func(c *Config) *string { return &c.Providers.Groq.APIKey }},
	{Key: "elevenlabs_api_key", Env: "ELEVENLABS_API_KEY", field: func(c *Config) *string { return &c.Providers.ElevenLabs.APIKey }},
	{Key: "tavily_api_key", Env: "TAVILY_API_KEY", field: func(c *Config) *string { return &c.Providers.Tavily.APIKey }},
}

// LookupSecret finds a secret by keyring key or env name.
func LookupSecret(name string) (Secret, bool) {
	for _, s := range Secrets {
		if strings.EqualFold(s.Key, name) || strings.EqualFold(s.Env, name) {
			return s, true
		}
	}
	return Secret{}, false
}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(KeyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring. Returns "" if not found
// or the keyring is unavailable.
func GetKeyring(key string) string {
	val, err := keyring.Get(KeyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	err := keyring.Delete(KeyringService, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%s is not stored in the keyring", key)
	}
	return err
}

// ResolveSecrets fills empty or unexpanded secrets from the keyring, then
// from the environment, and applies ALLOWED_USER_IDS when the YAML has no
// whitelist.
func ResolveSecrets(cfg *Config) error {
	for _, s := range Secrets {
		p := s.field(cfg)
		if *p != "" && !isEnvReference(*p) {
			continue
		}
		if v := GetKeyring(s.Key); v != "" {
			*p = v
			continue
		}
		if v := os.Getenv(s.Env); v != "" {
			*p = v
			continue
		}
		*p = ""
	}

	if len(cfg.Telegram.AllowedUsers) == 0 {
		if raw := os.Getenv("ALLOWED_USER_IDS"); raw != "" {
			ids, err := parseUserIDs(raw)
			if err != nil {
				return fmt.Errorf("ALLOWED_USER_IDS: %w", err)
			}
			cfg.Telegram.AllowedUsers = ids
		}
	}
	return nil
}

// isEnvReference reports whether s is an unexpanded ${VAR}.
func isEnvReference(s string) bool {
	return strings.HasPrefix(s, "${")
}
