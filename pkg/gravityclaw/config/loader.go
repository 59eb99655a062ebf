package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load reads path, or the first file FindConfigFile finds when path is empty.
// Without any file the defaults are used, so a pure .env setup works. Secrets
// left empty are resolved from the keyring and the environment.
func Load(path string) (*Config, string, error) {
	loadEnvFiles()

	if path == "" {
		path = FindConfigFile()
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("reading config file: %w", err)
		}
		cfg, err = Parse(data)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", path, err)
		}
		checkFilePermissions(path)

		abs, err := filepath.Abs(path)
		if err == nil {
			cfg.ResolvePaths(filepath.Dir(abs))
		}
	}

	if err := ResolveSecrets(cfg); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// Parse expands environment references in data and decodes it over the
// defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	expanded := ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML with owner-only permissions.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile returns the first existing candidate: ./config.yaml,
// ./gravityclaw.yaml, then ~/.gravityclaw/config.yaml.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"gravityclaw.yaml",
	}
	if dir := homeConfigDir(); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// DefaultConfigPath is where setup writes a new config.
func DefaultConfigPath() string {
	if dir := homeConfigDir(); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	return "config.yaml"
}

// ExpandEnv replaces ${VAR} and ${VAR:-default}. Unset variables without a
// default are left in place.
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(m[1]); ok && val != "" {
			return val
		}
		if strings.Contains(match, ":-") {
			return m[2]
		}
		return match
	})
}

// loadEnvFiles loads .env and .env.local; existing variables win.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// checkFilePermissions warns if the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
