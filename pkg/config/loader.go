package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, CHORUS_CONFIG env, ./config.yaml, /etc/chorus/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	// Apply environment variable overrides.
	applyEnvOverrides(&cfg)

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	// Fill per-entry defaults that YAML merging cannot provide.
	for i := range cfg.Credential.Keys {
		if cfg.Credential.Keys[i].Iterations == 0 {
			cfg.Credential.Keys[i].Iterations = DefaultKeyIterations
		}
	}

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. CHORUS_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/chorus/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	// Explicit path takes priority.
	if configPath != "" {
		return configPath
	}

	// Check CHORUS_CONFIG env var.
	if envPath := os.Getenv("CHORUS_CONFIG"); envPath != "" {
		return envPath
	}

	// Check common locations.
	candidates := []string{
		"config.yaml",
		"/etc/chorus/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps environment variables to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHORUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CHORUS_CREDENTIAL_STORE"); v != "" {
		cfg.Credential.Store = v
	}
	if v := os.Getenv("CHORUS_POSTGRES_DSN"); v != "" {
		cfg.Credential.Postgres.DSN = v
	}
	if v := os.Getenv("CHORUS_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}
	if v := os.Getenv("CHORUS_CACHE_CAPACITY"); v != "" {
		if capacity, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Capacity = capacity
		}
	}
	if v := os.Getenv("CHORUS_CACHE_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = ttl
		}
	}

	// CHORUS_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("CHORUS_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err == nil && len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	// CHORUS_KEYCHAIN: JSON array of keychain key configs.
	if v := os.Getenv("CHORUS_KEYCHAIN"); v != "" {
		keys, err := parseKeychainJSON(v)
		if err == nil && len(keys) > 0 {
			cfg.Credential.Keys = keys
		}
	}
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

// parseKeychainJSON parses a JSON array of keychain key configurations.
func parseKeychainJSON(jsonStr string) ([]KeyConfig, error) {
	var keys []KeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing keychain JSON: %w", err)
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// credential.postgres.dsn_file -> credential.postgres.dsn
	if cfg.Credential.Postgres.DSNFile != "" && cfg.Credential.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Credential.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("credential.postgres.dsn_file: %w", err)
		}
		cfg.Credential.Postgres.DSN = val
	}

	// credential.keys[*].passphrase_file -> credential.keys[*].passphrase
	for i := range cfg.Credential.Keys {
		if cfg.Credential.Keys[i].PassphraseFile != "" && cfg.Credential.Keys[i].Passphrase == "" {
			val, err := readSecretFile(cfg.Credential.Keys[i].PassphraseFile)
			if err != nil {
				return fmt.Errorf("credential.keys[%d].passphrase_file: %w", i, err)
			}
			cfg.Credential.Keys[i].Passphrase = val
		}
	}

	// auth.api_keys[*].key_file -> auth.api_keys[*].key
	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
