package config

import (
	"errors"
	"fmt"
)

// knownProviders are the adapter IDs the gateway can construct.
var knownProviders = map[string]bool{
	"openai":    true,
	"deepseek":  true,
	"anthropic": true,
	"ollama":    true,
}

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// server.port must be positive.
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	// providers must name known adapters, each at most once.
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if !knownProviders[p.ID] {
			errs = append(errs, fmt.Errorf("providers[%d].id %q is not a known provider", i, p.ID))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("providers[%d].id %q is listed twice", i, p.ID))
		}
		seen[p.ID] = true
	}

	// credential.store must be a known value.
	switch c.Credential.Store {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("credential.store must be \"memory\" or \"postgres\", got %q", c.Credential.Store))
	}

	// If credential.store is "postgres", DSN or DSNFile must be set, and
	// keychain keys must be configured so stored envelopes stay readable
	// across restarts. A memory store may run without keys; an ephemeral
	// key is generated at startup.
	if c.Credential.Store == "postgres" {
		if c.Credential.Postgres.DSN == "" && c.Credential.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("credential.postgres.dsn or credential.postgres.dsn_file is required when credential.store is \"postgres\""))
		}
		if len(c.Credential.Keys) == 0 {
			errs = append(errs, fmt.Errorf("credential.keys is required when credential.store is \"postgres\""))
		}
	}

	// Each configured key needs a version, passphrase source, and salt.
	for i, k := range c.Credential.Keys {
		if k.Version <= 0 {
			errs = append(errs, fmt.Errorf("credential.keys[%d].version must be > 0, got %d", i, k.Version))
		}
		if k.Passphrase == "" && k.PassphraseFile == "" {
			errs = append(errs, fmt.Errorf("credential.keys[%d].passphrase or passphrase_file is required", i))
		}
		if k.Salt == "" {
			errs = append(errs, fmt.Errorf("credential.keys[%d].salt is required", i))
		}
	}

	// cache.capacity must be positive when the cache is enabled.
	if c.Cache.Enabled && c.Cache.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("cache.capacity must be > 0, got %d", c.Cache.Capacity))
	}

	// auth.type must be a known value.
	switch c.Auth.Type {
	case "none", "apikey", "jwt":
		// valid
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	// auth.type=jwt needs a JWKS endpoint.
	if c.Auth.Type == "jwt" && c.Auth.JWT.JWKSURL == "" {
		errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
	}

	return errors.Join(errs...)
}
