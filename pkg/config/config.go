// Package config provides unified configuration for the chorus gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (CHORUS_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the chorus gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     []ProviderConfig    `yaml:"providers"`
	Credential    CredentialConfig    `yaml:"credential"`
	Cache         CacheConfig         `yaml:"cache"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`

	// Debug lists comma-separated debug categories (CHORUS_DEBUG overrides).
	Debug string `yaml:"debug"`

	// LogLevel sets the slog level (CHORUS_LOG_LEVEL overrides).
	LogLevel string `yaml:"log_level"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 0 (streaming responses have no deadline)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 10s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 10 MiB
	ModelsMaxAge    int           `yaml:"models_max_age"`   // Cache-Control max-age for /v1/models, default: 300
	ModelRefresh    time.Duration `yaml:"model_refresh"`    // live model list refresh interval, default: 15m, 0 disables
}

// ProviderConfig enables one provider adapter, optionally overriding its
// backend endpoint. Known IDs are "openai", "deepseek", "anthropic", and
// "ollama". An empty providers list enables all of them with default
// endpoints.
type ProviderConfig struct {
	ID      string `yaml:"id"`
	BaseURL string `yaml:"base_url"` // optional endpoint override
}

// CredentialConfig holds credential store and keychain settings.
type CredentialConfig struct {
	Store    string         `yaml:"store"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
	Keys     []KeyConfig    `yaml:"keys"` // keychain key versions, newest seals
}

// KeyConfig describes one keychain derivation key.
type KeyConfig struct {
	Version        int    `yaml:"version"`
	Passphrase     string `yaml:"passphrase"`
	PassphraseFile string `yaml:"passphrase_file"` // _file variant for passphrase
	Salt           string `yaml:"salt"`
	Iterations     int    `yaml:"iterations"` // default: 600000
}

// DefaultKeyIterations is applied to keychain keys that leave the
// iteration count unset.
const DefaultKeyIterations = 600_000

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"` // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`        // default: true
	Capacity      int           `yaml:"capacity"`       // default: 1024
	TTL           time.Duration `yaml:"ttl"`            // default: 5m
	SweepInterval time.Duration `yaml:"sweep_interval"` // default: 1m, 0 disables the sweeper
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`     // "none", "apikey", or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // API key entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key"`
	KeyFile     string `yaml:"key_file"` // _file variant for key
	Subject     string `yaml:"subject"`
	ServiceTier string `yaml:"service_tier"`
}

// JWTConfig holds JWT validation settings for auth.type=jwt.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	JWKSURL     string        `yaml:"jwks_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"` // default: 1h
	UserClaim   string        `yaml:"user_claim"`
	TierClaim   string        `yaml:"tier_claim"`
	ScopesClaim string        `yaml:"scopes_claim"`
}

// RateLimitConfig holds per-tier request rate settings.
type RateLimitConfig struct {
	Enabled    bool           `yaml:"enabled"`
	DefaultRPM int            `yaml:"default_rpm"` // default: 60
	Tiers      map[string]int `yaml:"tiers"`       // tier name -> requests per minute
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodySize:     10 << 20,
			ModelsMaxAge:    300,
			ModelRefresh:    15 * time.Minute,
		},
		Credential: CredentialConfig{
			Store: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Cache: CacheConfig{
			Enabled:       true,
			Capacity:      1024,
			TTL:           5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Auth: AuthConfig{
			Type: "none",
			JWT: JWTConfig{
				CacheTTL: time.Hour,
			},
			RateLimit: RateLimitConfig{
				DefaultRPM: 60,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
