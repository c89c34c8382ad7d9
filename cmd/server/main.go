// Command server runs the chorus multi-provider LLM gateway.
//
// Configuration is layered: built-in defaults, then a YAML config file
// (-config flag, CHORUS_CONFIG env, ./config.yaml, /etc/chorus/config.yaml),
// then CHORUS_* environment variable overrides.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/chorus-llm/chorus/pkg/auth"
	"github.com/chorus-llm/chorus/pkg/auth/apikey"
	"github.com/chorus-llm/chorus/pkg/auth/jwt"
	"github.com/chorus-llm/chorus/pkg/auth/noop"
	"github.com/chorus-llm/chorus/pkg/cache"
	"github.com/chorus-llm/chorus/pkg/config"
	"github.com/chorus-llm/chorus/pkg/credential"
	credmemory "github.com/chorus-llm/chorus/pkg/credential/memory"
	credpostgres "github.com/chorus-llm/chorus/pkg/credential/postgres"
	"github.com/chorus-llm/chorus/pkg/debug"
	"github.com/chorus-llm/chorus/pkg/dispatch"
	"github.com/chorus-llm/chorus/pkg/provider"
	"github.com/chorus-llm/chorus/pkg/provider/anthropic"
	"github.com/chorus-llm/chorus/pkg/provider/deepseek"
	"github.com/chorus-llm/chorus/pkg/provider/ollama"
	"github.com/chorus-llm/chorus/pkg/provider/openai"
	transporthttp "github.com/chorus-llm/chorus/pkg/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	debug.Init(cfg.Observability.Debug, cfg.Observability.LogLevel)
	logger := slog.Default()
	if cats := debug.Categories(); len(cats) > 0 {
		logger.Info("debug logging enabled", "categories", cats)
	}

	// Keychain. Without configured keys a throwaway key is generated, so
	// stored credentials only live as long as the process.
	keyConfigs, ephemeral, err := keychainConfigs(cfg)
	if err != nil {
		return err
	}
	if ephemeral {
		logger.Warn("no keychain keys configured, using an ephemeral key; stored credentials will not survive a restart")
	}
	keychain, err := credential.NewKeychain(keyConfigs)
	if err != nil {
		return fmt.Errorf("building keychain: %w", err)
	}

	// Credential store.
	var store credential.Store
	switch cfg.Credential.Store {
	case "postgres":
		pg, err := credpostgres.New(context.Background(), credpostgres.Config{
			DSN:            cfg.Credential.Postgres.DSN,
			MaxConns:       cfg.Credential.Postgres.MaxConns,
			MigrateOnStart: cfg.Credential.Postgres.MigrateOnStart,
		})
		if err != nil {
			return fmt.Errorf("connecting credential store: %w", err)
		}
		defer pg.Close()
		store = pg
		logger.Info("credential store ready", "type", "postgres")
	default:
		store = credmemory.New()
		logger.Info("credential store ready", "type", "memory")
	}

	resolver := credential.NewResolver(store, keychain, logger)

	// Provider registry.
	registry := provider.NewRegistry()
	registerProviders(registry, cfg.Providers)
	logger.Info("providers registered", "count", len(registry.List()))

	// Response cache.
	var responseCache *cache.Cache
	if cfg.Cache.Enabled {
		responseCache = cache.New(cache.Options{
			Capacity:      cfg.Cache.Capacity,
			TTL:           cfg.Cache.TTL,
			SweepInterval: cfg.Cache.SweepInterval,
			Logger:        logger,
		})
		defer responseCache.Close()
	}

	dispatcher := dispatch.New(registry, resolver, responseCache, logger)

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithModelsMaxAge(cfg.Server.ModelsMaxAge),
		transporthttp.WithReadTimeout(cfg.Server.ReadTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithLogger(logger),
	}
	if mw := authMiddleware(cfg); mw != nil {
		opts = append(opts, transporthttp.WithAuthMiddleware(mw))
	}

	srv := transporthttp.NewServer(dispatcher, resolver, registry, opts...)

	// Keep the model catalogue fresh from the backends that answer
	// without a credential; the rest serve their static lists.
	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	defer stopRefresh()
	go provider.RefreshLoop(refreshCtx, registry, cfg.Server.ModelRefresh, logger)

	logger.Info("server starting", "port", cfg.Server.Port, "auth", cfg.Auth.Type, "cache_enabled", cfg.Cache.Enabled)
	return srv.ListenAndServe()
}

// keychainConfigs maps config key entries to keychain keys, generating a
// single ephemeral key when none are configured.
func keychainConfigs(cfg *config.Config) ([]credential.KeyConfig, bool, error) {
	if len(cfg.Credential.Keys) == 0 {
		pass, err := randomHex(32)
		if err != nil {
			return nil, false, fmt.Errorf("generating ephemeral key: %w", err)
		}
		salt, err := randomHex(16)
		if err != nil {
			return nil, false, fmt.Errorf("generating ephemeral salt: %w", err)
		}
		return []credential.KeyConfig{{
			Version:    1,
			Passphrase: pass,
			Salt:       salt,
			Iterations: config.DefaultKeyIterations,
		}}, true, nil
	}

	keys := make([]credential.KeyConfig, 0, len(cfg.Credential.Keys))
	for _, k := range cfg.Credential.Keys {
		keys = append(keys, credential.KeyConfig{
			Version:    k.Version,
			Passphrase: k.Passphrase,
			Salt:       k.Salt,
			Iterations: k.Iterations,
		})
	}
	return keys, false, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// registerProviders installs the configured adapters, or all known ones
// when the list is empty. A base_url override replaces the factory with
// one bound to the alternate endpoint.
func registerProviders(r *provider.Registry, configured []config.ProviderConfig) {
	if len(configured) == 0 {
		openai.Register(r)
		deepseek.Register(r)
		anthropic.Register(r)
		ollama.Register(r)
		return
	}

	type entry struct {
		meta    func() provider.Metadata
		factory func(secret, baseURL string) (provider.Adapter, error)
		defURL  func() string
	}
	known := map[string]entry{
		openai.ID:    {openai.Metadata, openai.NewWithBaseURL, func() string { return openai.DefaultBaseURL }},
		deepseek.ID:  {deepseek.Metadata, deepseek.NewWithBaseURL, func() string { return deepseek.DefaultBaseURL }},
		anthropic.ID: {anthropic.Metadata, anthropic.NewWithBaseURL, func() string { return anthropic.DefaultBaseURL }},
		ollama.ID:    {ollama.Metadata, ollama.NewWithBaseURL, func() string { return ollama.DefaultBaseURL }},
	}

	for _, pc := range configured {
		e, ok := known[pc.ID]
		if !ok {
			continue // validation already rejects unknown IDs
		}
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = e.defURL()
		}
		factory := e.factory
		r.Register(e.meta(), func(secret string) (provider.Adapter, error) {
			return factory(secret, baseURL)
		})
	}
}

// authMiddleware builds the HTTP auth middleware for the configured auth
// type. Returns nil when authentication is disabled.
func authMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	if cfg.Auth.Type == "none" || cfg.Auth.Type == "" {
		// Rate limiting without authentication still needs an identity
		// to key the limiter, so every caller becomes anonymous.
		if !cfg.Auth.RateLimit.Enabled {
			return nil
		}
		chain := &auth.Chain{
			Authenticators:  []auth.Authenticator{&noop.Authenticator{}},
			DefaultDecision: auth.Yes,
		}
		return auth.Middleware(chain, buildLimiter(cfg), auth.DefaultBypassEndpoints)
	}

	chain := &auth.Chain{DefaultDecision: auth.No}

	switch cfg.Auth.Type {
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					ServiceTier: k.ServiceTier,
				},
			})
		}
		chain.Authenticators = append(chain.Authenticators, apikey.New(entries))
	case "jwt":
		chain.Authenticators = append(chain.Authenticators, jwt.New(jwt.Config{
			Issuer:      cfg.Auth.JWT.Issuer,
			Audience:    cfg.Auth.JWT.Audience,
			JWKSURL:     cfg.Auth.JWT.JWKSURL,
			CacheTTL:    cfg.Auth.JWT.CacheTTL,
			UserClaim:   cfg.Auth.JWT.UserClaim,
			TierClaim:   cfg.Auth.JWT.TierClaim,
			ScopesClaim: cfg.Auth.JWT.ScopesClaim,
		}))
	}

	return auth.Middleware(chain, buildLimiter(cfg), auth.DefaultBypassEndpoints)
}

// buildLimiter constructs the per-tier rate limiter, or nil when disabled.
func buildLimiter(cfg *config.Config) auth.RateLimiter {
	if !cfg.Auth.RateLimit.Enabled {
		return nil
	}
	tiers := make(map[string]auth.TierConfig, len(cfg.Auth.RateLimit.Tiers))
	for tier, rpm := range cfg.Auth.RateLimit.Tiers {
		tiers[tier] = auth.TierConfig{RequestsPerMinute: rpm}
	}
	return auth.NewInProcessLimiter(tiers, cfg.Auth.RateLimit.DefaultRPM)
}
