// Package openai adapts the OpenAI platform. The wire format is the
// canonical Chat Completions shape, so nearly everything is inherited
// from openaicompat.
package openai

import (
	"github.com/chorus-llm/chorus/pkg/api"
	"github.com/chorus-llm/chorus/pkg/provider"
	"github.com/chorus-llm/chorus/pkg/provider/openaicompat"
)

const (
	// ID is the registry identifier.
	ID = "openai"

	// DefaultBaseURL is the hosted API root.
	DefaultBaseURL = "https://api.openai.com"
)

// Metadata describes OpenAI's static capabilities. The model list is the
// fallback when a live fetch fails; RefreshModels replaces it at runtime.
func Metadata() provider.Metadata {
	return provider.Metadata{
		ID:                   ID,
		DisplayName:          "OpenAI",
		DefaultModel:         "gpt-4o-mini",
		SupportsStreaming:    true,
		SupportsSystemPrompt: true,
		MaxContextLength:     128000,
		Models: []provider.ModelInfo{
			{ID: "gpt-4o", ContextWindow: 128000, MaxOutputTokens: 16384},
			{ID: "gpt-4o-mini", ContextWindow: 128000, MaxOutputTokens: 16384},
			{ID: "gpt-4-turbo", ContextWindow: 128000, MaxOutputTokens: 4096},
		},
	}
}

// New creates an adapter against the hosted API.
func New(secret string) (provider.Adapter, error) {
	return NewWithBaseURL(secret, DefaultBaseURL)
}

// NewWithBaseURL creates an adapter against an alternate root, for proxies
// and tests.
func NewWithBaseURL(secret, baseURL string) (provider.Adapter, error) {
	if secret == "" {
		return nil, api.NewCredentialError(ID, "API key is required")
	}
	return openaicompat.New(openaicompat.Config{
		Name:     ID,
		BaseURL:  baseURL,
		APIKey:   secret,
		Metadata: Metadata(),
	}), nil
}

// Register installs the adapter factory into a registry.
func Register(r *provider.Registry) {
	r.Register(Metadata(), New)
}
