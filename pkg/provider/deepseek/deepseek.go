// Package deepseek adapts the DeepSeek platform, which speaks the Chat
// Completions wire format.
package deepseek

import (
	"github.com/chorus-llm/chorus/pkg/api"
	"github.com/chorus-llm/chorus/pkg/provider"
	"github.com/chorus-llm/chorus/pkg/provider/openaicompat"
)

const (
	// ID is the registry identifier.
	ID = "deepseek"

	// DefaultBaseURL is the hosted API root.
	DefaultBaseURL = "https://api.deepseek.com"
)

// Metadata describes DeepSeek's static capabilities.
func Metadata() provider.Metadata {
	return provider.Metadata{
		ID:                   ID,
		DisplayName:          "DeepSeek",
		DefaultModel:         "deepseek-chat",
		SupportsStreaming:    true,
		SupportsSystemPrompt: true,
		MaxContextLength:     65536,
		Models: []provider.ModelInfo{
			{ID: "deepseek-chat", ContextWindow: 65536, MaxOutputTokens: 8192},
			{ID: "deepseek-reasoner", ContextWindow: 65536, MaxOutputTokens: 65536},
		},
	}
}

// New creates an adapter against the hosted API.
func New(secret string) (provider.Adapter, error) {
	return NewWithBaseURL(secret, DefaultBaseURL)
}

// NewWithBaseURL creates an adapter against an alternate root.
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
