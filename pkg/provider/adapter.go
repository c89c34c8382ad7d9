package provider

import (
	"context"
	"time"

	"github.com/chorus-llm/chorus/pkg/api"
)

// Default timeouts for provider operations. Streaming calls rely on
// context cancellation plus an idle-read timeout instead of an overall
// deadline.
const (
	DefaultChatTimeout       = 60 * time.Second
	DefaultProbeTimeout      = 10 * time.Second
	DefaultStreamIdleTimeout = 90 * time.Second
)

// ModelInfo describes one model a provider can serve.
type ModelInfo struct {
	ID                 string  `json:"id"`
	MaxOutputTokens    int     `json:"max_output_tokens,omitempty"`
	ContextWindow      int     `json:"context_window,omitempty"`
	InputPricePerMTok  float64 `json:"input_price_per_mtok,omitempty"`
	OutputPricePerMTok float64 `json:"output_price_per_mtok,omitempty"`
}

// Metadata is the immutable capability description of one provider,
// loaded at process start. It may be refreshed from a backend's live
// model list but always falls back to this static copy on failure.
type Metadata struct {
	ID                   string      `json:"id"`
	DisplayName          string      `json:"display_name"`
	Models               []ModelInfo `json:"models"`
	DefaultModel         string      `json:"default_model,omitempty"`
	SupportsStreaming    bool        `json:"supports_streaming"`
	SupportsSystemPrompt bool        `json:"supports_system_prompt"`
	MaxContextLength     int         `json:"max_context_length,omitempty"`
}

// ConnectionResult reports the outcome of a lightweight capability probe.
type ConnectionResult struct {
	Success bool          `json:"success"`
	Latency time.Duration `json:"latency,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Adapter is the uniform chat contract one backend implements. It owns
// exactly the translation between the uniform message shape and that
// backend's wire protocol, and between native errors and the shared
// taxonomy in package api.
//
// Implementations must be safe for concurrent use by multiple goroutines
// and must not perform network I/O at construction time.
type Adapter interface {
	// Name returns the provider identifier (e.g., "openai").
	Name() string

	// Metadata returns the static capability description.
	Metadata() Metadata

	// TestConnection probes the backend (typically by listing models),
	// bounded by a short timeout. It never propagates raw transport
	// errors; failures are folded into the result.
	TestConnection(ctx context.Context) ConnectionResult

	// Chat performs a blocking completion, bounded by DefaultChatTimeout.
	Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error)

	// StreamChat produces a lazy, single-pass, finite chunk sequence.
	// The channel is closed after exactly one terminal chunk; the
	// consumer cancels by cancelling ctx.
	StreamChat(ctx context.Context, req *api.ChatRequest) (<-chan api.ChatChunk, error)

	// Models attempts a live model fetch and degrades to the static
	// metadata list on any failure. Live-fetch failures never surface
	// as request errors.
	Models(ctx context.Context) []ModelInfo

	// Close releases adapter resources (idle HTTP connections).
	Close() error
}
