package transport

import (
	"context"

	"github.com/chorus-llm/chorus/pkg/api"
	"github.com/chorus-llm/chorus/pkg/provider"
)

// Dispatcher handles one blocking chat dispatch. It is the unit the
// middleware chain wraps: the HTTP adapter builds the chain once and
// routes every non-streaming request through it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error)
}

// DispatcherFunc is an adapter that allows using an ordinary function
// as a Dispatcher.
type DispatcherFunc func(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error)

// Dispatch calls f(ctx, req).
func (f DispatcherFunc) Dispatch(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	return f(ctx, req)
}

// StreamDispatcher starts a streaming chat dispatch. The returned channel
// is closed by the producer after exactly one terminal chunk; the caller
// cancels by cancelling ctx and must drain the channel afterwards.
type StreamDispatcher interface {
	DispatchStream(ctx context.Context, req *api.ChatRequest) (<-chan api.ChatChunk, error)
}

// ChatService is the full dispatch contract the HTTP adapter programs
// against. pkg/dispatch provides the concrete implementation.
type ChatService interface {
	Dispatcher
	StreamDispatcher

	// TestProvider probes a provider backend using the caller's stored
	// credential and reports reachability and latency.
	TestProvider(ctx context.Context, userID, providerID string) (provider.ConnectionResult, error)
}

// CredentialService manages stored provider credentials for the HTTP
// credential endpoints. Secrets flow in through Save only; no operation
// returns plaintext to the client.
type CredentialService interface {
	// Save encrypts and stores a secret for (userID, providerID).
	Save(ctx context.Context, userID, providerID, secret string) error

	// Delete removes the stored credential. Deleting an absent
	// credential is not an error.
	Delete(ctx context.Context, userID, providerID string) error

	// Providers lists the provider IDs the user has credentials for.
	Providers(ctx context.Context, userID string) ([]string, error)
}

// ModelCatalog exposes the provider registry to the models endpoint.
type ModelCatalog interface {
	// List returns the metadata of every registered provider, sorted
	// by ID.
	List() []provider.Metadata
}
