package provider

import (
	"sort"
	"sync"

	"github.com/chorus-llm/chorus/pkg/api"
)

// Factory constructs an adapter bound to an already-resolved, decrypted
// credential. Construction must be cheap and side-effect-free: no network
// I/O happens until the adapter is used.
type Factory func(secret string) (Adapter, error)

// Registry is the static catalogue of provider metadata and adapter
// factories. Registration happens at startup; lookups are concurrent-safe.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	metadata  map[string]Metadata
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		metadata:  make(map[string]Metadata),
	}
}

// Register adds a provider. Registering the same identifier twice replaces
// the earlier entry; last registration wins.
func (r *Registry) Register(meta Metadata, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata[meta.ID] = meta
	r.factories[meta.ID] = factory
}

// Get returns the metadata for a provider identifier.
func (r *Registry) Get(id string) (Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.metadata[id]
	if !ok {
		return Metadata{}, api.NewUnknownProviderError(id)
	}
	return meta, nil
}

// List returns all registered provider metadata, sorted by identifier.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.metadata))
	for _, meta := range r.metadata {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateAdapter resolves an identifier to a fresh adapter bound to the
// given credential. Unknown identifiers are a distinct error kind and
// never a crash.
func (r *Registry) CreateAdapter(id, secret string) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, api.NewUnknownProviderError(id)
	}
	return factory(secret)
}

// RefreshModels replaces a provider's static model list with a live one.
// Called by the owning process on a refresh interval; a provider that is
// not registered is ignored.
func (r *Registry) RefreshModels(id string, models []ModelInfo) {
	if len(models) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.metadata[id]
	if !ok {
		return
	}
	meta.Models = models
	r.metadata[id] = meta
}
