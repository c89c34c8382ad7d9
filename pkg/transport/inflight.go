package transport

import (
	"context"
	"sync"
)

// InFlightRegistry maps live stream IDs to their cancel functions so a
// DELETE on the stream's URL can abort it mid-flight. Safe for
// concurrent use.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]context.CancelFunc
}

func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{
		entries: make(map[string]context.CancelFunc),
	}
}

// Register records a live stream under id.
func (r *InFlightRegistry) Register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = cancel
}

// Cancel aborts the stream registered under id and forgets it. It
// reports false when the ID is unknown, which covers both streams that
// already finished and IDs that never existed.
func (r *InFlightRegistry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.entries[id]
	if !ok {
		return false
	}
	cancel()
	delete(r.entries, id)
	return true
}

// Remove forgets a stream that completed on its own.
func (r *InFlightRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}
