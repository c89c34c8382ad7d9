// Package credential stores and resolves per-user provider secrets.
//
// Secrets are sealed at rest with a versioned keychain and only decrypted
// at the moment of provider invocation. Nothing in this package ever logs
// or returns a plaintext secret except Resolver.Resolve, whose callers
// hand the value straight to a provider adapter.
package credential

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for credential operations.
var (
	// ErrAbsent is returned when no credential is stored for the given
	// user and provider. Absence is an expected state, not a failure.
	ErrAbsent = errors.New("credential not found")

	// ErrConflict is returned when a credential already exists and the
	// operation does not allow overwriting.
	ErrConflict = errors.New("credential already exists")
)

// Record is one sealed credential at rest. Envelope is ciphertext; the
// plaintext secret never appears in a Record.
type Record struct {
	UserID     string
	ProviderID string
	Envelope   string
	KeyVersion int
	UpdatedAt  time.Time
}

// Store persists sealed credential records. Implementations must be safe
// for concurrent use.
type Store interface {
	// Put inserts or replaces the record for (UserID, ProviderID).
	Put(ctx context.Context, rec Record) error

	// Get returns the record for (userID, providerID), or ErrAbsent.
	Get(ctx context.Context, userID, providerID string) (Record, error)

	// Delete removes the record, or returns ErrAbsent.
	Delete(ctx context.Context, userID, providerID string) error

	// List returns all records for a user, ordered by provider ID.
	List(ctx context.Context, userID string) ([]Record, error)

	// Close releases store resources.
	Close() error
}
