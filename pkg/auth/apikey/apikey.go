// Package apikey authenticates bearer tokens against a static key
// table. Keys are held as SHA-256 digests and compared in constant
// time; plaintext keys never outlive construction.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/chorus-llm/chorus/pkg/auth"
)

// RawKeyEntry pairs a plaintext key with the identity it grants. It is
// the configuration-facing shape; New digests the key immediately.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

type hashedKey struct {
	digest   [32]byte
	identity auth.Identity
}

// Authenticator matches bearer tokens against the configured key table.
type Authenticator struct {
	keys []hashedKey
}

// New builds an authenticator from raw key entries.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{keys: make([]hashedKey, 0, len(entries))}
	for _, e := range entries {
		a.keys = append(a.keys, hashedKey{
			digest:   sha256.Sum256([]byte(e.Key)),
			identity: e.Identity,
		})
	}
	return a
}

// Authenticate votes on the Authorization header: Abstain without a
// Bearer scheme, No for an unknown or empty token, Yes with the matched
// identity otherwise.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return auth.Result{Decision: auth.Abstain}
	}

	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	digest := sha256.Sum256([]byte(token))
	for _, key := range a.keys {
		if subtle.ConstantTimeCompare(digest[:], key.digest[:]) == 1 {
			id := key.identity
			return auth.Result{Decision: auth.Yes, Identity: &id}
		}
	}

	return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
}
