package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chorus-llm/chorus/pkg/api"
)

// Resolver is the only path from a sealed record to a plaintext secret.
// Log lines carry user, provider, and key version, never secret material.
type Resolver struct {
	store    Store
	keychain *Keychain
	logger   *slog.Logger
}

// NewResolver creates a resolver over a store and keychain.
func NewResolver(store Store, keychain *Keychain, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, keychain: keychain, logger: logger}
}

// Resolve returns the plaintext secret for (userID, providerID). A missing
// record returns ErrAbsent unchanged so callers can treat absence as a
// normal state; any decryption failure is classified as a credential error.
func (r *Resolver) Resolve(ctx context.Context, userID, providerID string) (string, error) {
	rec, err := r.store.Get(ctx, userID, providerID)
	if errors.Is(err, ErrAbsent) {
		return "", ErrAbsent
	}
	if err != nil {
		return "", fmt.Errorf("loading credential: %w", err)
	}

	secret, err := r.keychain.Open(rec.Envelope)
	if err != nil {
		r.logger.Warn("credential decryption failed",
			"user", userID,
			"provider", providerID,
			"key_version", rec.KeyVersion,
			"error", err,
		)
		return "", api.NewCredentialError(providerID, "stored credential could not be decrypted")
	}
	return secret, nil
}

// Save seals a secret under the active key and stores it, replacing any
// existing record for the pair.
func (r *Resolver) Save(ctx context.Context, userID, providerID, secret string) error {
	if secret == "" {
		return api.NewValidationError("credential secret must not be empty")
	}
	envelope, err := r.keychain.Seal(secret)
	if err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}
	rec := Record{
		UserID:     userID,
		ProviderID: providerID,
		Envelope:   envelope,
		KeyVersion: r.keychain.ActiveVersion(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := r.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	r.logger.Info("credential stored",
		"user", userID,
		"provider", providerID,
		"key_version", rec.KeyVersion,
	)
	return nil
}

// Delete removes the credential for (userID, providerID).
func (r *Resolver) Delete(ctx context.Context, userID, providerID string) error {
	return r.store.Delete(ctx, userID, providerID)
}

// Providers lists the provider IDs a user has credentials for. Envelopes
// stay sealed; only identifiers leave this method.
func (r *Resolver) Providers(ctx context.Context, userID string) ([]string, error) {
	recs, err := r.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ProviderID)
	}
	return ids, nil
}

// Rotate re-seals every record of a user under the active key. Records
// already at the active version are skipped. The count of re-sealed
// records is returned; a record that fails to open aborts the rotation.
func (r *Resolver) Rotate(ctx context.Context, userID string) (int, error) {
	recs, err := r.store.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	rotated := 0
	for _, rec := range recs {
		if rec.KeyVersion == r.keychain.ActiveVersion() {
			continue
		}
		secret, err := r.keychain.Open(rec.Envelope)
		if err != nil {
			return rotated, fmt.Errorf("opening credential for %s/%s: %w", userID, rec.ProviderID, err)
		}
		if err := r.Save(ctx, userID, rec.ProviderID, secret); err != nil {
			return rotated, err
		}
		rotated++
	}
	if rotated > 0 {
		r.logger.Info("credentials rotated",
			"user", userID,
			"count", rotated,
			"key_version", r.keychain.ActiveVersion(),
		)
	}
	return rotated, nil
}
