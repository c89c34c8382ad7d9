// Package memory provides an in-memory credential.Store for development
// and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/chorus-llm/chorus/pkg/credential"
)

// Store keeps sealed records in a map keyed by (user, provider). Safe for
// concurrent use.
type Store struct {
	mu   sync.RWMutex
	recs map[key]credential.Record
}

type key struct {
	user     string
	provider string
}

var _ credential.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{recs: make(map[key]credential.Record)}
}

// Put inserts or replaces a record.
func (s *Store) Put(_ context.Context, rec credential.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[key{rec.UserID, rec.ProviderID}] = rec
	return nil
}

// Get returns the record for (userID, providerID), or credential.ErrAbsent.
func (s *Store) Get(_ context.Context, userID, providerID string) (credential.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[key{userID, providerID}]
	if !ok {
		return credential.Record{}, credential.ErrAbsent
	}
	return rec, nil
}

// Delete removes the record, or returns credential.ErrAbsent.
func (s *Store) Delete(_ context.Context, userID, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{userID, providerID}
	if _, ok := s.recs[k]; !ok {
		return credential.ErrAbsent
	}
	delete(s.recs, k)
	return nil
}

// List returns the user's records ordered by provider ID.
func (s *Store) List(_ context.Context, userID string) ([]credential.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var recs []credential.Record
	for k, rec := range s.recs {
		if k.user == userID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ProviderID < recs[j].ProviderID })
	return recs, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
