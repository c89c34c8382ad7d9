// Package postgres provides a PostgreSQL implementation of credential.Store.
// It uses pgx/v5 for connection pooling. Only sealed envelopes touch the
// database; plaintext secrets never do.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chorus-llm/chorus/pkg/credential"
)

// Store is a PostgreSQL-backed credential.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ credential.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Put inserts or replaces the record for (UserID, ProviderID).
func (s *Store) Put(ctx context.Context, rec credential.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (user_id, provider_id, envelope, key_version, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, provider_id)
		DO UPDATE SET envelope = $3, key_version = $4, updated_at = $5
	`, rec.UserID, rec.ProviderID, rec.Envelope, rec.KeyVersion, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting credential: %w", err)
	}
	return nil
}

// Get returns the record for (userID, providerID), or credential.ErrAbsent.
func (s *Store) Get(ctx context.Context, userID, providerID string) (credential.Record, error) {
	var rec credential.Record
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, provider_id, envelope, key_version, updated_at
		FROM credentials
		WHERE user_id = $1 AND provider_id = $2
	`, userID, providerID).Scan(
		&rec.UserID, &rec.ProviderID, &rec.Envelope, &rec.KeyVersion, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return credential.Record{}, credential.ErrAbsent
	}
	if err != nil {
		return credential.Record{}, fmt.Errorf("querying credential: %w", err)
	}
	return rec, nil
}

// Delete removes the record, or returns credential.ErrAbsent.
func (s *Store) Delete(ctx context.Context, userID, providerID string) error {
	result, err := s.pool.Exec(ctx,
		"DELETE FROM credentials WHERE user_id = $1 AND provider_id = $2",
		userID, providerID,
	)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	if result.RowsAffected() == 0 {
		return credential.ErrAbsent
	}
	return nil
}

// List returns all records for a user, ordered by provider ID.
func (s *Store) List(ctx context.Context, userID string) ([]credential.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, provider_id, envelope, key_version, updated_at
		FROM credentials
		WHERE user_id = $1
		ORDER BY provider_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var recs []credential.Record
	for rows.Next() {
		var rec credential.Record
		if err := rows.Scan(&rec.UserID, &rec.ProviderID, &rec.Envelope, &rec.KeyVersion, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return recs, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
