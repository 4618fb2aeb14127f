package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS wallet_sessions (
	key        TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore is a Backend on a Postgres table, for deployments where
// several processes share one session record.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. Call EnsureSchema before use.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the wallet_sessions table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createSessionsTable); err != nil {
		return fmt.Errorf("failed to create wallet_sessions table: %w", err)
	}
	return nil
}

// Get implements Backend.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM wallet_sessions WHERE key = $1`, key).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return []byte(state), nil
}

// Put implements Backend.
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_sessions (key, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		key, string(value),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM wallet_sessions WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close implements Backend.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
