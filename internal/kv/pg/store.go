package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"insight-backend/internal/kv"
)

// Store implements kv.Store over a Postgres kv_entries table. Used when
// DATABASE_URL is configured; the embedded store remains the default.
type Store struct {
	DB *sql.DB
}

// New constructs a Store over an existing connection pool.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Get returns the stored value or kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `SELECT value FROM kv_entries WHERE key = $1`

	var value []byte
	err := s.DB.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kv.ErrNotFound
		}
		return nil, kv.NewStorageError("get", key, err)
	}
	return value, nil
}

// Set upserts value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	const query = `
INSERT INTO kv_entries (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	_, err := s.DB.ExecContext(ctx, query, key, value, time.Now().UTC())
	if err != nil {
		return kv.NewStorageError("set", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM kv_entries WHERE key = $1`

	_, err := s.DB.ExecContext(ctx, query, key)
	if err != nil {
		return kv.NewStorageError("delete", key, err)
	}
	return nil
}

// ListKeys returns all keys with the given prefix, sorted.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	const query = `SELECT key FROM kv_entries WHERE key LIKE $1 || '%' ORDER BY key`

	rows, err := s.DB.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, kv.NewStorageError("list", prefix, err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, kv.NewStorageError("list", prefix, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, kv.NewStorageError("list", prefix, err)
	}
	return keys, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }
