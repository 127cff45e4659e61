package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// KV is a flat string key/value area alongside the document tables. It plays
// the role of the browser's local storage: small derived values keyed by
// conventional names such as "tier:<userId>".
type KV struct {
	db *sql.DB
}

// KV returns the key/value area of the store.
func (s *Store) KV() *KV {
	return &KV{db: s.db}
}

// Get returns the value for key and whether it was present.
func (kv *KV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := kv.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (kv *KV) Set(ctx context.Context, key, value string) error {
	_, err := kv.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (kv *KV) Remove(ctx context.Context, key string) error {
	if _, err := kv.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv remove %q: %w", key, err)
	}
	return nil
}

// Keys returns all keys in byte order.
func (kv *KV) Keys(ctx context.Context) ([]string, error) {
	rows, err := kv.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("kv keys: scan: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv keys: iterate: %w", err)
	}
	return keys, nil
}

// RemoveMatching deletes every key matching at least one glob pattern
// (doublestar syntax, e.g. "entitlement:alice:*") and returns the removed keys.
func (kv *KV) RemoveMatching(ctx context.Context, patterns ...string) ([]string, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("kv remove matching: bad pattern %q", p)
		}
	}

	keys, err := kv.Keys(ctx)
	if err != nil {
		return nil, err
	}

	removed := []string{}
	for _, k := range keys {
		if !matchesAny(patterns, k) {
			continue
		}
		if err := kv.Remove(ctx, k); err != nil {
			return removed, err
		}
		removed = append(removed, k)
	}
	return removed, nil
}

func matchesAny(patterns []string, key string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, key); ok {
			return true
		}
	}
	return false
}
