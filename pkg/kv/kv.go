// Package kv defines the key-value persistence contract the interview engine
// stores session state through. Backends are swappable: an in-memory map for
// tests, SQLite for single-node durable deployments, Redis for shared or
// edge-compatible deployments, and Badger for embedded durable deployments.
//
// Guarantees are deliberately weak: last-write-wins, no cross-key
// transactions, no read-modify-write atomicity. The orchestrator is the sole
// writer of a given session key within one turn and always writes a full
// value, so a crash mid-turn leaves state stale but never corrupt.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the persistence contract. TTL of zero means no expiry.
type Store interface {
	// Get returns the value for key. The second return is false when the key
	// is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set writes value under key, replacing any previous value. A non-zero
	// ttl schedules expiry; expiry is the only GC mechanism.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all live keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// GetJSON loads and unmarshals the value at key into a fresh T.
// Returns false when the key is absent.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var zero T
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("decode value at %q: %w", key, err)
	}
	return v, true, nil
}

// SetJSON marshals v and writes it under key.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode value for %q: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}
