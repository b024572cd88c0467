// Package store defines the key-value capability the analytics pipeline runs
// on. Backends live in sub-packages and must implement every mutation with a
// primitive that is atomic on the backend, so concurrent writers never lose
// updates.
package store

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no backend has been configured.
var ErrNotConfigured = errors.New("analytics store not configured")

// Store is a minimal counter/set/list service.
type Store interface {
	// HashIncr adds delta to field of the hash at key and returns the new value.
	HashIncr(ctx context.Context, key, field string, delta int64) (int64, error)
	// HashGetAll returns every field of the hash at key. A missing key yields an
	// empty map.
	HashGetAll(ctx context.Context, key string) (map[string]int64, error)
	// SetAdd inserts member and reports whether it was not already present.
	SetAdd(ctx context.Context, key, member string) (bool, error)
	// SetCard returns the number of members of the set at key.
	SetCard(ctx context.Context, key string) (int64, error)
	// PushBounded prepends item to the list at key and trims the list to its
	// maxLen newest entries.
	PushBounded(ctx context.Context, key string, item []byte, maxLen int64) error
	// ListRange returns up to n entries of the list at key, newest first.
	ListRange(ctx context.Context, key string, n int64) ([][]byte, error)
	Ping(ctx context.Context) error
	Close() error
}
