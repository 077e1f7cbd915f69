// Package cache provides expiring key/value caches. They remember which commits
// were already forwarded downstream and hold author profiles in front of their
// source.
package cache

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Fetch when a key is absent or has expired.
var ErrNotFound = errors.New("key not found in presence cache")

// PresenceCache defines the contract for short-lived state. Entries are
// written explicitly and expire after the cache's TTL.
type PresenceCache[K comparable, V any] interface {
	// Set explicitly stores a value for a key.
	Set(ctx context.Context, key K, value V) error
	// SetIfAbsent stores value only when key is absent or expired. It reports
	// whether the value was stored.
	SetIfAbsent(ctx context.Context, key K, value V) (bool, error)
	// Fetch retrieves a value by its key, returning ErrNotFound on a miss.
	Fetch(ctx context.Context, key K) (V, error)
	// Delete explicitly removes a key.
	Delete(ctx context.Context, key K) error
	// Closer is included for implementations that manage network connections.
	io.Closer
}
