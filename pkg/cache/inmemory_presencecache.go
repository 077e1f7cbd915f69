package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

type presenceItem[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// InMemoryPresenceCache is a thread-safe, size-bounded PresenceCache. When full
// it evicts the least recently written entry; entries older than the TTL are
// treated as absent. A zero TTL keeps entries until they are evicted.
type InMemoryPresenceCache[K comparable, V any] struct {
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	ll    *list.List // front is the most recently written entry
	items map[K]*list.Element
}

// NewInMemoryPresenceCache creates a presence cache holding at most maxSize entries.
func NewInMemoryPresenceCache[K comparable, V any](maxSize int, ttl time.Duration) (*InMemoryPresenceCache[K, V], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	return &InMemoryPresenceCache[K, V]{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		ll:      list.New(),
		items:   make(map[K]*list.Element),
	}, nil
}

// Set stores a value for a key, refreshing its expiry.
func (c *InMemoryPresenceCache[K, V]) Set(_ context.Context, key K, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if elem, ok := c.items[key]; ok {
		item := elem.Value.(*presenceItem[K, V])
		item.value = value
		item.expiresAt = expiresAt
		c.ll.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.ll.PushFront(&presenceItem[K, V]{key: key, value: value, expiresAt: expiresAt})
	if c.ll.Len() > c.maxSize {
		c.evictOldest()
	}
	return nil
}

// SetIfAbsent stores a value unless a live entry already holds the key.
func (c *InMemoryPresenceCache[K, V]) SetIfAbsent(_ context.Context, key K, value V) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.items[key]; ok {
		item := elem.Value.(*presenceItem[K, V])
		if item.expiresAt.IsZero() || now.Before(item.expiresAt) {
			return false, nil
		}
		c.ll.Remove(elem)
		delete(c.items, key)
	}

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = now.Add(c.ttl)
	}
	c.items[key] = c.ll.PushFront(&presenceItem[K, V]{key: key, value: value, expiresAt: expiresAt})
	if c.ll.Len() > c.maxSize {
		c.evictOldest()
	}
	return true, nil
}

// Fetch retrieves a value by its key.
func (c *InMemoryPresenceCache[K, V]) Fetch(_ context.Context, key K) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, fmt.Errorf("%w: '%v'", ErrNotFound, key)
	}
	item := elem.Value.(*presenceItem[K, V])
	if !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt) {
		c.ll.Remove(elem)
		delete(c.items, key)
		return zero, fmt.Errorf("%w: '%v'", ErrNotFound, key)
	}
	return item.value, nil
}

// Delete removes a key.
func (c *InMemoryPresenceCache[K, V]) Delete(_ context.Context, key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.ll.Remove(elem)
		delete(c.items, key)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryPresenceCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Close is a no-op for the in-memory implementation.
func (c *InMemoryPresenceCache[K, V]) Close() error {
	return nil
}

// evictOldest must be called with the mutex held.
func (c *InMemoryPresenceCache[K, V]) evictOldest() {
	if oldest := c.ll.Back(); oldest != nil {
		item := c.ll.Remove(oldest).(*presenceItem[K, V])
		delete(c.items, item.key)
	}
}
