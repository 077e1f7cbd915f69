package enrichment

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-commitflow/pkg/cache"
)

// Fetcher fetches data by key.
type Fetcher[K any, V any] func(ctx context.Context, key K) (V, error)

// SourceFetcher is the source of truth behind a cache.
type SourceFetcher[K any, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
	io.Closer
}

// CachingFetcher is a cache that can be filled from a SourceFetcher.
type CachingFetcher[K any, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
	WriteToCache(ctx context.Context, key K, value V) error
	io.Closer
}

// FetcherConfig holds configuration for the cache-fallback fetcher.
type FetcherConfig struct {
	CacheWriteTimeout time.Duration
}

// CacheFallbackFetcher reads from a cache and falls back to the source on a
// miss, writing the source value back to the cache in the background.
type CacheFallbackFetcher[K comparable, V any] struct {
	cacheTimeout time.Duration
	logger       zerolog.Logger
	fallback     SourceFetcher[K, V]
	cache        CachingFetcher[K, V]
}

// NewCacheFallbackFetcher creates a CacheFallbackFetcher.
func NewCacheFallbackFetcher[K comparable, V any](
	cfg FetcherConfig,
	cacheFetcher CachingFetcher[K, V],
	sourceFetcher SourceFetcher[K, V],
	logger zerolog.Logger,
) *CacheFallbackFetcher[K, V] {
	if cfg.CacheWriteTimeout <= 0 {
		cfg.CacheWriteTimeout = 5 * time.Second
	}
	return &CacheFallbackFetcher[K, V]{
		cacheTimeout: cfg.CacheWriteTimeout,
		logger:       logger.With().Str("component", "CacheFallbackFetcher").Logger(),
		fallback:     sourceFetcher,
		cache:        cacheFetcher,
	}
}

// Fetch returns the cached value for key or the value from the source.
func (c *CacheFallbackFetcher[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	value, err := c.cache.Fetch(ctx, key)
	if err == nil {
		return value, nil
	}
	c.logger.Debug().Err(err).Msgf("Cache miss for '%v', falling back to source.", key)

	value, err = c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, fmt.Errorf("error fetching from source: %w", err)
	}

	go func(k K, v V) {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cacheTimeout)
		defer cancel()
		if writeErr := c.cache.WriteToCache(writeCtx, k, v); writeErr != nil {
			c.logger.Error().Err(writeErr).Msg("Failed to write to cache in background.")
		}
	}(key, value)

	return value, nil
}

// Close closes the cache and then the source.
func (c *CacheFallbackFetcher[K, V]) Close() error {
	if err := c.cache.Close(); err != nil {
		return fmt.Errorf("error closing cache: %w", err)
	}
	if err := c.fallback.Close(); err != nil {
		return fmt.Errorf("error closing source: %w", err)
	}
	return nil
}

// presenceCacheFetcher lets a cache.PresenceCache act as a CachingFetcher.
type presenceCacheFetcher[K comparable, V any] struct {
	cache.PresenceCache[K, V]
}

// NewPresenceCacheFetcher adapts a PresenceCache to CachingFetcher.
func NewPresenceCacheFetcher[K comparable, V any](pc cache.PresenceCache[K, V]) CachingFetcher[K, V] {
	return presenceCacheFetcher[K, V]{PresenceCache: pc}
}

func (p presenceCacheFetcher[K, V]) WriteToCache(ctx context.Context, key K, value V) error {
	return p.Set(ctx, key, value)
}
