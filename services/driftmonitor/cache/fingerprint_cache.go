// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides a bounded read-through cache for canonical
// fingerprints. It serves read-path lookups only; drift comparison
// always reads the ledger directly.
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// FingerprintCache provides LRU caching for canonical fingerprint digests.
//
// # Description
//
// Caches the most recent fingerprint digest per construct to keep the
// read API off the ledger's hot path. Entries are invalidated explicitly
// whenever a new fingerprint is recorded, and lazily by TTL.
//
// # Thread Safety
//
// Safe for concurrent use. Uses sync.RWMutex for the entry map and
// singleflight.Group for lookup deduplication.
type FingerprintCache struct {
	mu      sync.RWMutex
	entries map[string]*fpCacheEntry
	lru     *list.List
	flight  singleflight.Group
	options Options

	// Stats
	hits        int64
	misses      int64
	evictions   int64
	loads       int64
	loadErrors  int64
	invalidated int64
}

// fpCacheEntry is one cached fingerprint digest.
type fpCacheEntry struct {
	ConstructID string
	Digest      string

	// LoadedAtMilli is when the digest was fetched from the ledger.
	LoadedAtMilli int64

	// lruElement is the position in the LRU list.
	lruElement *list.Element
}

// Options configures FingerprintCache.
type Options struct {
	// MaxEntries is the maximum number of cached constructs.
	// Default: 1000
	MaxEntries int

	// MaxAge is the TTL for cached digests.
	// Default: 5 minutes
	MaxAge time.Duration

	// LoadTimeout is the maximum time for a single ledger fetch.
	// Default: 500ms
	LoadTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxEntries:  1000,
		MaxAge:      5 * time.Minute,
		LoadTimeout: 500 * time.Millisecond,
	}
}

// Option is a functional option for configuring FingerprintCache.
type Option func(*Options)

// WithMaxEntries sets the maximum number of cached constructs.
func WithMaxEntries(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxEntries = n
		}
	}
}

// WithMaxAge sets the TTL for cached digests.
func WithMaxAge(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.MaxAge = d
		}
	}
}

// WithLoadTimeout sets the ledger fetch timeout.
func WithLoadTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.LoadTimeout = d
		}
	}
}

// NewFingerprintCache creates a new FingerprintCache.
func NewFingerprintCache(opts ...Option) *FingerprintCache {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &FingerprintCache{
		entries: make(map[string]*fpCacheEntry),
		lru:     list.New(),
		options: options,
	}
}

// LoadFunc fetches a construct's current fingerprint digest from the
// ledger. It returns "" when the construct has no fingerprint yet.
type LoadFunc func(ctx context.Context, constructID string) (string, error)

// Get retrieves a cached digest.
//
// # Outputs
//
//   - string: the cached digest, or "" if not found.
//   - bool: true if the entry was found and unexpired.
func (c *FingerprintCache) Get(constructID string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[constructID]
	if !ok {
		c.mu.RUnlock()
		atomic.AddInt64(&c.misses, 1)
		return "", false
	}

	if c.isExpired(entry) {
		c.mu.RUnlock()
		c.remove(constructID)
		atomic.AddInt64(&c.misses, 1)
		return "", false
	}
	digest := entry.Digest
	c.mu.RUnlock()

	c.updateLRU(entry)

	atomic.AddInt64(&c.hits, 1)
	return digest, true
}

// GetOrLoad retrieves a cached digest or fetches it from the ledger.
//
// # Description
//
// Uses singleflight to deduplicate concurrent fetches for the same
// construct. If multiple goroutines request the same construct
// simultaneously, only one ledger read runs and all waiters share it.
func (c *FingerprintCache) GetOrLoad(ctx context.Context, constructID string, load LoadFunc) (string, error) {
	// Fast path: check cache
	if digest, ok := c.Get(constructID); ok {
		return digest, nil
	}

	// Singleflight: deduplicate concurrent fetches
	result, err, _ := c.flight.Do(constructID, func() (interface{}, error) {
		// Double-check cache (might have been populated while waiting)
		if digest, ok := c.Get(constructID); ok {
			return digest, nil
		}

		loadCtx, cancel := context.WithTimeout(ctx, c.options.LoadTimeout)
		defer cancel()

		digest, err := load(loadCtx, constructID)
		if err != nil {
			atomic.AddInt64(&c.loadErrors, 1)
			return "", err
		}

		c.put(constructID, digest)
		atomic.AddInt64(&c.loads, 1)

		return digest, nil
	})

	if err != nil {
		return "", err
	}

	return result.(string), nil
}

// Invalidate drops the cached digest for a construct. Called whenever a
// new fingerprint is recorded so the next read reloads.
func (c *FingerprintCache) Invalidate(constructID string) {
	c.remove(constructID)
	atomic.AddInt64(&c.invalidated, 1)
}

// put adds a digest to the cache.
func (c *FingerprintCache) put(constructID, digest string) {
	entry := &fpCacheEntry{
		ConstructID:   constructID,
		Digest:        digest,
		LoadedAtMilli: time.Now().UnixMilli(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, exists := c.entries[constructID]; exists {
		existing.Digest = digest
		existing.LoadedAtMilli = entry.LoadedAtMilli
		return
	}

	c.evictIfNeededLocked()

	entry.lruElement = c.lru.PushFront(constructID)
	c.entries[constructID] = entry
}

// isExpired checks if an entry has exceeded its TTL.
func (c *FingerprintCache) isExpired(entry *fpCacheEntry) bool {
	if c.options.MaxAge == 0 {
		return false
	}
	age := time.Since(time.UnixMilli(entry.LoadedAtMilli))
	return age > c.options.MaxAge
}

// updateLRU moves an entry to the front of the LRU list.
func (c *FingerprintCache) updateLRU(entry *fpCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.lruElement != nil {
		c.lru.MoveToFront(entry.lruElement)
	}
}

// remove removes an entry from the cache.
func (c *FingerprintCache) remove(constructID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[constructID]
	if !ok {
		return
	}
	if entry.lruElement != nil {
		c.lru.Remove(entry.lruElement)
	}
	delete(c.entries, constructID)
}

// evictIfNeededLocked evicts the oldest entry when at capacity.
// Caller must hold c.mu.
func (c *FingerprintCache) evictIfNeededLocked() {
	for len(c.entries) >= c.options.MaxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			return
		}
		key := oldest.Value.(string)
		c.lru.Remove(oldest)
		delete(c.entries, key)
		atomic.AddInt64(&c.evictions, 1)
	}
}

// CacheStats snapshots cache counters.
type CacheStats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Loads       int64 `json:"loads"`
	LoadErrors  int64 `json:"load_errors"`
	Invalidated int64 `json:"invalidated"`
	Entries     int   `json:"entries"`
}

// Stats returns a snapshot of the cache counters.
func (c *FingerprintCache) Stats() CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()

	return CacheStats{
		Hits:        atomic.LoadInt64(&c.hits),
		Misses:      atomic.LoadInt64(&c.misses),
		Evictions:   atomic.LoadInt64(&c.evictions),
		Loads:       atomic.LoadInt64(&c.loads),
		LoadErrors:  atomic.LoadInt64(&c.loadErrors),
		Invalidated: atomic.LoadInt64(&c.invalidated),
		Entries:     entries,
	}
}
