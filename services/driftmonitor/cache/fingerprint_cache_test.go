// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetOrLoad verifies load-once then cache-hit behavior.
func TestGetOrLoad(t *testing.T) {
	c := NewFingerprintCache()
	var loads int64

	load := func(ctx context.Context, constructID string) (string, error) {
		atomic.AddInt64(&loads, 1)
		return "digest-" + constructID, nil
	}

	digest, err := c.GetOrLoad(context.Background(), "luna-001", load)
	require.NoError(t, err)
	assert.Equal(t, "digest-luna-001", digest)

	digest, err = c.GetOrLoad(context.Background(), "luna-001", load)
	require.NoError(t, err)
	assert.Equal(t, "digest-luna-001", digest)
	assert.Equal(t, int64(1), atomic.LoadInt64(&loads))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Loads)
}

// TestInvalidate verifies invalidation forces a reload.
func TestInvalidate(t *testing.T) {
	c := NewFingerprintCache()
	var loads int64

	load := func(ctx context.Context, constructID string) (string, error) {
		return "digest-" + string(rune('a'+atomic.AddInt64(&loads, 1))), nil
	}

	first, err := c.GetOrLoad(context.Background(), "luna-001", load)
	require.NoError(t, err)

	c.Invalidate("luna-001")

	second, err := c.GetOrLoad(context.Background(), "luna-001", load)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, int64(2), atomic.LoadInt64(&loads))
}

// TestLoadError verifies errors are not cached.
func TestLoadError(t *testing.T) {
	c := NewFingerprintCache()
	failing := errors.New("ledger offline")
	var calls int64

	load := func(ctx context.Context, constructID string) (string, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			return "", failing
		}
		return "recovered", nil
	}

	_, err := c.GetOrLoad(context.Background(), "luna-001", load)
	assert.ErrorIs(t, err, failing)

	digest, err := c.GetOrLoad(context.Background(), "luna-001", load)
	require.NoError(t, err)
	assert.Equal(t, "recovered", digest)
	assert.Equal(t, int64(1), c.Stats().LoadErrors)
}

// TestEviction verifies the LRU bound holds.
func TestEviction(t *testing.T) {
	c := NewFingerprintCache(WithMaxEntries(2))
	ctx := context.Background()
	load := func(ctx context.Context, constructID string) (string, error) {
		return constructID, nil
	}

	_, err := c.GetOrLoad(ctx, "a", load)
	require.NoError(t, err)
	_, err = c.GetOrLoad(ctx, "b", load)
	require.NoError(t, err)
	_, err = c.GetOrLoad(ctx, "c", load)
	require.NoError(t, err)

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Entries, 2)
	assert.GreaterOrEqual(t, stats.Evictions, int64(1))

	// "a" was oldest; it should have been the eviction victim.
	_, ok := c.Get("a")
	assert.False(t, ok)
}

// TestTTLExpiry verifies entries lapse after MaxAge.
func TestTTLExpiry(t *testing.T) {
	c := NewFingerprintCache(WithMaxAge(10 * time.Millisecond))
	ctx := context.Background()
	var loads int64
	load := func(ctx context.Context, constructID string) (string, error) {
		atomic.AddInt64(&loads, 1)
		return "d", nil
	}

	_, err := c.GetOrLoad(ctx, "luna-001", load)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, err = c.GetOrLoad(ctx, "luna-001", load)
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&loads))
}

// TestConcurrentLoadDeduplication verifies singleflight collapses
// concurrent fetches for one construct.
func TestConcurrentLoadDeduplication(t *testing.T) {
	c := NewFingerprintCache()
	var loads int64

	load := func(ctx context.Context, constructID string) (string, error) {
		atomic.AddInt64(&loads, 1)
		time.Sleep(20 * time.Millisecond)
		return "shared", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			digest, err := c.GetOrLoad(context.Background(), "luna-001", load)
			assert.NoError(t, err)
			assert.Equal(t, "shared", digest)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&loads))
}
