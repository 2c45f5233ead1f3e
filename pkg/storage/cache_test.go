package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledCacheIsAlwaysAMiss(t *testing.T) {
	c := NewDisabledCache()

	assert.False(t, c.Enabled())

	key := CacheKey{RegionPath: "r.0.0.lrf", CX: 1, CZ: 1}
	c.Put(key, []byte{1, 2, 3})

	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.CurrentBytes())

	c.Invalidate(key)
	c.ClearRegion("r.0.0.lrf")
}

func TestActiveCachePutThenGet(t *testing.T) {
	c := NewActiveCache(1<<20, time.Minute)

	key := CacheKey{RegionPath: "r.0.0.lrf", CX: 2, CZ: 3}
	value := []byte{0xAA, 0xBB, 0xCC}

	c.Put(key, value)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, value, got)
	assert.Equal(t, int64(len(value)), c.CurrentBytes())
}

func TestActiveCacheInvalidate(t *testing.T) {
	c := NewActiveCache(1<<20, time.Minute)

	key := CacheKey{RegionPath: "r.0.0.lrf", CX: 0, CZ: 0}
	c.Put(key, []byte{1})

	c.Invalidate(key)

	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.CurrentBytes())
}

func TestActiveCacheClearRegionOnlyRemovesThatRegion(t *testing.T) {
	c := NewActiveCache(1<<20, time.Minute)

	keepKey := CacheKey{RegionPath: "r.1.1.lrf", CX: 0, CZ: 0}
	goKey := CacheKey{RegionPath: "r.0.0.lrf", CX: 0, CZ: 0}

	c.Put(keepKey, []byte{1})
	c.Put(goKey, []byte{2})

	c.ClearRegion("r.0.0.lrf")

	_, ok := c.Get(goKey)
	assert.False(t, ok)

	_, ok = c.Get(keepKey)
	assert.True(t, ok)
}

func TestActiveCacheEvictsOldestPastHighWatermark(t *testing.T) {
	// maxBytes=100: high watermark 90, low watermark 80. Each entry is 10
	// bytes, so the 10th Put pushes current (100) over high (90) and
	// evicts in insertion order down to <= 80.
	c := NewActiveCache(100, time.Minute)

	for i := 0; i < 9; i++ {
		key := CacheKey{RegionPath: "r.0.0.lrf", CX: int32(i), CZ: 0}
		c.Put(key, make([]byte, 10))
	}
	assert.Equal(t, int64(90), c.CurrentBytes())

	// This Put would bring the total to 100, crossing the high watermark
	// (90), triggering eviction of the oldest entries down to <= 80.
	c.Put(CacheKey{RegionPath: "r.0.0.lrf", CX: 100, CZ: 0}, make([]byte, 10))

	assert.LessOrEqual(t, c.CurrentBytes(), int64(90))

	_, ok := c.Get(CacheKey{RegionPath: "r.0.0.lrf", CX: 0, CZ: 0})
	assert.False(t, ok, "oldest entry should have been evicted first")

	_, ok = c.Get(CacheKey{RegionPath: "r.0.0.lrf", CX: 100, CZ: 0})
	assert.True(t, ok, "newest entry should survive eviction")
}

func TestActiveCacheTTLExpiry(t *testing.T) {
	c := NewActiveCache(1<<20, 20*time.Millisecond)

	key := CacheKey{RegionPath: "r.0.0.lrf", CX: 5, CZ: 5}
	c.Put(key, []byte{1, 2, 3})

	_, ok := c.Get(key)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := c.Get(key)
		return !ok
	}, time.Second, 10*time.Millisecond, "entry should expire under its TTL")
}
