// Package storage implements the storage manager: the single
// integration point the unified queue calls, owning per-file region
// handles, a coarse per-region lock discipline, a RAM chunk cache, and
// the four reconfigurable thread pools (load, write, compress,
// decompress).
package storage

import (
	"container/list"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// CacheKey identifies one cached chunk's decompressed payload.
type CacheKey struct {
	RegionPath string
	CX, CZ     int32
}

// highWatermarkFraction and lowWatermarkFraction implement the eviction
// policy: evict in insertion order once current+incoming would cross
// 0.9*max, down to 0.8*max.
const (
	highWatermarkFraction = 0.9
	lowWatermarkFraction  = 0.8
)

// DefaultTTL is the cache's default per-entry time-to-live.
const DefaultTTL = 10 * time.Minute

// Cache is the RAM chunk cache contract, modeled as an explicit
// two-variant interface instead of a singleton that may return nil, so
// every call site statically handles both Active and Disabled modes
// rather than nil-checking.
type Cache interface {
	Get(key CacheKey) ([]byte, bool)
	Put(key CacheKey, value []byte)
	Invalidate(key CacheKey)
	ClearRegion(regionPath string)
	CurrentBytes() int64
	Enabled() bool
}

// disabledCache is the Disabled variant: every call is a no-op/miss,
// useful on NVMe-backed deployments where RAM caching harms latency.
type disabledCache struct{}

// NewDisabledCache returns the sentinel Disabled cache.
func NewDisabledCache() Cache { return disabledCache{} }

func (disabledCache) Get(CacheKey) ([]byte, bool) { return nil, false }
func (disabledCache) Put(CacheKey, []byte)        {}
func (disabledCache) Invalidate(CacheKey)         {}
func (disabledCache) ClearRegion(string)          {}
func (disabledCache) CurrentBytes() int64         { return 0 }
func (disabledCache) Enabled() bool               { return false }

// ramCache is the Active variant: an insertion-ordered map guarded by a
// single mutex for exact byte accounting and high-watermark batch
// eviction, layered with github.com/jellydator/ttlcache/v3 as the
// value store enforcing the per-entry TTL.
//
// TTL expiry is enforced at lookup (ttlcache filters expired items on
// Get), not by a background sweeper: no ttlcache eviction callback ever
// runs, so the lock order is always c.mu before the ttl store's
// internal lock and never the reverse.
type ramCache struct {
	mu sync.Mutex

	maxBytes     int64
	currentBytes int64

	order *list.List // front = oldest insertion
	byKey map[CacheKey]*list.Element
	ttl   *ttlcache.Cache[CacheKey, []byte]
}

type cacheElem struct {
	key  CacheKey
	size int64
}

// NewActiveCache builds an enabled cache bounded to maxBytes, expiring
// entries after ttl. The TTL is measured from insertion; a lookup does
// not extend it.
func NewActiveCache(maxBytes int64, ttl time.Duration) Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &ramCache{
		maxBytes: maxBytes,
		order:    list.New(),
		byKey:    make(map[CacheKey]*list.Element),
		ttl: ttlcache.New[CacheKey, []byte](
			ttlcache.WithTTL[CacheKey, []byte](ttl),
			ttlcache.WithDisableTouchOnHit[CacheKey, []byte](),
		),
	}
}

func (c *ramCache) Enabled() bool { return true }

// Get returns value and true on a live hit. A stale entry is removed on
// lookup and treated as a miss, releasing its share of the byte budget.
func (c *ramCache) Get(key CacheKey) ([]byte, bool) {
	item := c.ttl.Get(key)
	if item == nil {
		c.mu.Lock()
		c.removeLocked(key)
		c.mu.Unlock()

		return nil, false
	}

	return item.Value(), true
}

// Put inserts value, evicting in insertion order if the high watermark
// would be crossed.
func (c *ramCache) Put(key CacheKey, value []byte) {
	size := int64(len(value))

	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(key)

	high := int64(float64(c.maxBytes) * highWatermarkFraction)
	low := int64(float64(c.maxBytes) * lowWatermarkFraction)

	if c.currentBytes+size > high {
		for c.currentBytes > low && c.order.Len() > 0 {
			c.removeElementLocked(c.order.Front())
		}
	}

	el := c.order.PushBack(&cacheElem{key: key, size: size})
	c.byKey[key] = el
	c.currentBytes += size

	c.ttl.Set(key, value, ttlcache.DefaultTTL)
}

// Invalidate removes key from the cache immediately.
func (c *ramCache) Invalidate(key CacheKey) {
	c.mu.Lock()
	c.removeLocked(key)
	c.mu.Unlock()
}

// ClearRegion removes every entry belonging to regionPath.
func (c *ramCache) ClearRegion(regionPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []*list.Element
	for k, el := range c.byKey {
		if k.RegionPath == regionPath {
			stale = append(stale, el)
		}
	}

	for _, el := range stale {
		c.removeElementLocked(el)
	}
}

// CurrentBytes returns the exact tracked byte total under the cache's lock.
func (c *ramCache) CurrentBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.currentBytes
}

func (c *ramCache) removeLocked(key CacheKey) {
	el, ok := c.byKey[key]
	if !ok {
		return
	}

	c.removeElementLocked(el)
}

// removeElementLocked is the single removal path: watermark eviction,
// invalidation, and stale-lookup cleanup all come through here, so the
// bookkeeping and the ttl store can never disagree about an entry.
// Lookups resolve through the ttl store, so the entry must leave it
// too; otherwise an evicted chunk would still read as a live hit and
// the byte budget would never bound what is actually resident.
func (c *ramCache) removeElementLocked(el *list.Element) {
	ce := el.Value.(*cacheElem)
	c.order.Remove(el)
	delete(c.byKey, ce.key)
	c.currentBytes -= ce.size

	c.ttl.Delete(ce.key)
}
