package shadowing

import "github.com/signalsfoundry/obstacle-shadowing/model"

// DefaultCacheCapacity bounds the number of cached attenuation factors per
// filter.
const DefaultCacheCapacity = 1000

// CacheKey identifies one directed sender/receiver geometry. (A,B) and (B,A)
// are distinct keys.
type CacheKey struct {
	Sender   model.Position
	Receiver model.Position
}

// Cache maps endpoint geometry to a previously computed attenuation factor.
// Entries never expire; the whole cache is dropped when it reaches capacity
// or when Clear is called. Cache is not safe for concurrent use.
type Cache struct {
	entries  map[CacheKey]float64
	capacity int
}

// NewCache creates an empty cache; a non-positive capacity uses
// DefaultCacheCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		entries:  make(map[CacheKey]float64, capacity),
		capacity: capacity,
	}
}

// Capacity returns the maximum number of entries.
func (c *Cache) Capacity() int { return c.capacity }

// Len returns the number of cached entries.
func (c *Cache) Len() int { return len(c.entries) }

// Lookup returns the cached factor for key.
func (c *Cache) Lookup(key CacheKey) (float64, bool) {
	factor, ok := c.entries[key]
	return factor, ok
}

// Insert stores factor under key. If the cache is already at capacity every
// entry is dropped first, even when key itself is present. It returns the
// number of entries dropped and whether key was newly added.
func (c *Cache) Insert(key CacheKey, factor float64) (dropped int, added bool) {
	if len(c.entries) >= c.capacity {
		dropped = c.Clear()
	}
	_, existed := c.entries[key]
	c.entries[key] = factor
	return dropped, !existed
}

// Clear removes all entries and returns how many were dropped.
func (c *Cache) Clear() int {
	n := len(c.entries)
	if n == 0 {
		return 0
	}
	clear(c.entries)
	return n
}
