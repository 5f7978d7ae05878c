// Package cache provides a bounded, TTL-aware LRU cache for remote file
// metadata and content blobs. It exists only to avoid redundant remote
// round-trips within a session's lifetime; nothing is persisted.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// structuredSize is the accounted size for values that are not byte blobs.
// Accounting is approximate; the invariant is that Stats().Used always
// equals the sum of live entries' accounted sizes.
const structuredSize = 1024

// DefaultTTL is applied when Set is called with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// entry is a single cached value. A zero expiresAt means no expiry.
type entry struct {
	key       string
	value     any
	size      int64
	storedAt  time.Time
	expiresAt time.Time
}

// Stats is a point-in-time snapshot of cache occupancy and traffic.
type Stats struct {
	Used      int64
	Capacity  int64
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is a mutex-guarded LRU with lazy TTL expiry and a byte capacity.
type Cache struct {
	mu       sync.Mutex
	capacity int64
	used     int64
	order    *list.List // front = most recently used
	items    map[string]*list.Element

	hits      int64
	misses    int64
	evictions int64

	now func() time.Time // test seam
}

// New creates a cache with the given capacity in bytes.
func New(capacity int64) *Cache {
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the cached value for key. An entry past its TTL is treated as
// absent and removed as a side effect.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.removeLocked(el)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

// GetBytes is Get for byte-blob values.
func (c *Cache) GetBytes(key string) ([]byte, bool) {
	v, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Set stores value under key with the given TTL, evicting
// least-recently-used entries one at a time until the new entry fits.
// Values larger than the whole capacity are not cached.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	size := sizeOf(value)
	if size > c.capacity {
		return
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	for c.used+size > c.capacity && c.order.Len() > 0 {
		c.evictOldestLocked()
	}

	e := &entry{
		key:       key,
		value:     value,
		size:      size,
		storedAt:  c.now(),
		expiresAt: c.now().Add(ttl),
	}
	c.items[key] = c.order.PushFront(e)
	c.used += size
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.used = 0
}

// Sweep removes all expired entries. Lazy expiry in Get keeps the cache
// correct without it; Sweep just reclaims space sooner.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Stats returns occupancy and traffic counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Used:      c.used,
		Capacity:  c.capacity,
		Entries:   c.order.Len(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.items, e.key)
	c.used -= e.size
}

func (c *Cache) evictOldestLocked() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.removeLocked(el)
	c.evictions++
}

// sizeOf returns the accounted size of a value: byte length for blobs and
// strings, a fixed constant for structured records.
func sizeOf(v any) int64 {
	switch t := v.(type) {
	case []byte:
		return int64(len(t))
	case string:
		return int64(len(t))
	default:
		return structuredSize
	}
}
