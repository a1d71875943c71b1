package did

import (
	"time"

	cmap "github.com/orcaman/concurrent-map"
)

// DefaultCacheTTL bounds how long a resolved document is trusted.
const DefaultCacheTTL = time.Hour

// Cache keeps resolved documents keyed by DID string. Entries older than the
// TTL are stale: Get drops them and reports a miss. Concurrent Puts for the
// same DID race and the last writer wins.
type Cache struct {
	entries cmap.ConcurrentMap
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	doc        *Document
	resolvedAt time.Time
}

// NewCache returns a cache with the given TTL. A non-positive TTL disables
// caching.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{entries: cmap.New(), ttl: ttl, now: time.Now}
}

func (c *Cache) Get(did string) (*Document, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	v, ok := c.entries.Get(did)
	if !ok {
		return nil, false
	}
	e := v.(cacheEntry)
	if c.now().Sub(e.resolvedAt) >= c.ttl {
		c.entries.Remove(did)
		return nil, false
	}
	return e.doc.Clone(), true
}

func (c *Cache) Put(did string, doc *Document) {
	if c == nil || c.ttl <= 0 || doc == nil {
		return
	}
	c.entries.Set(did, cacheEntry{doc: doc.Clone(), resolvedAt: c.now()})
}

func (c *Cache) Invalidate(did string) {
	if c == nil {
		return
	}
	c.entries.Remove(did)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	for _, k := range c.entries.Keys() {
		c.entries.Remove(k)
	}
}

// Sweep drops stale entries and returns how many were removed.
func (c *Cache) Sweep() int {
	if c == nil {
		return 0
	}
	now := c.now()
	removed := 0
	for item := range c.entries.IterBuffered() {
		e := item.Val.(cacheEntry)
		if now.Sub(e.resolvedAt) >= c.ttl {
			c.entries.Remove(item.Key)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Count()
}
