package boundary

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/hydroindex/internal/zonal"
)

// Cache is a concurrent-safe LRU cache of resolved zones with TTL expiration.
// It wraps a Resolver and satisfies Resolver itself. Entries are only ever
// dropped by capacity, TTL, Invalidate or Refresh.
type Cache struct {
	source     Resolver
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type cacheEntry struct {
	polys     []zonal.Polygon
	createdAt time.Time
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// allZones keys the result of resolving with no ids.
const allZones = "*"

// NewCache wraps source with a cache of maxEntries zones kept for ttl. A
// non-positive ttl keeps entries until evicted or invalidated.
func NewCache(source Resolver, maxEntries int, ttl time.Duration) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache{
		source:     source,
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Name reports the wrapped source.
func (c *Cache) Name() string { return c.source.Name() }

func (c *Cache) key(id string) string { return c.source.Name() + "/" + id }

// Resolve returns cached zones and resolves only the ids not in the cache.
func (c *Cache) Resolve(ctx context.Context, ids []string) ([]zonal.Polygon, error) {
	if len(ids) == 0 {
		if polys, ok := c.get(c.key(allZones)); ok {
			return polys, nil
		}
		polys, err := c.source.Resolve(ctx, nil)
		if err != nil {
			return nil, err
		}
		c.put(c.key(allZones), polys)
		return polys, nil
	}

	out := make([]zonal.Polygon, 0, len(ids))
	var todo []string
	for _, id := range ids {
		if polys, ok := c.get(c.key(id)); ok {
			out = append(out, polys...)
			continue
		}
		todo = append(todo, id)
	}
	if len(todo) == 0 {
		return out, nil
	}

	fetched, err := c.source.Resolve(ctx, todo)
	if err != nil {
		return nil, err
	}
	byID := make(map[string][]zonal.Polygon, len(todo))
	for _, p := range fetched {
		byID[p.ID] = append(byID[p.ID], p)
	}
	for _, id := range todo {
		c.put(c.key(id), byID[id])
	}
	return append(out, fetched...), nil
}

// Refresh drops the given ids (or everything when none are given) and
// resolves them again.
func (c *Cache) Refresh(ctx context.Context, ids ...string) ([]zonal.Polygon, error) {
	c.Invalidate(ids...)
	return c.Resolve(ctx, ids)
}

// Invalidate removes the given ids, or every entry of this source when none
// are given. The all-zones entry is dropped whenever any id is invalidated.
func (c *Cache) Invalidate(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	drop := make(map[string]bool, len(ids)+1)
	for _, id := range ids {
		drop[c.key(id)] = true
	}
	drop[c.key(allZones)] = true
	prefix := c.source.Name() + "/"

	var remaining []string
	for _, key := range c.order {
		if drop[key] || (len(ids) == 0 && strings.HasPrefix(key, prefix)) {
			delete(c.entries, key)
		} else {
			remaining = append(remaining, key)
		}
	}
	c.order = remaining
}

// Stats returns cache performance statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	maxEntries := c.maxEntries
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Entries:    entries,
		MaxEntries: maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func (c *Cache) get(key string) ([]zonal.Polygon, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return nil, false
	}

	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return entry.polys, true
}

func (c *Cache) put(key string, polys []zonal.Polygon) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &cacheEntry{polys: polys, createdAt: c.now()}
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &cacheEntry{polys: polys, createdAt: c.now()}
	c.order = append(c.order, key)
}

func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
