package savefs

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Cache remembers Stat results of the engine view, including misses. Every
// write through the view invalidates what it touched; a commit clears it.
type Cache struct {
	enabled     bool
	statTTL     time.Duration
	negativeTTL time.Duration
	maxEntries  int

	mu        sync.Mutex
	entries   map[string]cached
	negatives int

	hits   atomic.Uint64
	misses atomic.Uint64
}

// cached is a stat result. A negative entry records that the path was
// absent.
type cached struct {
	info     os.FileInfo
	negative bool
	expires  time.Time
}

func newCache(enabled bool, statTTL, negativeTTL time.Duration, maxEntries int) *Cache {
	if !enabled || maxEntries <= 0 {
		return &Cache{}
	}
	return &Cache{
		enabled:     true,
		statTTL:     statTTL,
		negativeTTL: negativeTTL,
		maxEntries:  maxEntries,
		entries:     make(map[string]cached),
	}
}

// lookup returns the live entry for p and drops it if expired.
func (c *Cache) lookup(p string) (cached, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[p]
	if ok && time.Now().After(e.expires) {
		c.drop(p)
		ok = false
	}
	return e, ok
}

func (c *Cache) getStat(p string) (os.FileInfo, bool) {
	if !c.enabled {
		return nil, false
	}
	if e, ok := c.lookup(p); ok && !e.negative {
		c.hits.Add(1)
		return e.info, true
	}
	c.misses.Add(1)
	return nil, false
}

func (c *Cache) isNegative(p string) bool {
	if !c.enabled {
		return false
	}
	e, ok := c.lookup(p)
	if ok && e.negative {
		c.hits.Add(1)
		return true
	}
	return false
}

func (c *Cache) putStat(p string, info os.FileInfo) {
	c.put(p, cached{info: info, expires: time.Now().Add(c.statTTL)})
}

func (c *Cache) putNegative(p string) {
	c.put(p, cached{negative: true, expires: time.Now().Add(c.negativeTTL)})
}

func (c *Cache) put(p string, e cached) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.drop(p)
	if c.count(e.negative) >= c.maxEntries {
		c.evict(e.negative)
	}
	c.entries[p] = e
	if e.negative {
		c.negatives++
	}
}

// count returns the number of entries of one kind. Called with mu held.
func (c *Cache) count(negative bool) int {
	if negative {
		return c.negatives
	}
	return len(c.entries) - c.negatives
}

// evict removes the entry of one kind closest to expiry. Called with mu
// held.
func (c *Cache) evict(negative bool) {
	victim, soonest := "", time.Time{}
	for p, e := range c.entries {
		if e.negative != negative {
			continue
		}
		if victim == "" || e.expires.Before(soonest) {
			victim, soonest = p, e.expires
		}
	}
	if victim != "" {
		c.drop(victim)
	}
}

// drop deletes p. Called with mu held.
func (c *Cache) drop(p string) {
	if e, ok := c.entries[p]; ok {
		if e.negative {
			c.negatives--
		}
		delete(c.entries, p)
	}
}

func (c *Cache) invalidate(p string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop(p)
}

// invalidateTree drops p and everything below it.
func (c *Cache) invalidateTree(p string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for q := range c.entries {
		if p == "/" || q == p || strings.HasPrefix(q, p+"/") {
			c.drop(q)
		}
	}
}

func (c *Cache) clear() {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cached)
	c.negatives = 0
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	if !c.enabled {
		return CacheStats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Enabled:           true,
		StatCacheSize:     len(c.entries) - c.negatives,
		NegativeCacheSize: c.negatives,
		MaxEntries:        c.maxEntries,
		StatTTL:           c.statTTL,
		NegativeTTL:       c.negativeTTL,
		Hits:              c.hits.Load(),
		Misses:            c.misses.Load(),
	}
}

// CacheStats contains cache statistics
type CacheStats struct {
	Enabled           bool
	StatCacheSize     int
	NegativeCacheSize int
	MaxEntries        int
	StatTTL           time.Duration
	NegativeTTL       time.Duration
	Hits              uint64
	Misses            uint64
}
