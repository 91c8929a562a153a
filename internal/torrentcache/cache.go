// Package torrentcache keeps an in-memory, TTL-evicted index of the
// torrents the allocation engine most recently observed as active.
package torrentcache

import (
	"sync"
	"time"

	"github.com/trackercap/upcap/internal/domain"
)

// Stats summarizes the cache's current contents.
type Stats struct {
	Count       int
	OldestEntry time.Time
	NewestEntry time.Time
}

// Cache is a hash-keyed torrent store. All mutation happens from the
// allocation engine's cycle task; readers (HTTP handlers) get a consistent
// snapshot per call via the read lock.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*domain.TorrentInfo
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*domain.TorrentInfo)}
}

// Upsert inserts or replaces a torrent's snapshot, stamping LastSeen to now.
func (c *Cache) Upsert(t domain.TorrentInfo) {
	t.LastSeen = time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[t.Hash] = &t
}

// Get returns a copy of the cached entry for hash, if present.
func (c *Cache) Get(hash string) (domain.TorrentInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[hash]
	if !ok {
		return domain.TorrentInfo{}, false
	}
	return *e, true
}

// ActiveIter returns a snapshot slice of every cached torrent. The name
// mirrors the spec's active_iter operation: this cache holds only torrents
// observed active during recent cycles, so iterating it is iterating the
// active set (modulo TTL-bounded staleness).
func (c *Cache) ActiveIter() []domain.TorrentInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.TorrentInfo, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	return out
}

// EvictStale removes entries whose LastSeen is older than ttl relative to
// now, returning the number of entries removed.
func (c *Cache) EvictStale(now time.Time, ttl time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for hash, e := range c.entries {
		if now.Sub(e.LastSeen) > ttl {
			delete(c.entries, hash)
			removed++
		}
	}
	return removed
}

// Remove deletes a single entry, used when a torrent is explicitly deleted
// from the client.
func (c *Cache) Remove(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, hash)
}

// Stats returns a snapshot summary of cache contents.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{Count: len(c.entries)}
	first := true
	for _, e := range c.entries {
		if first {
			s.OldestEntry, s.NewestEntry = e.LastSeen, e.LastSeen
			first = false
			continue
		}
		if e.LastSeen.Before(s.OldestEntry) {
			s.OldestEntry = e.LastSeen
		}
		if e.LastSeen.After(s.NewestEntry) {
			s.NewestEntry = e.LastSeen
		}
	}
	return s
}

// Clone returns a deep-enough copy of the cache (new map, copied entries)
// for the dry-run /preview/next-cycle pipeline to mutate without disturbing
// the live cache.
func (c *Cache) Clone() *Cache {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clone := New()
	for hash, e := range c.entries {
		cp := *e
		clone.entries[hash] = &cp
	}
	return clone
}
