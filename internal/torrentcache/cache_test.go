package torrentcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackercap/upcap/internal/domain"
)

func TestUpsertAndGet(t *testing.T) {
	c := New()
	c.Upsert(domain.TorrentInfo{Hash: "abc", Name: "torrent-a"})

	got, ok := c.Get("abc")
	require.True(t, ok)
	assert.Equal(t, "torrent-a", got.Name)
	assert.WithinDuration(t, time.Now(), got.LastSeen, time.Second)
}

func TestEvictStale(t *testing.T) {
	c := New()
	c.Upsert(domain.TorrentInfo{Hash: "fresh"})

	c.mu.Lock()
	c.entries["stale"] = &domain.TorrentInfo{Hash: "stale", LastSeen: time.Now().Add(-time.Hour)}
	c.mu.Unlock()

	removed := c.EvictStale(time.Now(), 30*time.Minute)
	assert.Equal(t, 1, removed)

	_, ok := c.Get("stale")
	assert.False(t, ok)
	_, ok = c.Get("fresh")
	assert.True(t, ok)
}

func TestActiveIterAndStats(t *testing.T) {
	c := New()
	c.Upsert(domain.TorrentInfo{Hash: "a"})
	c.Upsert(domain.TorrentInfo{Hash: "b"})

	assert.Len(t, c.ActiveIter(), 2)
	assert.Equal(t, 2, c.Stats().Count)
}

func TestCloneIsIndependent(t *testing.T) {
	c := New()
	c.Upsert(domain.TorrentInfo{Hash: "a", UploadLimit: 100})

	clone := c.Clone()
	clone.Upsert(domain.TorrentInfo{Hash: "a", UploadLimit: 200})

	orig, _ := c.Get("a")
	cloned, _ := clone.Get("a")
	assert.Equal(t, int64(100), orig.UploadLimit)
	assert.Equal(t, int64(200), cloned.UploadLimit)
}

func TestRemove(t *testing.T) {
	c := New()
	c.Upsert(domain.TorrentInfo{Hash: "a"})
	c.Remove("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
}
