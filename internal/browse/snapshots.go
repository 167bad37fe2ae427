package browse

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SnapshotTTL is how long a repository's snapshot list is served from
// cache before it must be refetched from the store.
const SnapshotTTL = 5 * time.Minute

// SnapshotCache holds each repository's snapshot list for a fixed TTL.
// Lists are cached and returned as independent copies, and are only
// ever replaced whole: there is no partial update.
type SnapshotCache struct {
	lru *expirable.LRU[string, []Snapshot]
}

// NewSnapshotCache creates a cache with the given TTL. Size is
// unbounded; one entry per configured repository.
func NewSnapshotCache(ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		lru: expirable.NewLRU[string, []Snapshot](0, nil, ttl), // 0 = LRU off, TTL only
	}
}

// Get returns a copy of the cached list and whether it was present and
// fresh.
func (c *SnapshotCache) Get(repoName string) ([]Snapshot, bool) {
	snaps, ok := c.lru.Get(repoName)
	if !ok {
		return nil, false
	}
	return cloneSnapshots(snaps), true
}

// Put replaces the repository's cached list and resets its age.
func (c *SnapshotCache) Put(repoName string, snaps []Snapshot) {
	c.lru.Add(repoName, cloneSnapshots(snaps))
}

// Evict drops the repository's cached list, e.g. after a query failure
// or an explicit refresh.
func (c *SnapshotCache) Evict(repoName string) {
	c.lru.Remove(repoName)
}
