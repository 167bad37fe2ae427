package browse

import "sync"

// DefaultListingCacheSize bounds the process-local listing cache.
const DefaultListingCacheSize = 32

type listingKey struct {
	shortID string
	path    string
}

// ListingCache is the small in-process tier in front of the persistent
// listing store. Eviction is insertion-order (the earliest-inserted
// record goes first), not access-recency; records for a given key come
// from the same immutable snapshot, so last-write-wins is fine for
// racing writers.
type ListingCache struct {
	mu       sync.Mutex
	capacity int
	order    []listingKey
	entries  map[listingKey][]Entry
}

// NewListingCache creates a cache holding at most capacity listings.
func NewListingCache(capacity int) *ListingCache {
	if capacity <= 0 {
		capacity = DefaultListingCacheSize
	}
	return &ListingCache{
		capacity: capacity,
		entries:  make(map[listingKey][]Entry, capacity),
	}
}

// Get returns a copy of the cached listing for (shortID, path).
func (c *ListingCache) Get(shortID, path string) ([]Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.entries[listingKey{shortID, path}]
	if !ok {
		return nil, false
	}
	return cloneEntries(entries), true
}

// Put stores a copy of the listing, evicting the earliest-inserted
// record when full. An empty (non-nil) slice is a valid listing.
func (c *ListingCache) Put(shortID, path string, entries []Entry) {
	key := listingKey{shortID, path}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cloneEntries(entries)
}

// InvalidatePath drops every record whose path equals path, across all
// short ids.
func (c *ListingCache) InvalidatePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.order[:0]
	for _, key := range c.order {
		if key.path == path {
			delete(c.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
}

// Len reports how many listings are cached.
func (c *ListingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
