package browse

// LookupState is the three-valued result of a listing-store lookup. A
// directory known to be empty is a hit, not a miss.
type LookupState int

const (
	// Miss: nothing is known about the key.
	Miss LookupState = iota
	// Hit: the key has a non-empty cached listing.
	Hit
	// HitEmpty: the key is known to have zero entries.
	HitEmpty
)

// ListingStore is the durable per-repository cache of directory
// listings, keyed by (short snapshot id, normalized store path).
// Implementations must degrade corruption to misses rather than
// surfacing errors to callers.
type ListingStore interface {
	// Lookup returns the cached listing for the key. Entries are
	// independent copies.
	Lookup(shortID, path string) ([]Entry, LookupState)

	// StoreBulk writes a set of listings and known-empty paths for one
	// snapshot in a single transaction.
	StoreBulk(shortID string, listings map[string][]Entry, emptyPaths []string) error

	// Store writes one listing (count zero encodes known-empty).
	Store(shortID, path string, entries []Entry) error

	// Purge deletes all rows whose short id is not in validShortIDs.
	// An empty valid set clears the store. Returns the number of rows
	// removed.
	Purge(validShortIDs []string) (int, error)

	// InvalidateUnderPath deletes rows whose path equals parentPath,
	// across all short ids. Listings under other parents stay cached.
	InvalidateUnderPath(parentPath string) error

	// MarkLoaded records that shortID's entire tree has been bulk
	// loaded; once set, a lookup miss under it is authoritative.
	MarkLoaded(shortID string) error

	// IsLoaded reports whether shortID's tree has been bulk loaded.
	IsLoaded(shortID string) bool

	// ClearLoaded drops every loaded marker in this store.
	ClearLoaded() error

	Close() error
}

// StoreOpener opens (or creates) the durable listing store for one
// repository. Opening must recover from a corrupt medium by recreating
// the store.
type StoreOpener interface {
	Open(repoName string) (ListingStore, error)
}
