package testutil

import (
	"sync"

	"rex-go/internal/browse"
)

type listingKey struct {
	shortID string
	path    string
}

// MemStore is an in-memory browse.ListingStore for engine tests.
type MemStore struct {
	mu      sync.Mutex
	data    map[listingKey][]browse.Entry // nil slice encodes known-empty
	loaded  map[string]bool
	Closed  bool
	FailPut bool

	StoreBulkCalls int
	LookupCalls    int
}

var _ browse.ListingStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		data:   make(map[listingKey][]browse.Entry),
		loaded: make(map[string]bool),
	}
}

func (s *MemStore) Lookup(shortID, path string) ([]browse.Entry, browse.LookupState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LookupCalls++
	entries, ok := s.data[listingKey{shortID, path}]
	if !ok {
		return nil, browse.Miss
	}
	if len(entries) == 0 {
		return nil, browse.HitEmpty
	}
	return append([]browse.Entry(nil), entries...), browse.Hit
}

func (s *MemStore) StoreBulk(shortID string, listings map[string][]browse.Entry, emptyPaths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StoreBulkCalls++
	if s.FailPut {
		return errFailPut
	}
	for path, entries := range listings {
		s.data[listingKey{shortID, path}] = append([]browse.Entry(nil), entries...)
	}
	for _, path := range emptyPaths {
		s.data[listingKey{shortID, path}] = nil
	}
	return nil
}

func (s *MemStore) Store(shortID, path string, entries []browse.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPut {
		return errFailPut
	}
	s.data[listingKey{shortID, path}] = append([]browse.Entry(nil), entries...)
	return nil
}

func (s *MemStore) Purge(validShortIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	valid := make(map[string]bool, len(validShortIDs))
	for _, id := range validShortIDs {
		valid[id] = true
	}
	removed := 0
	for k := range s.data {
		if !valid[k.shortID] {
			delete(s.data, k)
			removed++
		}
	}
	for id := range s.loaded {
		if !valid[id] {
			delete(s.loaded, id)
		}
	}
	return removed, nil
}

func (s *MemStore) InvalidateUnderPath(parentPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		if k.path == parentPath {
			delete(s.data, k)
		}
	}
	return nil
}

func (s *MemStore) MarkLoaded(shortID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPut {
		return errFailPut
	}
	s.loaded[shortID] = true
	return nil
}

func (s *MemStore) IsLoaded(shortID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded[shortID]
}

func (s *MemStore) ClearLoaded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = make(map[string]bool)
	return nil
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Keys returns the cached (shortID, path) keys, for assertions.
func (s *MemStore) Keys() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string)
	for k := range s.data {
		out[k.shortID] = append(out[k.shortID], k.path)
	}
	return out
}

// MemOpener hands out MemStores keyed by repository name.
type MemOpener struct {
	mu     sync.Mutex
	Stores map[string]*MemStore
	Err    error
}

var _ browse.StoreOpener = (*MemOpener)(nil)

func NewMemOpener() *MemOpener {
	return &MemOpener{Stores: make(map[string]*MemStore)}
}

func (o *MemOpener) Open(repoName string) (browse.ListingStore, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	s, ok := o.Stores[repoName]
	if !ok {
		s = NewMemStore()
		o.Stores[repoName] = s
	}
	return s, nil
}
