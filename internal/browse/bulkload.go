package browse

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// BulkLoader primes a repository's persistent listing store with an
// entire snapshot tree in one query and one transaction. It runs at
// most once per snapshot for the snapshot's lifetime in cache.
type BulkLoader struct {
	query QueryService
	log   Logger
}

// NewBulkLoader creates a loader over the given query service.
func NewBulkLoader(query QueryService, log Logger) *BulkLoader {
	return &BulkLoader{query: query, log: log}
}

// Load fetches shortID's full tree, partitions it into per-directory
// records, writes them with known-empty sentinels for childless
// directories, sets the snapshot's loaded marker, and returns only the
// listing for wantPath. On error nothing is written.
func (b *BulkLoader) Load(ctx context.Context, repo *Repository, store ListingStore, shortID, wantPath string) ([]Entry, LookupState, error) {
	tree, err := b.query.Tree(ctx, repo, shortID)
	if err != nil {
		return nil, Miss, fmt.Errorf("loading tree of snapshot %s: %w", shortID, err)
	}

	listings, emptyPaths := partitionByParent(tree)

	if err := store.StoreBulk(shortID, listings, emptyPaths); err != nil {
		// Store degraded; serve the result anyway, next miss re-queries.
		b.log.Warn("bulk cache write failed", "snapshot", shortID, "error", err)
	} else if err := store.MarkLoaded(shortID); err != nil {
		b.log.Warn("marking snapshot loaded failed", "snapshot", shortID, "error", err)
	}

	b.log.Debug("snapshot tree bulk loaded",
		"snapshot", shortID, "dirs", len(listings), "empty", len(emptyPaths), "entries", len(tree))

	if entries, ok := listings[wantPath]; ok {
		return entries, Hit, nil
	}
	if lo.Contains(emptyPaths, wantPath) {
		return nil, HitEmpty, nil
	}
	return nil, Miss, nil
}

// partitionByParent groups tree entries by their immediate containing
// directory: sort by parent path, then scan contiguous runs. Directory
// entries that parent nothing are reported separately so an empty
// directory stays distinguishable from an uncached one.
func partitionByParent(tree []TreeEntry) (map[string][]Entry, []string) {
	type parented struct {
		parent string
		entry  Entry
	}

	items := make([]parented, 0, len(tree))
	dirs := make(map[string]struct{})
	for _, te := range tree {
		p := NormalizeStorePath(te.Path)
		if p == "/" {
			continue // the root itself is nobody's entry
		}
		parent, name := SplitStorePath(p)
		e := te.Entry
		e.Name = name
		items = append(items, parented{parent: parent, entry: e})
		if e.Kind == KindDir {
			dirs[p] = struct{}{}
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].parent < items[j].parent })

	listings := make(map[string][]Entry)
	for start := 0; start < len(items); {
		end := start
		for end < len(items) && items[end].parent == items[start].parent {
			end++
		}
		group := make([]Entry, 0, end-start)
		for _, it := range items[start:end] {
			group = append(group, it.entry)
		}
		listings[items[start].parent] = group
		start = end
	}

	emptyPaths := lo.Filter(lo.Keys(dirs), func(d string, _ int) bool {
		_, hasChildren := listings[d]
		return !hasChildren
	})
	sort.Strings(emptyPaths)

	return listings, emptyPaths
}
