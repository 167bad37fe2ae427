package browse

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// mergeListings builds the cross-snapshot union of per-snapshot
// listings for one directory. Input listings must be ordered newest
// snapshot first: the first occurrence of a base name wins and later
// ones are discarded, so each name appears once with its most recent
// version's metadata. Plain directories pass through; plain files
// become traversable version-group entries.
func mergeListings(perSnapshot [][]Entry) []Entry {
	var merged []Entry
	seen := make(map[string]struct{})
	for _, listing := range perSnapshot {
		for _, e := range listing {
			if _, dup := seen[e.Name]; dup {
				continue
			}
			seen[e.Name] = struct{}{}
			if e.Kind == KindFile {
				e.Kind = KindVersionGroup
			}
			merged = append(merged, e)
		}
	}
	return merged
}

// dedupVersions drops occurrences that share a modification timestamp:
// snapshots retaining a byte-identical unchanged file all report the
// same mtime, and only distinct versions should be listed.
func dedupVersions(versions []FileVersion) []FileVersion {
	return lo.UniqBy(versions, func(v FileVersion) int64 { return v.ModTime.UnixNano() })
}

// allFilesListing serves the [All Files] union view for a backup path:
// every matching snapshot's (cached) listing at subpath, merged newest
// first with one entry per base name.
func (e *Engine) allFilesListing(ctx context.Context, repo *Repository, sanitized, subpath string) ([]Entry, error) {
	snaps, err := e.snapshotList(ctx, repo)
	if err != nil {
		return nil, err
	}

	store := e.storeFor(repo.Name)
	var perSnapshot [][]Entry
	for _, snap := range snaps { // already newest first
		root, ok := rootForSanitized(snap, sanitized)
		if !ok {
			continue
		}
		listing, err := e.listingFor(ctx, repo, store, snap.ShortID, JoinStorePath(root, subpath))
		if errors.Is(err, ErrNotFound) {
			continue // subpath absent in this snapshot
		}
		if err != nil {
			return nil, err
		}
		perSnapshot = append(perSnapshot, listing)
	}
	if perSnapshot == nil {
		return nil, fmt.Errorf("%s/%s: %w", sanitized, subpath, ErrNotFound)
	}
	return mergeListings(perSnapshot), nil
}

// versionListing lists every distinct version of one file across the
// snapshots covering a backup path. Always queried fresh: version
// identity spans snapshots and is never cached.
func (e *Engine) versionListing(ctx context.Context, repo *Repository, sanitized, fileSubpath string) ([]Entry, error) {
	snaps, err := e.snapshotList(ctx, repo)
	if err != nil {
		return nil, err
	}
	root, ok := originalRoot(snaps, sanitized)
	if !ok {
		return nil, fmt.Errorf("backup path %s: %w", sanitized, ErrNotFound)
	}

	versions, err := e.query.FindVersions(ctx, repo, root, JoinStorePath(root, fileSubpath))
	if err != nil {
		return nil, e.queryFailure(repo, "finding versions", err)
	}

	versions = dedupVersions(versions)
	sort.Slice(versions, func(i, j int) bool { return versions[i].ModTime.After(versions[j].ModTime) })

	entries := make([]Entry, 0, len(versions))
	for _, v := range versions {
		entries = append(entries, Entry{
			Name:    VersionDisplayName(v),
			Kind:    KindFile,
			Size:    v.Size,
			ModTime: v.ModTime,
		})
	}
	return entries, nil
}

// rootForSanitized returns the snapshot's own backup root whose
// sanitized form matches.
func rootForSanitized(snap Snapshot, sanitized string) (string, bool) {
	for _, p := range snap.Paths {
		if SanitizeBackupPath(p) == sanitized {
			return p, true
		}
	}
	return "", false
}

// originalRoot maps a sanitized backup path back to an original path,
// taking the first match across snapshots.
func originalRoot(snaps []Snapshot, sanitized string) (string, bool) {
	for _, snap := range snaps {
		if root, ok := rootForSanitized(snap, sanitized); ok {
			return root, true
		}
	}
	return "", false
}
