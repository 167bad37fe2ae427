package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"rex-go/internal/browse"
)

// MockQueryService is a scripted browse.QueryService. Tests populate
// the maps and inspect the call counters. Safe for concurrent use.
type MockQueryService struct {
	mu sync.Mutex

	SnapshotList []browse.Snapshot
	SnapshotsErr error

	// Trees maps short id to the snapshot's full recursive listing.
	Trees   map[string][]browse.TreeEntry
	TreeErr error

	// Versions is returned from FindVersions regardless of arguments.
	Versions    []browse.FileVersion
	VersionsErr error

	// FileContent maps store path to the bytes ExtractFile writes.
	FileContent map[string][]byte
	ExtractErr  error

	SubtreeErr error
	RemoveErr  error

	SnapshotsCalls int
	TreeCalls      int
	VersionsCalls  int
	ExtractCalls   int
	SubtreeCalls   int
	RemoveCalls    int

	// RemovedPaths records (rootPath, excludeStorePath) pairs.
	RemovedPaths [][2]string
}

var _ browse.QueryService = (*MockQueryService)(nil)

func NewMockQueryService() *MockQueryService {
	return &MockQueryService{
		Trees:       make(map[string][]browse.TreeEntry),
		FileContent: make(map[string][]byte),
	}
}

func (m *MockQueryService) Snapshots(ctx context.Context, repo *browse.Repository) ([]browse.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SnapshotsCalls++
	if m.SnapshotsErr != nil {
		return nil, m.SnapshotsErr
	}
	return append([]browse.Snapshot(nil), m.SnapshotList...), nil
}

func (m *MockQueryService) Tree(ctx context.Context, repo *browse.Repository, shortID string) ([]browse.TreeEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TreeCalls++
	if m.TreeErr != nil {
		return nil, m.TreeErr
	}
	tree, ok := m.Trees[shortID]
	if !ok {
		return nil, fmt.Errorf("no such snapshot: %s", shortID)
	}
	return append([]browse.TreeEntry(nil), tree...), nil
}

func (m *MockQueryService) FindVersions(ctx context.Context, repo *browse.Repository, pathFilter, storePath string) ([]browse.FileVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VersionsCalls++
	if m.VersionsErr != nil {
		return nil, m.VersionsErr
	}
	return append([]browse.FileVersion(nil), m.Versions...), nil
}

func (m *MockQueryService) ExtractFile(ctx context.Context, repo *browse.Repository, shortID, storePath, localPath string, total int64, progress browse.ProgressFunc) error {
	m.mu.Lock()
	m.ExtractCalls++
	content, ok := m.FileContent[storePath]
	err := m.ExtractErr
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no content scripted for %s", storePath)
	}
	if err := os.WriteFile(localPath, content, 0644); err != nil {
		return err
	}
	if progress != nil && !progress(int64(len(content)), total) {
		os.Remove(localPath)
		return browse.ErrAborted
	}
	return nil
}

func (m *MockQueryService) ExtractSubtree(ctx context.Context, repo *browse.Repository, shortID, rootPath, includePath, targetDir string) error {
	m.mu.Lock()
	m.SubtreeCalls++
	err := m.SubtreeErr
	tree := m.Trees[shortID]
	content := m.FileContent
	m.mu.Unlock()

	if err != nil {
		return err
	}
	// Materialize every scripted file under includePath into targetDir,
	// mirroring restic restore's layout (store path appended to target).
	for _, te := range tree {
		if te.Kind == browse.KindDir {
			continue
		}
		if !isUnder(te.Path, includePath) {
			continue
		}
		data, ok := content[te.Path]
		if !ok {
			continue
		}
		local := filepath.Join(targetDir, filepath.FromSlash(te.Path))
		if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(local, data, 0644); err != nil {
			return err
		}
	}
	return nil
}

func isUnder(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

func (m *MockQueryService) RemovePath(ctx context.Context, repo *browse.Repository, rootPath, excludeStorePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoveCalls++
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	m.RemovedPaths = append(m.RemovedPaths, [2]string{rootPath, excludeStorePath})
	return nil
}
