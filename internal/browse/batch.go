package browse

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// BatchCoordinator implements the deferred whole-subtree prefetch for
// multi-file transfers. A session moves idle -> pending on the host's
// transfer-start signal, pending -> active when the first file request
// reveals which subtree to prefetch, and back to idle on transfer-end,
// which always deletes the session's temporary directory.
type BatchCoordinator struct {
	query QueryService
	log   Logger
	idgen IDGenerator

	// tempRoot is where session directories are created. Defaults to
	// the system temp dir; overridable for tests.
	tempRoot string

	mu      sync.Mutex
	session *batchSession
}

type batchSession struct {
	repo     *Repository
	shortID  string
	rootPath string // original backup root, as recorded in the snapshot
	prefix   string // normalized store path of the transfer's parent dir
	tempDir  string

	pending bool // waiting for the first file request
	active  bool // prefetch succeeded; temp dir holds the subtree
}

// NewBatchCoordinator creates an idle coordinator.
func NewBatchCoordinator(query QueryService, log Logger, idgen IDGenerator) *BatchCoordinator {
	return &BatchCoordinator{
		query:    query,
		log:      log,
		idgen:    idgen,
		tempRoot: os.TempDir(),
	}
}

// Begin starts a pending session for a multi-file transfer rooted at
// prefix inside one snapshot. Any previous session is torn down first.
func (b *BatchCoordinator) Begin(repo *Repository, shortID, rootPath, prefix string) error {
	b.End()

	tempDir := filepath.Join(b.tempRoot, "rex-restore-"+shortID+"-"+b.idgen.New())
	if err := os.MkdirAll(tempDir, 0o700); err != nil {
		return err
	}

	b.mu.Lock()
	b.session = &batchSession{
		repo:     repo,
		shortID:  shortID,
		rootPath: rootPath,
		prefix:   prefix,
		tempDir:  tempDir,
		pending:  true,
	}
	b.mu.Unlock()

	b.log.Debug("batch restore session opened", "snapshot", shortID, "prefix", prefix)
	return nil
}

// End closes the session, recursively deleting its temporary directory
// regardless of whether the prefetch succeeded.
func (b *BatchCoordinator) End() {
	b.mu.Lock()
	s := b.session
	b.session = nil
	b.mu.Unlock()

	if s == nil {
		return
	}
	if err := os.RemoveAll(s.tempDir); err != nil {
		b.log.Warn("removing batch temp dir failed", "dir", s.tempDir, "error", err)
	}
	b.log.Debug("batch restore session closed", "snapshot", s.shortID)
}

// Prepare runs the one-time subtree prefetch if the session is pending
// and the requested file belongs to it. The subtree is the narrowest
// one containing storePath: the first directory below the session's
// prefix, or the file itself when it sits directly in the prefix.
// The extraction runs without holding the coordinator lock.
func (b *BatchCoordinator) Prepare(ctx context.Context, shortID, storePath string) {
	b.mu.Lock()
	s := b.session
	if s == nil || !s.pending || s.shortID != shortID {
		b.mu.Unlock()
		return
	}
	s.pending = false // one-shot, even if the prefetch fails
	include := narrowestSubtree(s.prefix, storePath)
	repo, rootPath, tempDir := s.repo, s.rootPath, s.tempDir
	b.mu.Unlock()

	if err := b.query.ExtractSubtree(ctx, repo, shortID, rootPath, include, tempDir); err != nil {
		// Leave the session inactive; every request falls back to
		// direct extraction.
		b.log.Warn("batch prefetch failed", "snapshot", shortID, "include", include, "error", err)
		return
	}

	b.mu.Lock()
	if b.session == s {
		s.active = true
	}
	b.mu.Unlock()
	b.log.Debug("batch prefetch complete", "snapshot", shortID, "include", include)
}

// LocalCopy returns the pre-extracted local path for storePath if the
// session is active and the file exists under the temp dir.
func (b *BatchCoordinator) LocalCopy(shortID, storePath string) (string, bool) {
	b.mu.Lock()
	s := b.session
	if s == nil || !s.active || s.shortID != shortID {
		b.mu.Unlock()
		return "", false
	}
	tempDir := s.tempDir
	b.mu.Unlock()

	local := filepath.Join(tempDir, filepath.FromSlash(strings.TrimPrefix(storePath, "/")))
	if info, err := os.Stat(local); err != nil || info.IsDir() {
		return "", false
	}
	return local, true
}

// narrowestSubtree picks the prefetch root for the first requested
// file: prefix plus the file's first path segment below it.
func narrowestSubtree(prefix, storePath string) string {
	rel := strings.TrimPrefix(storePath, prefix)
	rel = strings.TrimPrefix(rel, "/")
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		if prefix == "/" {
			return "/" + rel[:i]
		}
		return prefix + "/" + rel[:i]
	}
	// File sits directly in the prefix directory.
	return storePath
}
