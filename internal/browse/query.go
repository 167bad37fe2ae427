package browse

import "context"

// ProgressFunc receives transfer progress as bytes written versus the
// expected total (total <= 0 when unknown). Returning false aborts the
// transfer.
type ProgressFunc func(written, total int64) bool

// QueryService executes queries against the backup store. Calls are
// long-running; implementations must honor context cancellation and
// must never be invoked while the engine holds a cache lock.
type QueryService interface {
	// Snapshots lists every snapshot in the repository.
	Snapshots(ctx context.Context, repo *Repository) ([]Snapshot, error)

	// Tree lists a snapshot's entire tree, every entry with its full
	// store path, unfiltered.
	Tree(ctx context.Context, repo *Repository, shortID string) ([]TreeEntry, error)

	// FindVersions locates every occurrence of storePath across all
	// snapshots whose root set includes pathFilter.
	FindVersions(ctx context.Context, repo *Repository, pathFilter, storePath string) ([]FileVersion, error)

	// ExtractFile streams one file from a snapshot to localPath.
	// Progress is reported against total when total > 0. The
	// implementation must remove partial output on error or abort.
	ExtractFile(ctx context.Context, repo *Repository, shortID, storePath, localPath string, total int64, progress ProgressFunc) error

	// ExtractSubtree restores the subtree at includePath (within the
	// snapshot's rootPath) into targetDir.
	ExtractSubtree(ctx context.Context, repo *Repository, shortID, rootPath, includePath, targetDir string) error

	// RemovePath removes excludeStorePath from every snapshot covering
	// rootPath. Irreversible; the engine confirms before calling.
	RemovePath(ctx context.Context, repo *Repository, rootPath, excludeStorePath string) error
}

// Prompter is the host's interactive surface. Implementations return
// ok=false when the user cancels.
type Prompter interface {
	PromptText(title, message string) (value string, ok bool)
	PromptPassword(title, message string) (value string, ok bool)
	PromptYesNo(title, message string) bool
}
