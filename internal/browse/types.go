package browse

import (
	"errors"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Sentinel errors surfaced by engine operations. Callers distinguish
// them with errors.Is.
var (
	// ErrAborted reports that the user cancelled a long-running
	// operation. Distinct from I/O failure so hosts can stay quiet.
	ErrAborted = errors.New("operation aborted by user")

	// ErrAuthFailed reports an authentication or connectivity failure
	// against the backup store. The repository's cached credential has
	// already been cleared when this is returned.
	ErrAuthFailed = errors.New("repository authentication failed")

	// ErrNotFound reports that a path does not exist in the namespace.
	ErrNotFound = errors.New("path not found")

	// ErrExists reports that a local destination already exists and
	// overwrite was not requested.
	ErrExists = errors.New("destination exists")
)

// Repository identifies one configured restic repository. The password
// lives only in memory; it is never serialized with the repository.
// Credential access is safe for concurrent use: parallel transfers may
// read the password while a failed query clears it.
type Repository struct {
	Name       string
	Target     string // restic -r argument (path or URL)
	Configured bool

	pwMu        sync.Mutex
	password    string
	hasPassword bool
}

// NewRepository creates a configured repository without a credential.
func NewRepository(name, target string) *Repository {
	return &Repository{Name: name, Target: target, Configured: true}
}

// SetPassword stores the credential in memory.
func (r *Repository) SetPassword(pw string) {
	r.pwMu.Lock()
	defer r.pwMu.Unlock()
	r.password = pw
	r.hasPassword = true
}

// ClearPassword drops the in-memory credential so the next operation
// re-prompts.
func (r *Repository) ClearPassword() {
	r.pwMu.Lock()
	defer r.pwMu.Unlock()
	r.password = ""
	r.hasPassword = false
}

// HasPassword reports whether a credential is held in memory.
func (r *Repository) HasPassword() bool {
	r.pwMu.Lock()
	defer r.pwMu.Unlock()
	return r.hasPassword && r.password != ""
}

// Password returns the in-memory credential (empty if none).
func (r *Repository) Password() string {
	r.pwMu.Lock()
	defer r.pwMu.Unlock()
	return r.password
}

// Snapshot is one immutable point-in-time record in the backup store.
type Snapshot struct {
	ID       string // full id
	ShortID  string // display/lookup key
	Time     time.Time
	Hostname string
	Paths    []string // backup root paths covered by this snapshot
}

// clone returns an independent copy (Paths included).
func (s Snapshot) clone() Snapshot {
	c := s
	c.Paths = append([]string(nil), s.Paths...)
	return c
}

func cloneSnapshots(in []Snapshot) []Snapshot {
	return lo.Map(in, func(s Snapshot, _ int) Snapshot { return s.clone() })
}

// EntryKind tags what a directory entry represents. Version groups are
// a first-class kind instead of a magic name prefix so a real file name
// can never be mistaken for one inside the engine.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDir
	KindVersionGroup
)

// Entry is one row of a directory listing. Entries are values; every
// read across a cache boundary yields an independent copy.
type Entry struct {
	Name    string
	Kind    EntryKind
	Size    int64
	ModTime time.Time
}

// IsDir reports whether the entry is a plain directory.
func (e Entry) IsDir() bool { return e.Kind == KindDir }

// Traversable reports whether the host may descend into the entry.
func (e Entry) Traversable() bool { return e.Kind != KindFile }

// DisplayName renders the entry for the namespace: version groups carry
// the fixed marker prefix, everything else is the bare name.
func (e Entry) DisplayName() string {
	if e.Kind == KindVersionGroup {
		return VersionMarker + e.Name
	}
	return e.Name
}

func cloneEntries(in []Entry) []Entry {
	if in == nil {
		return nil
	}
	return append([]Entry(nil), in...)
}

// TreeEntry is one row of a full recursive snapshot listing: the entry
// plus its complete store path.
type TreeEntry struct {
	Path string // normalized store path, e.g. /D/Photos/a.jpg
	Entry
}

// FileVersion is one concrete occurrence of a file across snapshots.
type FileVersion struct {
	ShortID string
	Path    string // store path of the occurrence
	Size    int64
	ModTime time.Time
}
