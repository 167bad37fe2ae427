package browse

import (
	"fmt"
	"strings"
)

// Names of the virtual entries in the namespace. These are the exact
// strings shown to (and received back from) the host.
const (
	AllFilesName      = "[All Files]"
	AddRepositoryName = "[Add Repository]"
	RefreshName       = "[Refresh]"

	// VersionMarker prefixes the display name of a version-group entry
	// inside an [All Files] view. It is a display convention only; the
	// engine tracks the kind explicitly (Entry.Kind).
	VersionMarker = "[v] "
)

// TargetKind classifies what a namespace path points at.
type TargetKind int

const (
	TargetRoot TargetKind = iota
	TargetAddRepository
	TargetRepositoryRoot
	TargetRefresh
	TargetBackupPath
	TargetSnapshot
	TargetVersionSelection
)

// Target is the resolved, tagged form of a namespace path.
type Target struct {
	Kind       TargetKind
	Repo       string // repository name (segment 1)
	BackupPath string // sanitized backup path (segment 2)

	// TargetSnapshot fields.
	Snapshot  string // snapshot display name; empty for [All Files]
	AllFiles  bool
	Remainder string // opaque subpath below the snapshot root, "/"-joined

	// TargetVersionSelection fields.
	VersionDir   string // merged-view directory containing the file
	VersionFile  string // original file name (marker stripped)
	VersionToken string // selected version display token; "" = list versions
}

// FileSubpath joins the version selection's directory and file name
// into the subpath below the backup root.
func (t Target) FileSubpath() string {
	if t.VersionDir == "" {
		return t.VersionFile
	}
	return t.VersionDir + "/" + t.VersionFile
}

// Resolve classifies a hierarchical namespace path. It is pure: no
// I/O, no cache access. Both '/' and '\' separate segments; runs of
// separators collapse; trailing separators are ignored.
func Resolve(path string) Target {
	segs := splitSegments(path)

	switch {
	case len(segs) == 0:
		return Target{Kind: TargetRoot}
	case len(segs) == 1 && segs[0] == AddRepositoryName:
		return Target{Kind: TargetAddRepository}
	case len(segs) == 1:
		return Target{Kind: TargetRepositoryRoot, Repo: segs[0]}
	case len(segs) == 2 && segs[1] == RefreshName:
		return Target{Kind: TargetRefresh, Repo: segs[0]}
	case len(segs) == 2:
		return Target{Kind: TargetBackupPath, Repo: segs[0], BackupPath: segs[1]}
	}

	t := Target{
		Kind:       TargetSnapshot,
		Repo:       segs[0],
		BackupPath: segs[1],
		AllFiles:   segs[2] == AllFilesName,
	}
	if !t.AllFiles {
		t.Snapshot = segs[2]
	}
	rest := segs[3:]

	if t.AllFiles {
		if i := markerIndex(rest); i >= 0 {
			return Target{
				Kind:         TargetVersionSelection,
				Repo:         t.Repo,
				BackupPath:   t.BackupPath,
				VersionDir:   strings.Join(rest[:i], "/"),
				VersionFile:  strings.TrimPrefix(rest[i], VersionMarker),
				VersionToken: strings.Join(rest[i+1:], "/"),
			}
		}
	}
	t.Remainder = strings.Join(rest, "/")
	return t
}

// markerIndex returns the index of the first version-marker segment,
// or -1. If a genuine file name starts with the marker it is
// indistinguishable here; the original convention is preserved.
func markerIndex(segs []string) int {
	for i, s := range segs {
		if strings.HasPrefix(s, VersionMarker) {
			return i
		}
	}
	return -1
}

func splitSegments(path string) []string {
	var segs []string
	for _, s := range strings.FieldsFunc(path, isSeparator) {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func isSeparator(r rune) bool { return r == '/' || r == '\\' }

// SanitizeBackupPath renders a backup root path as a name-safe
// namespace segment: each run of structural characters becomes a
// single '_', with no leading or trailing '_'. "D:\Photos" sanitizes
// to "D_Photos". The result is deterministic; mapping back to the
// original path goes through the snapshot list.
func SanitizeBackupPath(raw string) string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\\' || r == '/' || r == ':'
	})
	if len(parts) == 0 {
		return "_"
	}
	return strings.Join(parts, "_")
}

// NormalizeStorePath converts any spelling of a store path to the
// canonical internal form: forward slashes, collapsed separator runs,
// drive letters rewritten to a root segment ("D:\Photos" -> "/D/Photos"),
// no trailing slash except for the root itself. Normalization is total:
// two spellings of the same logical path normalize identically.
func NormalizeStorePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if len(p) >= 2 && p[1] == ':' && isDriveLetter(p[0]) {
		p = "/" + string(p[0]) + p[2:]
	}
	segs := splitSegments(p)
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/")
}

func isDriveLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// JoinStorePath builds the normalized store path for a subpath below a
// backup root.
func JoinStorePath(backupRoot, remainder string) string {
	if remainder == "" {
		return NormalizeStorePath(backupRoot)
	}
	return NormalizeStorePath(backupRoot + "/" + remainder)
}

// SplitStorePath splits a normalized store path into its parent path
// and base name. The root splits into ("/", "").
func SplitStorePath(p string) (parent, name string) {
	if p == "/" || p == "" {
		return "/", ""
	}
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/", p[i+1:]
	}
	return p[:i], p[i+1:]
}

// SnapshotDisplayName renders a snapshot for the namespace:
// "2025-01-28 10-30-05 (196bc576)".
func SnapshotDisplayName(s Snapshot) string {
	return fmt.Sprintf("%s (%s)", s.Time.Format("2006-01-02 15-04-05"), s.ShortID)
}

// VersionDisplayName renders one concrete file version:
// "2025-01-28 10-30-05 (196bc576) photo.jpg".
func VersionDisplayName(v FileVersion) string {
	_, name := SplitStorePath(v.Path)
	return fmt.Sprintf("%s (%s) %s", v.ModTime.Format("2006-01-02 15-04-05"), v.ShortID, name)
}

// ShortIDFromDisplay extracts the short snapshot id from a display name
// or version token, i.e. the content of the last parenthesized group.
func ShortIDFromDisplay(display string) (string, bool) {
	openIdx := strings.LastIndexByte(display, '(')
	closeIdx := strings.LastIndexByte(display, ')')
	if openIdx < 0 || closeIdx <= openIdx+1 {
		return "", false
	}
	return display[openIdx+1 : closeIdx], true
}
