package restic

import (
	"time"

	"rex-go/internal/browse"
)

// snapshotJSON is one element of `restic snapshots --json`.
type snapshotJSON struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Time     time.Time `json:"time"`
	Hostname string    `json:"hostname"`
	Paths    []string  `json:"paths"`
}

// shortID prefers the field restic provides, falling back to a prefix
// of the full id for repositories served by older binaries.
func (s snapshotJSON) shortID() string {
	if s.ShortID != "" {
		return s.ShortID
	}
	return shortenID(s.ID)
}

// lsNodeJSON is one line of `restic ls --json`. Newer restic tags lines
// with message_type, older with struct_type; the header line carries
// the snapshot and has no path.
type lsNodeJSON struct {
	MessageType string    `json:"message_type"`
	StructType  string    `json:"struct_type"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Mtime       time.Time `json:"mtime"`
}

func (n lsNodeJSON) isNode() bool {
	switch {
	case n.MessageType == "node", n.StructType == "node":
		return true
	case n.MessageType == "" && n.StructType == "" && n.Path != "":
		return true
	default:
		return false
	}
}

func (n lsNodeJSON) kind() browse.EntryKind {
	if n.Type == "dir" {
		return browse.KindDir
	}
	return browse.KindFile
}

// findGroupJSON is one element of `restic find --json`: the matches
// within a single snapshot.
type findGroupJSON struct {
	Snapshot string          `json:"snapshot"`
	Matches  []findMatchJSON `json:"matches"`
}

type findMatchJSON struct {
	Path  string    `json:"path"`
	Type  string    `json:"type"`
	Size  int64     `json:"size"`
	Mtime time.Time `json:"mtime"`
}
