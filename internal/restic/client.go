// Package restic runs the restic binary as a subprocess and maps its
// JSON output onto browse types. The repository password is passed via
// RESTIC_PASSWORD in the child environment of each invocation only; it
// is never written anywhere.
package restic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"rex-go/internal/browse"
)

const defaultBinary = "restic"

// stderr is kept for error messages but capped; restic can be chatty.
const maxStderrBytes = 8 * 1024

// Client implements browse.QueryService by shelling out to restic.
type Client struct {
	binary string
	log    browse.Logger
}

var _ browse.QueryService = (*Client)(nil)

// NewClient creates a client using the restic binary found on PATH.
func NewClient(log browse.Logger) *Client {
	return NewClientWithBinary(defaultBinary, log)
}

// NewClientWithBinary creates a client running the given binary. Used
// by tests to substitute a fake.
func NewClientWithBinary(binary string, log browse.Logger) *Client {
	if log == nil {
		log = browse.NewNopLogger()
	}
	return &Client{binary: binary, log: log}
}

// command builds an exec.Cmd for one restic invocation against repo.
// The password goes into the child's environment, never the argv.
func (c *Client) command(ctx context.Context, repo *browse.Repository, args ...string) *exec.Cmd {
	full := append([]string{"-r", repo.Target}, args...)
	cmd := exec.CommandContext(ctx, c.binary, full...)
	cmd.Env = append(os.Environ(), "RESTIC_PASSWORD="+repo.Password())
	return cmd
}

// run executes a restic command and returns its stdout.
func (c *Client) run(ctx context.Context, repo *browse.Repository, args ...string) ([]byte, error) {
	cmd := c.command(ctx, repo, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = newCapWriter(&stderr, maxStderrBytes)

	c.log.Debug("running restic", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, commandError(args, err, stderr.Bytes())
	}
	return stdout.Bytes(), nil
}

// commandError wraps a restic failure with the subcommand and a stderr
// snippet.
func commandError(args []string, err error, stderr []byte) error {
	sub := "restic"
	if len(args) > 0 {
		sub = "restic " + args[0]
	}
	msg := strings.TrimSpace(string(stderr))
	if msg != "" {
		return fmt.Errorf("%s failed: %w: %s", sub, err, msg)
	}
	return fmt.Errorf("%s failed: %w", sub, err)
}

// Snapshots lists every snapshot in the repository.
func (c *Client) Snapshots(ctx context.Context, repo *browse.Repository) ([]browse.Snapshot, error) {
	out, err := c.run(ctx, repo, "snapshots", "--json")
	if err != nil {
		return nil, err
	}

	var raw []snapshotJSON
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decoding snapshot list: %w", err)
	}

	snaps := make([]browse.Snapshot, 0, len(raw))
	for _, s := range raw {
		snaps = append(snaps, browse.Snapshot{
			ID:       s.ID,
			ShortID:  s.shortID(),
			Time:     s.Time,
			Hostname: s.Hostname,
			Paths:    s.Paths,
		})
	}
	return snaps, nil
}

// Tree lists the snapshot's entire tree recursively, one entry per
// node, paths normalized.
func (c *Client) Tree(ctx context.Context, repo *browse.Repository, shortID string) ([]browse.TreeEntry, error) {
	cmd := c.command(ctx, repo, "ls", "--json", "--recursive", shortID, "/")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching to restic ls: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = newCapWriter(&stderr, maxStderrBytes)

	c.log.Debug("running restic", "args", "ls --json --recursive "+shortID)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting restic ls: %w", err)
	}

	// restic ls emits one JSON object per line: the snapshot header
	// first, then every node.
	var entries []browse.TreeEntry
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var node lsNodeJSON
		if err := json.Unmarshal(line, &node); err != nil {
			c.log.Debug("skipping undecodable ls line", "error", err)
			continue
		}
		if !node.isNode() {
			continue
		}
		entries = append(entries, browse.TreeEntry{
			Path: browse.NormalizeStorePath(node.Path),
			Entry: browse.Entry{
				Name:    node.Name,
				Kind:    node.kind(),
				Size:    node.Size,
				ModTime: node.Mtime,
			},
		})
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, commandError([]string{"ls"}, err, stderr.Bytes())
	}
	if scanErr != nil {
		return nil, fmt.Errorf("reading restic ls output: %w", scanErr)
	}
	return entries, nil
}

// FindVersions locates every occurrence of storePath across snapshots
// whose root set includes pathFilter.
func (c *Client) FindVersions(ctx context.Context, repo *browse.Repository, pathFilter, storePath string) ([]browse.FileVersion, error) {
	out, err := c.run(ctx, repo, "find", "--json", "--path", pathFilter, storePath)
	if err != nil {
		return nil, err
	}

	var groups []findGroupJSON
	if err := json.Unmarshal(out, &groups); err != nil {
		return nil, fmt.Errorf("decoding find output: %w", err)
	}

	var versions []browse.FileVersion
	for _, g := range groups {
		for _, m := range g.Matches {
			if m.Type == "dir" {
				continue
			}
			versions = append(versions, browse.FileVersion{
				ShortID: shortenID(g.Snapshot),
				Path:    browse.NormalizeStorePath(m.Path),
				Size:    m.Size,
				ModTime: m.Mtime,
			})
		}
	}
	return versions, nil
}

// ExtractFile streams one file out of a snapshot via restic dump.
// Partial output is removed on any failure or abort.
func (c *Client) ExtractFile(ctx context.Context, repo *browse.Repository, shortID, storePath, localPath string, total int64, progress browse.ProgressFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := c.command(ctx, repo, "dump", shortID, storePath)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attaching to restic dump: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = newCapWriter(&stderr, maxStderrBytes)

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}

	c.log.Debug("running restic", "args", "dump "+shortID+" "+storePath)
	if err := cmd.Start(); err != nil {
		dst.Close()
		os.Remove(localPath)
		return fmt.Errorf("starting restic dump: %w", err)
	}

	written, copyErr := copyWithProgress(dst, stdout, total, progress)
	closeErr := dst.Close()

	aborted := errors.Is(copyErr, browse.ErrAborted)
	if aborted {
		// Stop the producer before reaping it.
		cancel()
	}
	waitErr := cmd.Wait()

	switch {
	case aborted:
		os.Remove(localPath)
		return browse.ErrAborted
	case ctx.Err() != nil:
		os.Remove(localPath)
		return ctx.Err()
	case copyErr != nil:
		os.Remove(localPath)
		return fmt.Errorf("writing %s: %w", localPath, copyErr)
	case waitErr != nil:
		os.Remove(localPath)
		return commandError([]string{"dump"}, waitErr, stderr.Bytes())
	case closeErr != nil:
		os.Remove(localPath)
		return fmt.Errorf("closing %s: %w", localPath, closeErr)
	}

	c.log.Debug("dump complete", "path", storePath, "bytes", written)
	return nil
}

// ExtractSubtree restores includePath (within rootPath) into targetDir.
func (c *Client) ExtractSubtree(ctx context.Context, repo *browse.Repository, shortID, rootPath, includePath, targetDir string) error {
	_, err := c.run(ctx, repo, "restore", shortID,
		"--path", rootPath,
		"--include", includePath,
		"--target", targetDir)
	return err
}

// RemovePath rewrites every snapshot covering rootPath to exclude
// excludeStorePath, forgetting the originals.
func (c *Client) RemovePath(ctx context.Context, repo *browse.Repository, rootPath, excludeStorePath string) error {
	_, err := c.run(ctx, repo, "rewrite",
		"--exclude", excludeStorePath,
		"--path", rootPath,
		"--forget")
	return err
}

// copyWithProgress copies src to dst in chunks, reporting after each
// chunk. Returns browse.ErrAborted when the callback declines.
func copyWithProgress(dst io.Writer, src io.Reader, total int64, progress browse.ProgressFunc) (int64, error) {
	var written int64
	buf := make([]byte, 256*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
			if progress != nil && !progress(written, total) {
				return written, browse.ErrAborted
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func shortenID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// capWriter keeps the first limit bytes and drops the rest.
type capWriter struct {
	dst   *bytes.Buffer
	limit int
}

func newCapWriter(dst *bytes.Buffer, limit int) *capWriter {
	return &capWriter{dst: dst, limit: limit}
}

func (w *capWriter) Write(p []byte) (int, error) {
	if room := w.limit - w.dst.Len(); room > 0 {
		if len(p) > room {
			w.dst.Write(p[:room])
		} else {
			w.dst.Write(p)
		}
	}
	return len(p), nil
}
