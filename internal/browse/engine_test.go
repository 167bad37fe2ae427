package browse_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rex-go/internal/browse"
	"rex-go/internal/testutil"
)

var (
	s1Time = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	s2Time = time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
)

// fixtures returns a query service scripted with two snapshots of the
// backup root D:\Photos: s1 (older) and s2 (newer).
func fixtures() *testutil.MockQueryService {
	q := testutil.NewMockQueryService()
	q.SnapshotList = []browse.Snapshot{
		{ID: "full-196bc576", ShortID: "196bc576", Time: s1Time, Hostname: "pc", Paths: []string{"D:\\Photos"}},
		{ID: "full-a77b3c12", ShortID: "a77b3c12", Time: s2Time, Hostname: "pc", Paths: []string{"D:\\Photos"}},
	}
	q.Trees["196bc576"] = []browse.TreeEntry{
		{Path: "/D", Entry: browse.Entry{Kind: browse.KindDir}},
		{Path: "/D/Photos", Entry: browse.Entry{Kind: browse.KindDir}},
		{Path: "/D/Photos/a.jpg", Entry: browse.Entry{Kind: browse.KindFile, Size: 100, ModTime: s1Time}},
		{Path: "/D/Photos/vacation", Entry: browse.Entry{Kind: browse.KindDir}},
		{Path: "/D/Photos/vacation/c.jpg", Entry: browse.Entry{Kind: browse.KindFile, Size: 10, ModTime: s1Time}},
		{Path: "/D/Photos/vacation/d.jpg", Entry: browse.Entry{Kind: browse.KindFile, Size: 20, ModTime: s1Time}},
		{Path: "/D/Photos/empty", Entry: browse.Entry{Kind: browse.KindDir}},
	}
	q.Trees["a77b3c12"] = []browse.TreeEntry{
		{Path: "/D", Entry: browse.Entry{Kind: browse.KindDir}},
		{Path: "/D/Photos", Entry: browse.Entry{Kind: browse.KindDir}},
		{Path: "/D/Photos/a.jpg", Entry: browse.Entry{Kind: browse.KindFile, Size: 120, ModTime: s2Time}},
		{Path: "/D/Photos/b.jpg", Entry: browse.Entry{Kind: browse.KindFile, Size: 50, ModTime: s2Time}},
	}
	q.FileContent["/D/Photos/a.jpg"] = []byte("AAA")
	q.FileContent["/D/Photos/vacation/c.jpg"] = []byte("CCC")
	q.FileContent["/D/Photos/vacation/d.jpg"] = []byte("DDD")
	return q
}

type engineFixture struct {
	engine   *browse.Engine
	query    *testutil.MockQueryService
	opener   *testutil.MemOpener
	prompter *testutil.ScriptedPrompter
	saver    *testutil.MemSaver
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		query:    fixtures(),
		opener:   testutil.NewMemOpener(),
		prompter: &testutil.ScriptedPrompter{Passwords: []string{"secret", "secret", "secret"}},
		saver:    &testutil.MemSaver{},
	}
	f.engine = browse.NewEngine(f.query, f.opener, f.prompter, f.saver,
		browse.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	f.engine.AddRepo(browse.NewRepository("myrepo", "/srv/restic"))
	t.Cleanup(func() { f.engine.Close() })
	return f
}

func (f *engineFixture) store(t *testing.T) *testutil.MemStore {
	t.Helper()
	s, ok := f.opener.Stores["myrepo"]
	if !ok {
		t.Fatal("store for myrepo never opened")
	}
	return s
}

func displayS1() string {
	return browse.SnapshotDisplayName(browse.Snapshot{ShortID: "196bc576", Time: s1Time})
}

func displayS2() string {
	return browse.SnapshotDisplayName(browse.Snapshot{ShortID: "a77b3c12", Time: s2Time})
}

func names(entries []browse.Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.DisplayName())
	}
	return out
}

func assertNames(t *testing.T, entries []browse.Entry, want ...string) {
	t.Helper()
	got := names(entries)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestListRoot(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)

	entries, err := f.engine.List(context.Background(), "/")
	if err != nil {
		t.Fatal(err)
	}
	assertNames(t, entries, "myrepo", browse.AddRepositoryName)
	for _, e := range entries {
		if !e.Traversable() {
			t.Errorf("%s must be traversable", e.Name)
		}
	}
}

func TestListRepositoryRootPromptsOnce(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()

	entries, err := f.engine.List(ctx, "/myrepo")
	if err != nil {
		t.Fatal(err)
	}
	assertNames(t, entries, "D_Photos", browse.RefreshName)

	if _, err := f.engine.List(ctx, "/myrepo"); err != nil {
		t.Fatal(err)
	}
	if n := len(f.prompter.PasswordPrompts); n != 1 {
		t.Errorf("password prompted %d times, want 1", n)
	}
	// Snapshot list served from cache on the second access.
	if f.query.SnapshotsCalls != 1 {
		t.Errorf("Snapshots calls = %d, want 1", f.query.SnapshotsCalls)
	}
}

func TestListUnknownRepository(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)

	_, err := f.engine.List(context.Background(), "/nosuch")
	if !errors.Is(err, browse.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListBackupPath(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)

	entries, err := f.engine.List(context.Background(), "/myrepo/D_Photos")
	if err != nil {
		t.Fatal(err)
	}
	// [All Files] first, then snapshots newest first.
	assertNames(t, entries, browse.AllFilesName, displayS2(), displayS1())

	_, err = f.engine.List(context.Background(), "/myrepo/X_Nope")
	if !errors.Is(err, browse.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSnapshotListingBulkLoadsOnce(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()
	base := "/myrepo/D_Photos/" + displayS1()

	entries, err := f.engine.List(ctx, base)
	if err != nil {
		t.Fatal(err)
	}
	assertNames(t, entries, "a.jpg", "vacation", "empty")
	if f.query.TreeCalls != 1 {
		t.Fatalf("Tree calls = %d, want 1", f.query.TreeCalls)
	}

	// Descending into a sibling directory is served from cache.
	sub, err := f.engine.List(ctx, base+"/vacation")
	if err != nil {
		t.Fatal(err)
	}
	assertNames(t, sub, "c.jpg", "d.jpg")

	// The known-empty directory is a hit, not an error.
	empty, err := f.engine.List(ctx, base+"/empty")
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("got %v, want empty listing", names(empty))
	}

	// Once the tree is loaded a miss is authoritative: no re-query.
	_, err = f.engine.List(ctx, base+"/nonexistent")
	if !errors.Is(err, browse.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if f.query.TreeCalls != 1 {
		t.Errorf("Tree calls = %d, want 1 (no requery after bulk load)", f.query.TreeCalls)
	}
}

func TestBulkLoadSurvivesStoreFailure(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()

	// Open the store and make every write fail.
	if _, err := f.engine.List(ctx, "/myrepo"); err != nil {
		t.Fatal(err)
	}
	f.store(t).FailPut = true

	entries, err := f.engine.List(ctx, "/myrepo/D_Photos/"+displayS1())
	if err != nil {
		t.Fatal(err)
	}
	assertNames(t, entries, "a.jpg", "vacation", "empty")
}

func TestAllFilesMergedListing(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)

	entries, err := f.engine.List(context.Background(), "/myrepo/D_Photos/[All Files]")
	if err != nil {
		t.Fatal(err)
	}

	// Union of both snapshots, newest first: files become version
	// groups, each base name once, newest metadata wins.
	assertNames(t, entries, "[v] a.jpg", "[v] b.jpg", "vacation", "empty")

	for _, e := range entries {
		if e.Name == "a.jpg" {
			if e.Size != 120 || !e.ModTime.Equal(s2Time) {
				t.Errorf("a.jpg should carry s2 metadata, got %+v", e)
			}
			if e.Kind != browse.KindVersionGroup {
				t.Errorf("a.jpg kind = %v", e.Kind)
			}
		}
	}

	// Both trees were loaded, once each.
	if f.query.TreeCalls != 2 {
		t.Errorf("Tree calls = %d, want 2", f.query.TreeCalls)
	}
}

func TestAllFilesSubpathSkipsMissingSnapshots(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)

	// vacation exists only in s1; the union must not fail on s2.
	entries, err := f.engine.List(context.Background(), "/myrepo/D_Photos/[All Files]/vacation")
	if err != nil {
		t.Fatal(err)
	}
	assertNames(t, entries, "[v] c.jpg", "[v] d.jpg")

	// A subpath in no snapshot is not found.
	_, err = f.engine.List(context.Background(), "/myrepo/D_Photos/[All Files]/nowhere")
	if !errors.Is(err, browse.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestVersionListing(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	f.query.Versions = []browse.FileVersion{
		{ShortID: "196bc576", Path: "/D/Photos/a.jpg", Size: 100, ModTime: s1Time},
		{ShortID: "a77b3c12", Path: "/D/Photos/a.jpg", Size: 120, ModTime: s2Time},
		// Unchanged duplicate of the s1 version in a third snapshot.
		{ShortID: "deadbeef", Path: "/D/Photos/a.jpg", Size: 100, ModTime: s1Time},
	}

	entries, err := f.engine.List(context.Background(), "/myrepo/D_Photos/[All Files]/[v] a.jpg")
	if err != nil {
		t.Fatal(err)
	}

	wantNewest := browse.VersionDisplayName(browse.FileVersion{
		ShortID: "a77b3c12", Path: "/D/Photos/a.jpg", ModTime: s2Time,
	})
	wantOlder := browse.VersionDisplayName(browse.FileVersion{
		ShortID: "196bc576", Path: "/D/Photos/a.jpg", ModTime: s1Time,
	})
	assertNames(t, entries, wantNewest, wantOlder)

	if f.query.VersionsCalls != 1 {
		t.Errorf("FindVersions calls = %d, want 1", f.query.VersionsCalls)
	}

	// Version listings are never cached.
	if _, err := f.engine.List(context.Background(), "/myrepo/D_Photos/[All Files]/[v] a.jpg"); err != nil {
		t.Fatal(err)
	}
	if f.query.VersionsCalls != 2 {
		t.Errorf("FindVersions calls = %d, want 2", f.query.VersionsCalls)
	}
}

func TestStat(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()

	e, err := f.engine.Stat(ctx, "/myrepo/D_Photos/"+displayS1()+"/a.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if e.Size != 100 || e.Kind != browse.KindFile {
		t.Errorf("got %+v", e)
	}

	// Version groups are addressed by their display name.
	g, err := f.engine.Stat(ctx, "/myrepo/D_Photos/[All Files]/[v] a.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if g.Kind != browse.KindVersionGroup || g.Size != 120 {
		t.Errorf("got %+v", g)
	}

	_, err = f.engine.Stat(ctx, "/myrepo/D_Photos/"+displayS1()+"/nope.jpg")
	if !errors.Is(err, browse.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFetchDirect(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	dir := t.TempDir()
	local := filepath.Join(dir, "a.jpg")
	remote := "/myrepo/D_Photos/" + displayS1() + "/a.jpg"

	err := f.engine.Fetch(context.Background(), remote, local, browse.FetchOptions{Size: 100})
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(local)
	if err != nil || string(data) != "AAA" {
		t.Fatalf("read %q, err %v", data, err)
	}
	if f.query.ExtractCalls != 1 {
		t.Errorf("Extract calls = %d, want 1", f.query.ExtractCalls)
	}
}

func TestFetchRefusesToOverwrite(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	dir := t.TempDir()
	local := filepath.Join(dir, "a.jpg")
	if err := os.WriteFile(local, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	remote := "/myrepo/D_Photos/" + displayS1() + "/a.jpg"

	err := f.engine.Fetch(context.Background(), remote, local, browse.FetchOptions{})
	if !errors.Is(err, browse.ErrExists) {
		t.Fatalf("err = %v, want ErrExists", err)
	}

	// With Overwrite set the fetch proceeds.
	err = f.engine.Fetch(context.Background(), remote, local, browse.FetchOptions{Overwrite: true})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(local)
	if string(data) != "AAA" {
		t.Errorf("read %q", data)
	}
}

func TestFetchAbortBeforeTransfer(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	local := filepath.Join(t.TempDir(), "a.jpg")
	remote := "/myrepo/D_Photos/" + displayS1() + "/a.jpg"

	err := f.engine.Fetch(context.Background(), remote, local, browse.FetchOptions{
		Size:     100,
		Progress: func(written, total int64) bool { return false },
	})
	if !errors.Is(err, browse.ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if f.query.ExtractCalls != 0 {
		t.Errorf("Extract calls = %d, want 0", f.query.ExtractCalls)
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Error("no partial output expected")
	}
}

func TestFetchVersionSelection(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	local := filepath.Join(t.TempDir(), "a.jpg")

	token := browse.VersionDisplayName(browse.FileVersion{
		ShortID: "196bc576", Path: "/D/Photos/a.jpg", ModTime: s1Time,
	})
	remote := "/myrepo/D_Photos/[All Files]/[v] a.jpg/" + token

	if err := f.engine.Fetch(context.Background(), remote, local, browse.FetchOptions{}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(local)
	if string(data) != "AAA" {
		t.Errorf("read %q", data)
	}
}

func TestBatchTransfer(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	base := "/myrepo/D_Photos/" + displayS1()

	if err := f.engine.TransferStart(ctx, base); err != nil {
		t.Fatal(err)
	}
	defer f.engine.TransferEnd()

	for _, name := range []string{"c.jpg", "d.jpg"} {
		local := filepath.Join(dir, name)
		if err := f.engine.Fetch(ctx, base+"/vacation/"+name, local, browse.FetchOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	// One subtree restore, no per-file extraction.
	if f.query.SubtreeCalls != 1 {
		t.Errorf("Subtree calls = %d, want 1", f.query.SubtreeCalls)
	}
	if f.query.ExtractCalls != 0 {
		t.Errorf("Extract calls = %d, want 0", f.query.ExtractCalls)
	}

	c, _ := os.ReadFile(filepath.Join(dir, "c.jpg"))
	d, _ := os.ReadFile(filepath.Join(dir, "d.jpg"))
	if string(c) != "CCC" || string(d) != "DDD" {
		t.Errorf("read %q and %q", c, d)
	}
}

// A host announces the transfer with the files' containing directory.
// Every file under that directory must come out of the one subtree
// restore.
func TestBatchTransferDirectorySession(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	base := "/myrepo/D_Photos/" + displayS1()

	if err := f.engine.TransferStart(ctx, base+"/vacation"); err != nil {
		t.Fatal(err)
	}
	defer f.engine.TransferEnd()

	for _, name := range []string{"c.jpg", "d.jpg"} {
		local := filepath.Join(dir, name)
		if err := f.engine.Fetch(ctx, base+"/vacation/"+name, local, browse.FetchOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	if f.query.SubtreeCalls != 1 {
		t.Errorf("Subtree calls = %d, want 1", f.query.SubtreeCalls)
	}
	if f.query.ExtractCalls != 0 {
		t.Errorf("Extract calls = %d, want 0 (both files inside the session subtree)", f.query.ExtractCalls)
	}
}

func TestBatchPrefetchFailureFallsBackToDirect(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	f.query.SubtreeErr = errors.New("restore failed")
	ctx := context.Background()
	dir := t.TempDir()
	base := "/myrepo/D_Photos/" + displayS1()

	if err := f.engine.TransferStart(ctx, base); err != nil {
		t.Fatal(err)
	}
	defer f.engine.TransferEnd()

	local := filepath.Join(dir, "c.jpg")
	if err := f.engine.Fetch(ctx, base+"/vacation/c.jpg", local, browse.FetchOptions{}); err != nil {
		t.Fatal(err)
	}
	if f.query.ExtractCalls != 1 {
		t.Errorf("Extract calls = %d, want 1 (direct fallback)", f.query.ExtractCalls)
	}
	data, _ := os.ReadFile(local)
	if string(data) != "CCC" {
		t.Errorf("read %q", data)
	}
}

func TestTransferStartIgnoresMergedView(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)

	if err := f.engine.TransferStart(context.Background(), "/myrepo/D_Photos/[All Files]"); err != nil {
		t.Fatal(err)
	}
	// No session: a merged-view fetch extracts directly.
	local := filepath.Join(t.TempDir(), "a.jpg")
	token := browse.VersionDisplayName(browse.FileVersion{
		ShortID: "a77b3c12", Path: "/D/Photos/a.jpg", ModTime: s2Time,
	})
	remote := "/myrepo/D_Photos/[All Files]/[v] a.jpg/" + token
	if err := f.engine.Fetch(context.Background(), remote, local, browse.FetchOptions{}); err != nil {
		t.Fatal(err)
	}
	if f.query.SubtreeCalls != 0 {
		t.Errorf("Subtree calls = %d, want 0", f.query.SubtreeCalls)
	}
}

func TestRemovePathDeclined(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	f.prompter.YesNo = false

	err := f.engine.RemovePath(context.Background(), "/myrepo/D_Photos/"+displayS1()+"/a.jpg")
	if !errors.Is(err, browse.ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if f.query.RemoveCalls != 0 {
		t.Errorf("Remove calls = %d, want 0", f.query.RemoveCalls)
	}
}

func TestRemovePathInvalidatesNarrowly(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	f.prompter.YesNo = true
	ctx := context.Background()
	base := "/myrepo/D_Photos/" + displayS1()

	// Warm the caches for both /D/Photos and /D/Photos/vacation.
	if _, err := f.engine.List(ctx, base); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.List(ctx, base+"/vacation"); err != nil {
		t.Fatal(err)
	}
	snapshotsBefore := f.query.SnapshotsCalls

	if err := f.engine.RemovePath(ctx, base+"/a.jpg"); err != nil {
		t.Fatal(err)
	}

	if f.query.RemoveCalls != 1 {
		t.Fatalf("Remove calls = %d, want 1", f.query.RemoveCalls)
	}
	got := f.query.RemovedPaths[0]
	if got[0] != "D:\\Photos" || got[1] != "/D/Photos/a.jpg" {
		t.Errorf("RemovePath(%q, %q)", got[0], got[1])
	}

	store := f.store(t)
	// The containing directory's rows are gone across all snapshots.
	if _, state := store.Lookup("196bc576", "/D/Photos"); state != browse.Miss {
		t.Error("/D/Photos should be invalidated")
	}
	// Sibling directories stay cached.
	if _, state := store.Lookup("196bc576", "/D/Photos/vacation"); state != browse.Hit {
		t.Error("/D/Photos/vacation should survive")
	}
	// Loaded markers are cleared: the next miss re-queries.
	if store.IsLoaded("196bc576") {
		t.Error("loaded marker should be cleared")
	}

	// The snapshot list was evicted; next access refetches.
	if _, err := f.engine.List(ctx, "/myrepo/D_Photos"); err != nil {
		t.Fatal(err)
	}
	if f.query.SnapshotsCalls != snapshotsBefore+1 {
		t.Errorf("Snapshots calls = %d, want %d", f.query.SnapshotsCalls, snapshotsBefore+1)
	}
}

func TestRemovePathFailureLeavesCaches(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	f.prompter.YesNo = true
	f.query.RemoveErr = errors.New("rewrite failed")
	ctx := context.Background()
	base := "/myrepo/D_Photos/" + displayS1()

	if _, err := f.engine.List(ctx, base); err != nil {
		t.Fatal(err)
	}

	if err := f.engine.RemovePath(ctx, base+"/a.jpg"); err == nil {
		t.Fatal("expected error")
	}

	store := f.store(t)
	if _, state := store.Lookup("196bc576", "/D/Photos"); state != browse.Hit {
		t.Error("failed removal must leave caches untouched")
	}
	if !store.IsLoaded("196bc576") {
		t.Error("loaded marker must survive a failed removal")
	}
}

func TestQueryFailureClearsCredential(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	f.query.SnapshotsErr = errors.New("wrong password")

	_, err := f.engine.List(context.Background(), "/myrepo")
	if !errors.Is(err, browse.ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}

	repo := f.engine.Repositories()[0]
	if repo.HasPassword() {
		t.Error("credential should be cleared after a query failure")
	}

	// The next attempt re-prompts and succeeds.
	f.query.SnapshotsErr = nil
	if _, err := f.engine.List(context.Background(), "/myrepo"); err != nil {
		t.Fatal(err)
	}
	if n := len(f.prompter.PasswordPrompts); n != 2 {
		t.Errorf("password prompted %d times, want 2", n)
	}
}

func TestQueryCancellationIsAbort(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	f.query.SnapshotsErr = context.Canceled

	_, err := f.engine.List(context.Background(), "/myrepo")
	if !errors.Is(err, browse.ErrAborted) {
		t.Errorf("err = %v, want ErrAborted", err)
	}
}

func TestPasswordPromptCancelled(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	f.prompter.Passwords = nil

	_, err := f.engine.List(context.Background(), "/myrepo")
	if !errors.Is(err, browse.ErrAborted) {
		t.Errorf("err = %v, want ErrAborted", err)
	}
}

func TestOrphanPurgeOnFreshSnapshotList(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()

	// Warm the store with s1's tree.
	if _, err := f.engine.List(ctx, "/myrepo/D_Photos/"+displayS1()); err != nil {
		t.Fatal(err)
	}

	// s1 disappears from the repository; force a refetch.
	f.query.SnapshotList = f.query.SnapshotList[1:]
	f.engine.Refresh("myrepo")

	if _, err := f.engine.List(ctx, "/myrepo/D_Photos"); err != nil {
		t.Fatal(err)
	}

	store := f.store(t)
	if _, state := store.Lookup("196bc576", "/D/Photos"); state != browse.Miss {
		t.Error("rows of the deleted snapshot should be purged")
	}
	if store.IsLoaded("196bc576") {
		t.Error("loaded marker of the deleted snapshot should be purged")
	}
}

func TestRefreshListingEntry(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	ctx := context.Background()

	if _, err := f.engine.List(ctx, "/myrepo"); err != nil {
		t.Fatal(err)
	}
	before := f.query.SnapshotsCalls

	entries, err := f.engine.List(ctx, "/myrepo/"+browse.RefreshName)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Kind != browse.KindFile {
		t.Fatalf("got %v", names(entries))
	}

	if _, err := f.engine.List(ctx, "/myrepo"); err != nil {
		t.Fatal(err)
	}
	if f.query.SnapshotsCalls != before+1 {
		t.Errorf("Snapshots calls = %d, want %d", f.query.SnapshotsCalls, before+1)
	}
}

func TestAddRepositoryFlow(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	f.prompter.Texts = []string{"/srv/other", "second"}
	f.prompter.Passwords = []string{"pw"}

	entries, err := f.engine.List(context.Background(), browse.AddRepositoryName)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %v", names(entries))
	}

	repos := f.engine.Repositories()
	if len(repos) != 2 || repos[1].Name != "second" || repos[1].Target != "/srv/other" {
		t.Fatalf("repos = %+v", repos)
	}
	if !repos[1].HasPassword() {
		t.Error("new repository should hold its password in memory")
	}
	if len(f.saver.Saved) != 1 {
		t.Errorf("registry saved %d times, want 1", len(f.saver.Saved))
	}
}

func TestAddRepositoryCancelled(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	f.prompter.Texts = nil // user cancels the first prompt

	entries, err := f.engine.List(context.Background(), browse.AddRepositoryName)
	if err != nil {
		t.Fatal(err)
	}
	if entries != nil {
		t.Errorf("got %v, want nil", names(entries))
	}
	if len(f.engine.Repositories()) != 1 {
		t.Error("cancelled flow must not add a repository")
	}
}

func TestAddRepositoryDuplicateName(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	f.prompter.Texts = []string{"/srv/other", "myrepo"}
	f.prompter.Passwords = []string{"pw"}

	_, err := f.engine.List(context.Background(), browse.AddRepositoryName)
	if err == nil {
		t.Fatal("expected error for duplicate name")
	}
	if len(f.saver.Saved) != 0 {
		t.Error("duplicate must not be saved")
	}
}

func TestAddRepositoryBadCredentials(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)
	f.prompter.Texts = []string{"/srv/other", "second"}
	f.prompter.Passwords = []string{"wrong"}
	f.query.SnapshotsErr = errors.New("wrong password")

	_, err := f.engine.List(context.Background(), browse.AddRepositoryName)
	if !errors.Is(err, browse.ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
	if len(f.engine.Repositories()) != 1 {
		t.Error("unverified repository must not be added")
	}
}

func TestListConcreteVersionIsNotADirectory(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t)

	token := browse.VersionDisplayName(browse.FileVersion{
		ShortID: "196bc576", Path: "/D/Photos/a.jpg", ModTime: s1Time,
	})
	_, err := f.engine.List(context.Background(), "/myrepo/D_Photos/[All Files]/[v] a.jpg/"+token)
	if !errors.Is(err, browse.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
