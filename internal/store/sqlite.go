// Package store persists directory listings per repository in SQLite.
// One database file per repository lives under the cache directory; a
// database that fails to open is deleted and recreated, trading cached
// listings for availability.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rex-go/internal/browse"
	"rex-go/internal/store/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements browse.ListingStore on a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	log  browse.Logger

	mu     sync.RWMutex
	loaded map[string]bool
}

var _ browse.ListingStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path, running migrations. path
// can be ":memory:" for tests.
func NewSQLiteStore(path string, log browse.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = browse.NewNopLogger()
	}
	db, err := openConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating listing store: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		path:   path,
		log:    log,
		loaded: make(map[string]bool),
	}
	if err := s.readLoadedMarkers(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// openConnection opens and configures a SQLite connection. WAL mode and
// a busy timeout keep concurrent lookups from tripping over writers.
func openConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open listing store: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure listing store: %w", err)
		}
	}

	return db, nil
}

func (s *SQLiteStore) readLoadedMarkers() error {
	rows, err := s.db.Query("SELECT short_id FROM loaded_snapshots")
	if err != nil {
		return fmt.Errorf("reading loaded markers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var shortID string
		if err := rows.Scan(&shortID); err != nil {
			return fmt.Errorf("scanning loaded marker: %w", err)
		}
		s.loaded[shortID] = true
	}
	return rows.Err()
}

// Lookup returns the cached listing for (shortID, path). Any database
// error degrades to a miss; the caller refetches from the repository.
func (s *SQLiteStore) Lookup(shortID, path string) ([]browse.Entry, browse.LookupState) {
	var count int64
	err := s.db.QueryRow(
		"SELECT entry_count FROM cached_dirs WHERE short_id = ? AND path = ?",
		shortID, path,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return nil, browse.Miss
	}
	if err != nil {
		s.log.Warn("listing lookup failed, treating as miss", "path", path, "error", err)
		return nil, browse.Miss
	}
	if count == 0 {
		return nil, browse.HitEmpty
	}

	rows, err := s.db.Query(
		"SELECT name, is_dir, size, mtime FROM dir_entries WHERE short_id = ? AND path = ? ORDER BY name",
		shortID, path,
	)
	if err != nil {
		s.log.Warn("listing lookup failed, treating as miss", "path", path, "error", err)
		return nil, browse.Miss
	}
	defer rows.Close()

	entries := make([]browse.Entry, 0, count)
	for rows.Next() {
		var (
			name  string
			isDir bool
			size  int64
			mtime int64
		)
		if err := rows.Scan(&name, &isDir, &size, &mtime); err != nil {
			s.log.Warn("listing row scan failed, treating as miss", "path", path, "error", err)
			return nil, browse.Miss
		}
		kind := browse.KindFile
		if isDir {
			kind = browse.KindDir
		}
		entries = append(entries, browse.Entry{
			Name:    name,
			Kind:    kind,
			Size:    size,
			ModTime: time.Unix(0, mtime),
		})
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("listing iteration failed, treating as miss", "path", path, "error", err)
		return nil, browse.Miss
	}
	if len(entries) == 0 {
		// Sentinel says non-empty but the entry rows are gone.
		return nil, browse.Miss
	}
	return entries, browse.Hit
}

// StoreBulk writes listings and known-empty paths for one snapshot in a
// single transaction. Existing rows for the same keys are replaced.
func (s *SQLiteStore) StoreBulk(shortID string, listings map[string][]browse.Entry, emptyPaths []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting bulk store: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for path, entries := range listings {
		if err := storeOneTx(tx, shortID, path, entries, now); err != nil {
			return err
		}
	}
	for _, path := range emptyPaths {
		if err := storeOneTx(tx, shortID, path, nil, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bulk store: %w", err)
	}
	return nil
}

// Store writes one listing. A nil or empty slice records the directory
// as known-empty.
func (s *SQLiteStore) Store(shortID, path string, entries []browse.Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting listing store: %w", err)
	}
	defer tx.Rollback()

	if err := storeOneTx(tx, shortID, path, entries, time.Now().Unix()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing listing store: %w", err)
	}
	return nil
}

func storeOneTx(tx *sql.Tx, shortID, path string, entries []browse.Entry, now int64) error {
	if _, err := tx.Exec(
		"DELETE FROM dir_entries WHERE short_id = ? AND path = ?",
		shortID, path,
	); err != nil {
		return fmt.Errorf("clearing old entries for %s: %w", path, err)
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO cached_dirs (short_id, path, entry_count, cached_at) VALUES (?, ?, ?, ?)",
		shortID, path, len(entries), now,
	); err != nil {
		return fmt.Errorf("storing sentinel for %s: %w", path, err)
	}
	for _, e := range entries {
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO dir_entries (short_id, path, name, is_dir, size, mtime) VALUES (?, ?, ?, ?, ?, ?)",
			shortID, path, e.Name, e.Kind == browse.KindDir, e.Size, e.ModTime.UnixNano(),
		); err != nil {
			return fmt.Errorf("storing entry %s in %s: %w", e.Name, path, err)
		}
	}
	return nil
}

// Purge deletes all rows whose short id is not in validShortIDs and
// returns the number of rows removed. Callers purge only after a
// successful snapshot fetch, so an empty valid set is authoritative
// and clears the whole store.
func (s *SQLiteStore) Purge(validShortIDs []string) (int, error) {
	where := ""
	args := make([]any, len(validShortIDs))
	if len(validShortIDs) > 0 {
		placeholders := strings.Repeat("?,", len(validShortIDs))
		where = fmt.Sprintf(" WHERE short_id NOT IN (%s)", placeholders[:len(placeholders)-1])
		for i, id := range validShortIDs {
			args[i] = id
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("starting purge: %w", err)
	}
	defer tx.Rollback()

	var removed int64
	for _, table := range []string{"cached_dirs", "dir_entries", "loaded_snapshots"} {
		res, err := tx.Exec("DELETE FROM "+table+where, args...)
		if err != nil {
			return 0, fmt.Errorf("purging %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("counting purged rows in %s: %w", table, err)
		}
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing purge: %w", err)
	}

	s.mu.Lock()
	valid := make(map[string]bool, len(validShortIDs))
	for _, id := range validShortIDs {
		valid[id] = true
	}
	for id := range s.loaded {
		if !valid[id] {
			delete(s.loaded, id)
		}
	}
	s.mu.Unlock()

	return int(removed), nil
}

// InvalidateUnderPath deletes the cached listing of parentPath for
// every snapshot. Listings under other parents stay.
func (s *SQLiteStore) InvalidateUnderPath(parentPath string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting invalidation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM dir_entries WHERE path = ?", parentPath); err != nil {
		return fmt.Errorf("invalidating entries under %s: %w", parentPath, err)
	}
	if _, err := tx.Exec("DELETE FROM cached_dirs WHERE path = ?", parentPath); err != nil {
		return fmt.Errorf("invalidating sentinel for %s: %w", parentPath, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing invalidation: %w", err)
	}
	return nil
}

// MarkLoaded records that shortID's whole tree is cached.
func (s *SQLiteStore) MarkLoaded(shortID string) error {
	if _, err := s.db.Exec(
		"INSERT OR REPLACE INTO loaded_snapshots (short_id, loaded_at) VALUES (?, ?)",
		shortID, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("marking snapshot %s loaded: %w", shortID, err)
	}

	s.mu.Lock()
	s.loaded[shortID] = true
	s.mu.Unlock()
	return nil
}

// IsLoaded reports whether shortID's tree has been bulk loaded.
func (s *SQLiteStore) IsLoaded(shortID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded[shortID]
}

// ClearLoaded drops every loaded marker.
func (s *SQLiteStore) ClearLoaded() error {
	if _, err := s.db.Exec("DELETE FROM loaded_snapshots"); err != nil {
		return fmt.Errorf("clearing loaded markers: %w", err)
	}

	s.mu.Lock()
	s.loaded = make(map[string]bool)
	s.mu.Unlock()
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Opener implements browse.StoreOpener, keeping one database file per
// repository under dir.
type Opener struct {
	dir string
	log browse.Logger
}

var _ browse.StoreOpener = (*Opener)(nil)

func NewOpener(dir string, log browse.Logger) *Opener {
	if log == nil {
		log = browse.NewNopLogger()
	}
	return &Opener{dir: dir, log: log}
}

// Open opens the listing store for repoName, creating the cache
// directory as needed. If the database cannot be opened or migrated it
// is deleted and recreated once; cached listings are expendable.
func (o *Opener) Open(repoName string) (browse.ListingStore, error) {
	if err := os.MkdirAll(o.dir, 0700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	path := filepath.Join(o.dir, fileSafeName(repoName)+".db")
	s, err := NewSQLiteStore(path, o.log)
	if err == nil {
		return s, nil
	}

	o.log.Warn("listing store unusable, recreating", "repo", repoName, "error", err)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if rmErr := os.Remove(path + suffix); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("removing corrupt listing store: %w", rmErr)
		}
	}

	s, err = NewSQLiteStore(path, o.log)
	if err != nil {
		return nil, fmt.Errorf("recreating listing store for %s: %w", repoName, err)
	}
	return s, nil
}

// fileSafeName maps a repository name to a safe database file name.
func fileSafeName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		default:
			return r
		}
	}, name)
	if mapped == "" {
		return "_"
	}
	return mapped
}
