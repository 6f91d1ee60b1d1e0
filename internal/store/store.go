// Package store provides durable local persistence for the calendar
// dataset and sync credential state.
//
// Storage is a single-file SQLite database holding a key-value table. The
// full dataset lives under one fixed key and the credential state under a
// second; both are JSON text. Writes are synchronous and strictly ordered
// by call order: the last writer wins locally, and the remote store only
// ever catches up through a later load+merge cycle.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mschirtzinger/prodcal/internal/task"
)

// Fixed storage keys. These match the key names used by earlier releases,
// so existing databases keep working.
const (
	DataKey = "productivity-calendar-data"
	AuthKey = "productivity-calendar-auth"
)

// DefaultMaxValueBytes bounds a single stored value, mirroring the
// browser-localStorage quota the dataset historically lived under.
const DefaultMaxValueBytes = 5 << 20

var (
	// ErrNotFound means no value exists under the key. An empty store is a
	// valid state, not a failure.
	ErrNotFound = errors.New("store: key not found")

	// ErrCorruptData means a stored value exists but failed to parse.
	ErrCorruptData = errors.New("store: corrupt data")

	// ErrQuotaExceeded means a value is larger than the store accepts.
	ErrQuotaExceeded = errors.New("store: value exceeds quota")
)

// Store is a bounded, synchronous key-value store backed by SQLite.
type Store struct {
	conn          *sql.DB
	path          string
	maxValueBytes int

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxValueBytes overrides the per-value size bound.
func WithMaxValueBytes(n int) Option {
	return func(s *Store) { s.maxValueBytes = n }
}

// WithClock overrides the write-timestamp clock. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens the store database at path.
//
// The database is opened in WAL mode with a busy timeout. The caller MUST
// call Close() when done.
func Open(path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	s := &Store{
		conn:          conn,
		path:          path,
		maxValueBytes: DefaultMaxValueBytes,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the store, checkpointing the WAL first.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	s.conn = nil
	return nil
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous value. Values larger
// than the quota fail with ErrQuotaExceeded and leave the previous value
// intact.
func (s *Store) Set(key, value string) error {
	if len(value) > s.maxValueBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrQuotaExceeded, len(value), s.maxValueBytes)
	}
	_, err := s.conn.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.conn.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// LoadDataset reads and decodes the dataset. Returns ErrNotFound when no
// dataset has been stored yet and ErrCorruptData when the stored content
// does not parse; callers treat both as "no usable local data" but the log
// lines differ.
func (s *Store) LoadDataset() (*task.Dataset, error) {
	raw, err := s.Get(DataKey)
	if err != nil {
		return nil, err
	}
	ds, err := task.Decode([]byte(raw), s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	return ds, nil
}

// SaveDataset stamps the dataset's local timestamp and writes it. The
// stamp is non-destructive: task-level LastModified fields are untouched.
// On failure the in-memory dataset stays authoritative for the session;
// nothing is rolled back.
func (s *Store) SaveDataset(ds *task.Dataset) error {
	ds.Meta.LocalTimestamp = s.now()
	data, err := ds.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	return s.Set(DataKey, string(data))
}
