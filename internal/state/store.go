// Package state persists gateway state in SQLite.
//
// The store is a bucketed key-value table:
//   - addresses: one JSON AddressRecord per source address
//   - user_history: last access and address history per user name
//
// The pure Go modernc.org/sqlite driver is used so the gateway builds
// without CGO. A bucket is always rewritten whole inside one
// transaction, so a crash during a persist leaves the previous snapshot
// intact.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"grimm.is/knockgate/internal/clock"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrBucketExists  = errors.New("bucket already exists")
	ErrBucketMissing = errors.New("bucket does not exist")
	ErrStoreClosed   = errors.New("store is closed")
)

// Store is what the typed buckets need from the backend.
type Store interface {
	CreateBucket(name string) error
	Get(bucket, key string) ([]byte, error)
	List(bucket string) (map[string][]byte, error)
	// ReplaceBucket atomically swaps the bucket contents for values.
	ReplaceBucket(bucket string, values map[string][]byte) error
	Close() error
}

// SQLiteStore implements Store on a single database file.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	clk    clock.Clock
	closed bool
}

// Options configures the SQLite store.
type Options struct {
	Path    string      // database file, or ":memory:"
	WALMode bool        // journal_mode=WAL with NORMAL sync
	Clock   clock.Clock // stamps updated_at; defaults to clock.Real
}

// DefaultOptions enables WAL for path.
func DefaultOptions(path string) Options {
	return Options{Path: path, WALMode: true}
}

const schema = `
CREATE TABLE IF NOT EXISTS buckets (
	name       TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	bucket     TEXT NOT NULL REFERENCES buckets(name) ON DELETE CASCADE,
	key        TEXT NOT NULL,
	value      BLOB,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (bucket, key)
);`

// NewSQLiteStore opens path, creating the file and schema if needed.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	memory := opts.Path == ":memory:"
	dsn := opts.Path
	if opts.WALMode && !memory {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}
	// Every connection to :memory: is a separate database.
	if memory {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema in %s: %w", opts.Path, err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real
	}
	return &SQLiteStore{db: db, clk: clk}, nil
}

// CreateBucket returns ErrBucketExists if name is already present.
func (s *SQLiteStore) CreateBucket(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec("INSERT OR IGNORE INTO buckets (name, created_at) VALUES (?, ?)", name, s.clk.Now())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBucketExists
	}
	return nil
}

// Get returns one value or ErrNotFound.
func (s *SQLiteStore) Get(bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var value []byte
	err := s.db.QueryRow("SELECT value FROM entries WHERE bucket = ? AND key = ?", bucket, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

// List returns every key of bucket with its value.
func (s *SQLiteStore) List(bucket string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT key, value FROM entries WHERE bucket = ?", bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

// ReplaceBucket deletes every entry of bucket and inserts values in one
// transaction.
func (s *SQLiteStore) ReplaceBucket(bucket string, values map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRow("SELECT 1 FROM buckets WHERE name = ?", bucket).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrBucketMissing, bucket)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM entries WHERE bucket = ?", bucket); err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO entries (bucket, key, value, updated_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := s.clk.Now()
	for key, value := range values {
		if _, err := stmt.Exec(bucket, key, value, now); err != nil {
			return fmt.Errorf("write %s/%s: %w", bucket, key, err)
		}
	}
	return tx.Commit()
}

// Close is idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
