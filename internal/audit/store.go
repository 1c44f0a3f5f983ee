// Package audit keeps the decision journal: one row per engine decision,
// stored in SQLite and pruned after a retention period.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"grimm.is/knockgate/internal/clock"
	"grimm.is/knockgate/internal/logging"
)

// DefaultRetentionDays applies when the configured retention is not
// positive.
const DefaultRetentionDays = 30

// Event is one journaled decision.
type Event struct {
	ID        int64          `json:"id"`
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Address   string         `json:"address"`
	Path      string         `json:"path,omitempty"`
	Behavior  string         `json:"behavior"`
	Status    string         `json:"status"`
	Strikes   int            `json:"strikes"`
	Reason    string         `json:"reason"`
	User      string         `json:"user,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewRequestID returns a random request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

// MaskPath hides the passcode in an access path so it never reaches the
// journal. Anything after the access prefix and separator is replaced.
func MaskPath(path, accessPrefix string) string {
	if accessPrefix == "" || !strings.HasPrefix(path, accessPrefix) || len(path) <= len(accessPrefix)+1 {
		return path
	}
	return path[:len(accessPrefix)+1] + "***"
}

// Filter selects journal rows. Zero fields match everything.
type Filter struct {
	Since   time.Time
	Until   time.Time
	Address string
	User    string
	Limit   int
}

// Store provides persistent storage for decision events.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	clk           clock.Clock
	retentionDays int
	mirror        *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for pruning.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) { s.clk = clk }
}

// WithMirror also emits every written event as an audit log line.
func WithMirror(l *logging.Logger) Option {
	return func(s *Store) { s.mirror = l }
}

// NewStore opens the journal at dbPath, creating the directory and table
// if needed.
func NewStore(dbPath string, retentionDays int, opts ...Option) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			address TEXT NOT NULL,
			path TEXT,
			behavior TEXT NOT NULL,
			status TEXT NOT NULL,
			strikes INTEGER DEFAULT 0,
			reason TEXT NOT NULL,
			user TEXT,
			details TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp);
		CREATE INDEX IF NOT EXISTS idx_decisions_address ON decisions(address);
		CREATE INDEX IF NOT EXISTS idx_decisions_user ON decisions(user);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal table: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	s := &Store{db: db, clk: clock.Real, retentionDays: retentionDays}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Write persists an event. A missing RequestID or Timestamp is filled in.
func (s *Store) Write(evt Event) error {
	if evt.RequestID == "" {
		evt.RequestID = NewRequestID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.clk.Now()
	}

	var detailsJSON []byte
	if evt.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(evt.Details)
		if err != nil {
			detailsJSON = []byte("{}")
		}
	}

	s.mu.Lock()
	_, err := s.db.Exec(`
		INSERT INTO decisions (request_id, timestamp, address, path, behavior, status, strikes, reason, user, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, evt.RequestID, evt.Timestamp.UTC(), evt.Address, evt.Path, evt.Behavior, evt.Status,
		evt.Strikes, evt.Reason, evt.User, string(detailsJSON))
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}

	if s.mirror != nil {
		s.mirror.Audit(evt.Behavior, evt.Address, map[string]any{
			"request_id": evt.RequestID,
			"status":     evt.Status,
			"reason":     evt.Reason,
			"user":       evt.User,
		})
	}
	return nil
}

// Query returns matching events, newest first.
func (s *Store) Query(f Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, request_id, timestamp, address, path, behavior, status, strikes, reason, user, details
		FROM decisions WHERE 1=1`
	var args []any

	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, f.Until.UTC())
	}
	if f.Address != "" {
		query += " AND address = ?"
		args = append(args, f.Address)
	}
	if f.User != "" {
		query += " AND user = ?"
		args = append(args, f.User)
	}

	query += " ORDER BY timestamp DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var path, user, details sql.NullString

		err := rows.Scan(&evt.ID, &evt.RequestID, &evt.Timestamp, &evt.Address, &path,
			&evt.Behavior, &evt.Status, &evt.Strikes, &evt.Reason, &user, &details)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}

		evt.Path = path.String
		evt.User = user.String
		if details.Valid && details.String != "" {
			_ = json.Unmarshal([]byte(details.String), &evt.Details)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Prune removes events older than the retention period.
func (s *Store) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clk.Now().AddDate(0, 0, -s.retentionDays).UTC()
	result, err := s.db.Exec("DELETE FROM decisions WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune decisions: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the total number of events in the store.
func (s *Store) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM decisions").Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
