package logging

import (
	"log/slog"
	"sync"
	"time"
)

// AppLogEntry is one log line kept in memory for the admin listener.
type AppLogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`  // "debug", "info", "warn", "error"
	Source    string            `json:"source"` // component: "engine", "device", "http", ...
	Message   string            `json:"message"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// LogFilter selects entries from a RingBuffer. Zero fields match
// everything.
type LogFilter struct {
	Source string
	// MinLevel drops entries below this level name.
	MinLevel string
	// Address matches the client address attached with WithAddress.
	Address string
	// Limit keeps only the newest matches; 0 keeps all.
	Limit int
}

func (f LogFilter) match(e *AppLogEntry) bool {
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.MinLevel != "" && levelRank(e.Level) < levelRank(f.MinLevel) {
		return false
	}
	if f.Address != "" && e.Extra[addressKey] != f.Address {
		return false
	}
	return true
}

// RingBuffer keeps the most recent entries. Safe for concurrent use.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []AppLogEntry
	next    int
	full    bool
}

// NewRingBuffer creates a buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{entries: make([]AppLogEntry, size)}
}

// Add stores an entry, evicting the oldest when full.
func (rb *RingBuffer) Add(entry AppLogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.next] = entry
	rb.next++
	if rb.next == len(rb.entries) {
		rb.next = 0
		rb.full = true
	}
}

// Len returns the number of stored entries.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

func (rb *RingBuffer) len() int {
	if rb.full {
		return len(rb.entries)
	}
	return rb.next
}

// Recent returns matching entries, oldest first. With a Limit only the
// newest Limit matches are returned.
func (rb *RingBuffer) Recent(f LogFilter) []AppLogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := rb.len()
	out := []AppLogEntry{}
	// Walk backwards from the newest entry so Limit stops early.
	for i := 1; i <= n; i++ {
		e := &rb.entries[(rb.next-i+len(rb.entries))%len(rb.entries)]
		if !f.match(e) {
			continue
		}
		out = append(out, *e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Clear removes all entries.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	clear(rb.entries)
	rb.next = 0
	rb.full = false
}

var (
	appLogBuffer *RingBuffer
	bufferOnce   sync.Once
)

// AppLogSize is the capacity of the shared application buffer.
const AppLogSize = 5000

// GetAppLogBuffer returns the buffer every ConsoleHandler feeds.
func GetAppLogBuffer() *RingBuffer {
	bufferOnce.Do(func() {
		appLogBuffer = NewRingBuffer(AppLogSize)
	})
	return appLogBuffer
}

// LevelFromSlog converts slog.Level to its entry name.
func LevelFromSlog(level slog.Level) string {
	switch {
	case level <= slog.LevelDebug:
		return "debug"
	case level <= slog.LevelInfo:
		return "info"
	case level <= slog.LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// ValidLevelName reports whether name is a level name used in entries.
func ValidLevelName(name string) bool {
	return levelRank(name) >= 0
}

func levelRank(name string) int {
	switch name {
	case "debug":
		return 0
	case "info":
		return 1
	case "warn":
		return 2
	case "error":
		return 3
	default:
		return -1
	}
}
