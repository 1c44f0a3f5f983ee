package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// addrColumn fits any dotted IPv4 address; longer IPv6 addresses push
// the message right.
const addrColumn = 15

var processName atomic.Value // string

func init() { processName.Store("knockgate") }

// SetPrefix sets the process name printed on every console line.
func SetPrefix(name string) {
	if name != "" {
		processName.Store(strings.ToLower(name))
	}
}

// ConsoleHandler writes one syslog-style line per record:
//
//	2026-03-10T12:00:00+03:00 knockgate[812]: [info] engine: 203.0.113.5     untrusted reason="bad path"
//
// The component and addr attributes move into the header. Every record
// is also copied into the application ring buffer.
type ConsoleHandler struct {
	level slog.Leveler
	out   io.Writer
	mu    *sync.Mutex
	attrs []slog.Attr
	ring  *RingBuffer
}

// NewConsoleHandler writes to out, filtered by opts.Level (info if nil).
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &ConsoleHandler{
		level: level,
		out:   out,
		mu:    &sync.Mutex{},
		ring:  GetAppLogBuffer(),
	}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	// Record attributes override pre-bound ones for the header fields.
	var component, addr string
	tail := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	collect := func(a slog.Attr) bool {
		switch a.Key {
		case componentKey:
			component = strings.ToLower(a.Value.String())
		case addressKey:
			addr = a.Value.String()
		default:
			tail = append(tail, a)
		}
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s[%d]: [%s] ", t.Format(time.RFC3339),
		processName.Load().(string), os.Getpid(), strings.ToLower(r.Level.String()))
	if component != "" {
		sb.WriteString(component)
		sb.WriteString(": ")
	}
	if addr != "" {
		fmt.Fprintf(&sb, "%-*s ", addrColumn, addr)
	}
	sb.WriteString(r.Message)

	extra := make(map[string]string, len(tail)+1)
	for _, a := range tail {
		val := a.Value.String()
		sb.WriteByte(' ')
		sb.WriteString(a.Key)
		sb.WriteByte('=')
		if strings.ContainsAny(val, " \t\n\"") {
			val = fmt.Sprintf("%q", val)
		}
		sb.WriteString(val)
		extra[a.Key] = a.Value.String()
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	_, err := io.WriteString(h.out, sb.String())
	h.mu.Unlock()

	if addr != "" {
		extra[addressKey] = addr
	}
	source := component
	if source == "" {
		source = "system"
	}
	h.ring.Add(AppLogEntry{
		Timestamp: t,
		Level:     LevelFromSlog(r.Level),
		Source:    source,
		Message:   r.Message,
		Extra:     extra,
	})
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append(make([]slog.Attr, 0, len(h.attrs)+len(attrs)), h.attrs...), attrs...)
	return &c
}

// WithGroup returns h unchanged; console output is flat.
func (h *ConsoleHandler) WithGroup(string) slog.Handler {
	return h
}
