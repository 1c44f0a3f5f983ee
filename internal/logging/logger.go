// Package logging is the gateway's structured logger: slog with a
// syslog-style console format, an optional per-day log file and an
// in-memory ring buffer served on the admin /logs endpoint.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"grimm.is/knockgate/internal/clock"
)

// Level is a slog level.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Attribute keys promoted into the console header.
const (
	componentKey = "component"
	addressKey   = "addr"
)

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Logger is a slog.Logger whose level can change at runtime. Loggers
// derived with WithComponent or WithAddress share that level.
type Logger struct {
	*slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

// Config holds logger configuration.
type Config struct {
	Level     Level
	Output    io.Writer // defaults to os.Stderr
	JSON      bool
	AddSource bool

	// Dir, when set, additionally writes every line to a per-day file
	// named YYYY-MM-DD.log inside Dir.
	Dir   string
	Clock clock.Clock // drives file rotation
}

// New builds a logger. A log directory that cannot be created is
// reported on the returned logger and otherwise ignored.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	l := &Logger{level: new(slog.LevelVar)}
	l.level.Set(cfg.Level)

	var dirErr error
	if cfg.Dir != "" {
		if df, err := NewDailyFile(cfg.Dir, cfg.Clock); err != nil {
			dirErr = err
		} else {
			out = io.MultiWriter(out, df)
			l.closer = df
		}
	}

	opts := &slog.HandlerOptions{Level: l.level, AddSource: cfg.AddSource}
	if cfg.JSON {
		l.Logger = slog.New(slog.NewJSONHandler(out, opts))
	} else {
		l.Logger = slog.New(NewConsoleHandler(out, opts))
	}

	if dirErr != nil {
		l.Warn("file logging disabled", "dir", cfg.Dir, "error", dirErr)
	}
	return l
}

// Default returns the process logger, an info-level console logger
// until SetDefault is called.
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(Config{Level: LevelInfo})
	}
	return defaultLogger
}

// SetDefault replaces the process logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// WithComponent returns a component-scoped child of the process logger.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}

// SetLevel changes the level of l and every logger sharing its root.
func (l *Logger) SetLevel(level Level) {
	if l.level.Level() == level {
		return
	}
	l.level.Set(level)
	l.Info("log level changed", "level", level.String())
}

// Close releases the daily log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level, closer: l.closer}
}

// WithComponent tags every line with a component name. The console
// handler prints it ahead of the message.
func (l *Logger) WithComponent(name string) *Logger {
	return l.with(componentKey, name)
}

// WithAddress binds a client address, printed as a fixed-width column.
func (l *Logger) WithAddress(addr string) *Logger {
	return l.with(addressKey, addr)
}

// StdLogger adapts l for APIs such as http.Server.ErrorLog.
func (l *Logger) StdLogger(level Level) *log.Logger {
	return slog.NewLogLogger(l.Handler(), level)
}

// Audit writes a decision record at info level, flagged audit=true so
// it can be told apart from operational lines.
func (l *Logger) Audit(behavior, addr string, details map[string]any) {
	args := make([]any, 0, 6+2*len(details))
	args = append(args,
		"audit", true,
		"behavior", behavior,
		"at", clock.Now().UTC().Format(time.RFC3339),
	)
	for k, v := range details {
		args = append(args, k, v)
	}
	l.WithAddress(addr).Info("AUDIT", args...)
}
