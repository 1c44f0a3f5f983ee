package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"grimm.is/knockgate/internal/clock"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf, JSON: true})

	t.Run("Levels", func(t *testing.T) {
		for _, log := range []func(string, ...any){logger.Debug, logger.Info, logger.Warn, logger.Error} {
			buf.Reset()
			log("hello")
			if !strings.Contains(buf.String(), `"msg":"hello"`) {
				t.Errorf("line not written: %q", buf.String())
			}
		}
	})

	t.Run("SetLevelIsShared", func(t *testing.T) {
		child := logger.WithComponent("engine")
		child.SetLevel(LevelError)
		defer logger.SetLevel(LevelDebug)

		buf.Reset()
		logger.Info("should not appear")
		if buf.Len() > 0 {
			t.Errorf("root logger ignored level set on child: %q", buf.String())
		}
	})

	t.Run("Audit", func(t *testing.T) {
		buf.Reset()
		logger.Audit("bad_path", "198.51.100.4", map[string]any{"status": "untrusted"})

		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("audit line is not JSON: %v", err)
		}
		if line["msg"] != "AUDIT" || line["audit"] != true {
			t.Errorf("audit marker missing: %v", line)
		}
		if line["addr"] != "198.51.100.4" || line["behavior"] != "bad_path" || line["status"] != "untrusted" {
			t.Errorf("audit fields missing: %v", line)
		}
	})
}

func TestDefaultLogger(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default logger is nil")
	}

	prev := Default()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(New(Config{Level: LevelInfo, Output: &buf}))
	WithComponent("coordinator").Info("reloaded")

	if !strings.Contains(buf.String(), "coordinator: reloaded") {
		t.Errorf("component logger did not write through default: %q", buf.String())
	}
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(5)

	t.Run("AddAndRecent", func(t *testing.T) {
		rb.Clear()
		rb.Add(AppLogEntry{Message: "msg1", Source: "src1"})

		if rb.Len() != 1 {
			t.Errorf("Len expected 1, got %d", rb.Len())
		}
		all := rb.Recent(LogFilter{})
		if len(all) != 1 || all[0].Message != "msg1" {
			t.Errorf("Recent returned %v", all)
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		rb.Clear()
		for i := 1; i <= 7; i++ {
			rb.Add(AppLogEntry{Message: strconv.Itoa(i), Level: "info"})
		}
		if rb.Len() != 5 {
			t.Errorf("Len should be capped at 5, got %d", rb.Len())
		}
		got := rb.Recent(LogFilter{})
		if got[0].Message != "3" || got[4].Message != "7" {
			t.Errorf("oldest entries not evicted: %v", got)
		}
	})

	t.Run("LimitKeepsNewest", func(t *testing.T) {
		rb.Clear()
		rb.Add(AppLogEntry{Message: "1"})
		rb.Add(AppLogEntry{Message: "2"})
		rb.Add(AppLogEntry{Message: "3"})

		last2 := rb.Recent(LogFilter{Limit: 2})
		if len(last2) != 2 || last2[0].Message != "2" || last2[1].Message != "3" {
			t.Errorf("Recent(limit 2) = %v", last2)
		}
		if got := rb.Recent(LogFilter{Limit: 10}); len(got) != 3 {
			t.Errorf("limit above count should return all, got %d", len(got))
		}
	})

	t.Run("Filters", func(t *testing.T) {
		rb.Clear()
		rb.Add(AppLogEntry{Source: "engine", Level: "debug", Message: "1", Extra: map[string]string{"addr": "203.0.113.5"}})
		rb.Add(AppLogEntry{Source: "device", Level: "warn", Message: "2"})
		rb.Add(AppLogEntry{Source: "engine", Level: "info", Message: "3", Extra: map[string]string{"addr": "198.51.100.7"}})
		rb.Add(AppLogEntry{Source: "engine", Level: "error", Message: "4", Extra: map[string]string{"addr": "203.0.113.5"}})

		tests := []struct {
			name   string
			filter LogFilter
			want   []string
		}{
			{"source", LogFilter{Source: "engine"}, []string{"1", "3", "4"}},
			{"source newest", LogFilter{Source: "engine", Limit: 1}, []string{"4"}},
			{"min level", LogFilter{MinLevel: "warn"}, []string{"2", "4"}},
			{"address", LogFilter{Address: "203.0.113.5"}, []string{"1", "4"}},
			{"combined", LogFilter{Source: "engine", MinLevel: "info", Address: "203.0.113.5"}, []string{"4"}},
			{"no match", LogFilter{Source: "http"}, []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got := rb.Recent(tt.filter)
				msgs := make([]string, len(got))
				for i, e := range got {
					msgs[i] = e.Message
				}
				if strings.Join(msgs, ",") != strings.Join(tt.want, ",") {
					t.Errorf("Recent(%+v) = %v, want %v", tt.filter, msgs, tt.want)
				}
			})
		}
	})

	t.Run("ZeroSize", func(t *testing.T) {
		small := NewRingBuffer(0)
		small.Add(AppLogEntry{Message: "a"})
		small.Add(AppLogEntry{Message: "b"})
		if got := small.Recent(LogFilter{}); len(got) != 1 || got[0].Message != "b" {
			t.Errorf("zero-size buffer should hold the latest entry, got %v", got)
		}
	})
}

func TestValidLevelName(t *testing.T) {
	for _, name := range []string{"debug", "info", "warn", "error"} {
		if !ValidLevelName(name) {
			t.Errorf("%q should be valid", name)
		}
	}
	if ValidLevelName("verbose") {
		t.Error("unknown level accepted")
	}
}

func TestConsoleHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf})

	t.Run("HeaderColumns", func(t *testing.T) {
		buf.Reset()
		logger.WithComponent("Engine").WithAddress("10.0.0.1").Info("bad behavior", "reason", "wrong path")
		line := buf.String()
		if !strings.Contains(line, "knockgate[") {
			t.Errorf("missing process prefix: %q", line)
		}
		if !strings.Contains(line, "[info] engine: 10.0.0.1        bad behavior") {
			t.Errorf("component and padded address not promoted: %q", line)
		}
		if !strings.Contains(line, `reason="wrong path"`) {
			t.Errorf("quoted attribute missing: %q", line)
		}
		if strings.Contains(line, "addr=") || strings.Contains(line, "component=") {
			t.Errorf("promoted attributes repeated in tail: %q", line)
		}
	})

	t.Run("SiblingsDoNotShareAttrs", func(t *testing.T) {
		base := logger.WithComponent("http")
		a := base.WithAddress("192.0.2.1").With("one", 1)
		b := base.WithAddress("192.0.2.2").With("two", 2)

		buf.Reset()
		a.Info("a")
		b.Info("b")
		out := buf.String()
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if len(lines) != 2 {
			t.Fatalf("expected 2 lines, got %d: %q", len(lines), out)
		}
		if strings.Contains(lines[1], "one=") {
			t.Errorf("attrs leaked between derived loggers: %q", lines[1])
		}
	})

	t.Run("RingBufferCopy", func(t *testing.T) {
		GetAppLogBuffer().Clear()
		logger.WithComponent("device").WithAddress("192.0.2.9").Warn("push failed", "list", "KNOCKING_BLACK")

		entries := GetAppLogBuffer().Recent(LogFilter{Source: "device"})
		if len(entries) != 1 {
			t.Fatalf("expected 1 device entry, got %d", len(entries))
		}
		e := entries[0]
		if e.Level != "warn" || e.Message != "push failed" {
			t.Errorf("unexpected entry: %+v", e)
		}
		if e.Extra["addr"] != "192.0.2.9" || e.Extra["list"] != "KNOCKING_BLACK" {
			t.Errorf("extra fields missing: %+v", e.Extra)
		}
	})

	t.Run("LevelFilter", func(t *testing.T) {
		quiet := New(Config{Level: LevelWarn, Output: &buf})
		buf.Reset()
		quiet.Info("hidden")
		if buf.Len() != 0 {
			t.Errorf("info written below warn level: %q", buf.String())
		}
	})
}

func TestDailyFile(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewMockClock(time.Date(2025, 4, 30, 23, 59, 0, 0, time.UTC))

	df, err := NewDailyFile(dir, clk)
	if err != nil {
		t.Fatalf("NewDailyFile: %v", err)
	}
	defer df.Close()

	if _, err := df.Write([]byte("first\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	clk.Advance(2 * time.Minute)
	if _, err := df.Write([]byte("second\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	day1, err := os.ReadFile(filepath.Join(dir, "2025-04-30.log"))
	if err != nil {
		t.Fatalf("read first day: %v", err)
	}
	if string(day1) != "first\n" {
		t.Errorf("first day content = %q", day1)
	}
	day2, err := os.ReadFile(filepath.Join(dir, "2025-05-01.log"))
	if err != nil {
		t.Fatalf("read second day: %v", err)
	}
	if string(day2) != "second\n" {
		t.Errorf("second day content = %q", day2)
	}
	if df.Path() != filepath.Join(dir, "2025-05-01.log") {
		t.Errorf("Path() = %s", df.Path())
	}
}

func TestLoggerWithDir(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	clk := clock.NewMockClock(time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC))
	l := New(Config{Level: LevelInfo, Output: &buf, Dir: dir, Clock: clk})
	defer l.Close()

	l.Info("to both")

	data, err := os.ReadFile(filepath.Join(dir, "2025-01-02.log"))
	if err != nil {
		t.Fatalf("daily file not written: %v", err)
	}
	if !strings.Contains(string(data), "to both") || !strings.Contains(buf.String(), "to both") {
		t.Error("line not written to both console and file")
	}
}

func TestJSONLogParsing(t *testing.T) {
	// Verify that our JSON structure is correct
	var buf bytes.Buffer
	cfg := Config{Level: LevelInfo, Output: &buf, JSON: true}
	l := New(cfg)

	l.Info("json test", "key", "value")

	var data map[string]any
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}

	if data["msg"] != "json test" {
		t.Error("JSON msg field incorrect")
	}
	if data["key"] != "value" {
		t.Error("JSON extra field incorrect")
	}
	if data["level"] != "INFO" {
		t.Error("JSON level incorrect")
	}
}
