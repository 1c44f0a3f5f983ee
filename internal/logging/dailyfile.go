package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"grimm.is/knockgate/internal/clock"
)

// DailyFileLayout names log files by calendar day.
const DailyFileLayout = "2006-01-02"

// DailyFile is an io.Writer that appends to <dir>/<YYYY-MM-DD>.log and
// switches files when the date changes.
type DailyFile struct {
	dir  string
	clk  clock.Clock
	mu   sync.Mutex
	day  string
	file *os.File
}

// NewDailyFile creates dir if needed and returns a writer for it.
func NewDailyFile(dir string, clk clock.Clock) (*DailyFile, error) {
	if clk == nil {
		clk = clock.Real
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &DailyFile{dir: dir, clk: clk}, nil
}

// Path returns the file name used for the current day.
func (d *DailyFile) Path() string {
	return filepath.Join(d.dir, d.clk.Now().Format(DailyFileLayout)+".log")
}

// Write appends p to the current day's file.
func (d *DailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	day := d.clk.Now().Format(DailyFileLayout)
	if d.file == nil || day != d.day {
		if d.file != nil {
			_ = d.file.Close()
			d.file = nil
		}
		f, err := os.OpenFile(filepath.Join(d.dir, day+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return 0, err
		}
		d.file = f
		d.day = day
	}
	return d.file.Write(p)
}

// Close closes the open file. A later Write reopens it.
func (d *DailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
