// Package logging installs tendwatch's structured logger: JSON records to
// both stderr and a daily-rotating file under <data_dir>/logs, matching the
// teacher's own log/slog convention rather than introducing a third-party
// logging library.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// dailyFile is an io.Writer that rolls over to logs/YYYY-MM-DD.jsonl at
// midnight, reopening lazily on the first write of a new day.
type dailyFile struct {
	mu      sync.Mutex
	dir     string
	day     string
	current *os.File
}

func newDailyFile(dir string) *dailyFile {
	return &dailyFile{dir: dir}
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	day := time.Now().UTC().Format("2006-01-02")
	if d.current == nil || day != d.day {
		if d.current != nil {
			d.current.Close()
		}
		path := filepath.Join(d.dir, day+".jsonl")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return 0, fmt.Errorf("logging: open %s: %w", path, err)
		}
		d.current = f
		d.day = day
	}
	return d.current.Write(p)
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil
	}
	return d.current.Close()
}

// parseLevel maps the config string to a slog.Level, defaulting to Info on
// an unrecognised value rather than failing startup over a typo.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Install builds the process-wide slog.Logger, wiring it as the default via
// slog.SetDefault, and returns a closer to flush the log file on shutdown.
func Install(logsDir, level string) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("logging: create logs dir: %w", err)
	}
	df := newDailyFile(logsDir)
	handler := slog.NewJSONHandler(io.MultiWriter(os.Stderr, df), &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, df, nil
}
