// Package logger configures the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const defaultMaxFiles = 10

type Config struct {
	DataDir string
	DevMode bool
	// LogFile also writes logs to a timestamped file under DataDir/logs.
	LogFile  bool
	MaxFiles int
}

// Init installs the default logger. Dev mode logs human-readable text at
// debug level; otherwise JSON at info level. The returned closer releases
// the log file, if any.
func Init(cfg Config) (io.Closer, error) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if cfg.LogFile {
		maxFiles := cfg.MaxFiles
		if maxFiles <= 0 {
			maxFiles = defaultMaxFiles
		}
		f, err := SetupLogFile(filepath.Join(cfg.DataDir, "logs"), maxFiles)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	slog.SetDefault(New(out, cfg.DevMode))
	return closer, nil
}

// New returns a logger writing to w in the format Init would pick.
func New(w io.Writer, devMode bool) *slog.Logger {
	if devMode {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// SetupLogFile creates a new timestamped log file and removes the oldest ones
// beyond maxFiles. The caller must close the file.
func SetupLogFile(dir string, maxFiles int) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	name := filepath.Join(dir, fmt.Sprintf("server-%s.log", time.Now().Format("2006-01-02T15-04-05.000")))
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}

	if err := cleanupOldLogs(dir, maxFiles); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to clean up old logs: %v\n", err)
	}
	return f, nil
}

// cleanupOldLogs keeps the maxFiles newest logs. Names sort chronologically.
func cleanupOldLogs(dir string, maxFiles int) error {
	names, err := filepath.Glob(filepath.Join(dir, "server-*.log"))
	if err != nil {
		return err
	}
	if len(names) <= maxFiles {
		return nil
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-maxFiles] {
		if err := os.Remove(name); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
