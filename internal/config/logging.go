package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger creates a dual-output logger: text to stderr, JSON to
// LOG_DIR/<name>.log. It returns the file path ("" when the file could not
// be opened) and a cleanup function that closes the file.
func SetupLogger(cfg Config, name string) (*slog.Logger, string, func() error) {
	level := cfg.SlogLevel()
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	path := filepath.Join(cfg.LogDir, logFileName(name))
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		slog.Error("failed to create log dir, using stderr only", "err", err, "dir", cfg.LogDir)
		return slog.New(stderrHandler), "", func() error { return nil }
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Error("failed to open log file, using stderr only", "err", err, "file", path)
		return slog.New(stderrHandler), "", func() error { return nil }
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler)), path, file.Close
}

// SetupLoggerWithWriters creates a logger with custom writers (for testing).
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler))
}

// logFileName keeps one log per source environment.
func logFileName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "feedload"
	}
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, name)
	return name + ".log"
}
