package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls where and how much is logged.
type Config struct {
	// Level is debug, info, warn or error.
	Level string
	// FilePath is the log file. Empty logs to stderr only.
	FilePath string
	// MaxSizeMB triggers rotation (default 10).
	MaxSizeMB int
	// MaxFiles is the number of rotated files kept (default 5).
	MaxFiles      int
	WriteToStderr bool
}

// DefaultConfig logs info and above to the default file and stderr.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// Setup builds a JSON logger for cfg. The returned cleanup flushes and
// closes the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 5
	}

	var writers []io.Writer
	cleanup := func() {}
	if cfg.FilePath != "" {
		w, err := NewRotatingWriter(cfg.FilePath, int64(cfg.MaxSizeMB)<<20, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, w)
		cleanup = func() {
			_ = w.Sync()
			_ = w.Close()
		}
	}
	if cfg.WriteToStderr || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	handler := slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})
	return slog.New(handler), cleanup, nil
}

// SetupServeMode installs a file-only default logger for the MCP server.
func SetupServeMode(level string) (*slog.Logger, func(), error) {
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.WriteToStderr = false
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	logger.Info("serve_logging_initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", strings.ToLower(level)))
	return logger, cleanup, nil
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
