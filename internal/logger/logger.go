package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for the init log.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes the supervisor's own log output: a colorized console
// stream plus an optional rotated file (lumberjack semantics).
type Config struct {
	Path       string `toml:"path" mapstructure:"path"` // file path; empty disables the file sink
	Level      string `toml:"level" mapstructure:"level"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// New builds the supervisor logger. The returned closer flushes the file
// sink; it is safe to call with no file configured.
func New(cfg Config) (*slog.Logger, func() error) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	handlers := []slog.Handler{NewColorTextHandler(os.Stdout, opts)}
	closer := func() error { return nil }
	if cfg.Path != "" {
		file := &lj.Logger{
			Filename:   cfg.Path,
			MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   cfg.Compress,
		}
		handlers = append(handlers, slog.NewTextHandler(file, opts))
		closer = file.Close
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0]), closer
	}
	return slog.New(newFanoutHandler(handlers...)), closer
}

// NewWriter builds a plain text logger writing only to w; used in tests.
func NewWriter(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
