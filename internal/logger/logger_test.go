package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "initd.log")
	log, closer := New(Config{Path: path})
	log.Info("starting service", "service", "syslog")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "starting service")
	assert.Contains(t, string(data), "service=syslog")
	assert.NotContains(t, string(data), "\033[", "file sink carries no ANSI colors")
}

func TestNewConsoleOnly(t *testing.T) {
	log, closer := New(Config{})
	log.Info("console only")
	assert.NoError(t, closer())
}

func TestLevelFiltersFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "initd.log")
	log, closer := New(Config{Path: path, Level: "warn"})
	log.Info("dropped")
	log.Warn("kept")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestColorTextHandlerColorsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, nil))
	log.Error("boom")

	out := buf.String()
	assert.True(t, strings.Contains(out, "\033[31m"), "error lines are red: %q", out)
	assert.Contains(t, out, "boom")
}

func TestNewWriter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug")
	log.Debug("verbose")
	assert.Contains(t, buf.String(), "verbose")
}
