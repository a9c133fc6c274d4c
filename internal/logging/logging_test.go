package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_AutoFormatIsJSONForNonTerminal(t *testing.T) {
	var buf bytes.Buffer

	logger, closer, err := New(Options{Level: "debug"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("hello", slog.String("k", "v"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "v", line["k"])
}

func TestNew_TextFormatAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer

	logger, _, err := New(Options{Level: "warn", Format: FormatText}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
}

func TestNew_RejectsBadOptions(t *testing.T) {
	_, _, err := New(Options{Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)

	_, _, err = New(Options{Level: "chatty"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestNew_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "lotasync.log")

	logger, closer, err := New(Options{File: path, Format: FormatJSON}, &bytes.Buffer{})
	require.NoError(t, err)

	logger.Info("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
}
