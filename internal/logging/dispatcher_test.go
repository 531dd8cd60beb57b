package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestDispatcherLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	dl.Debug("dispatching", "command", "telemetry", "source", "sub-1")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "telemetry", entry["command"])

	buf.Reset()
	dl.Info("handled", "command", "nearby_request")
	entry = decodeEntry(t, &buf)
	assert.Equal(t, "INFO", entry["level"])

	buf.Reset()
	dl.Error("handler failed", "command", "stats_request", "error", "boom")
	entry = decodeEntry(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "boom", entry["error"])
}

func TestDispatcherLoggerNoKeyValues(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	dl.Debug("bare message")
	assert.Equal(t, "bare message", decodeEntry(t, &buf)["msg"])
}
