package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseLevel(tt.input), tt.input)
	}
}

func TestNew_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := New(&buf, "warn", "json")
	logger.Info("dropped")
	logger.Warn("kept", "module", "queue")

	var line map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "queue", line["module"])
}

func TestNew_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	New(&buf, "debug", "text").Debug("hello", "job_id", "wamid.1")

	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "job_id=wamid.1")
}
