package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWith_AddsAttributesToEveryRecord(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf, Service: "class-booking"})

	log.With("request_id", "req-1").Info("first")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "first", line["msg"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "class-booking", line["service"])

	buf.Reset()
	log.Info("second")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.NotContains(t, buf.String(), "req-1", "parent logger must not inherit attributes")
}

func TestNew_LevelAndFormat(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		enabled slog.Level
		blocked slog.Level
	}{
		{"default is info", Config{}, slog.LevelInfo, slog.LevelDebug},
		{"debug", Config{Level: "DEBUG"}, slog.LevelDebug, slog.LevelDebug - 4},
		{"error", Config{Level: "error", Format: FormatText}, slog.LevelError, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.cfg.Output = &buf
			log := New(tt.cfg)

			assert.True(t, log.Enabled(t.Context(), tt.enabled))
			assert.False(t, log.Enabled(t.Context(), tt.blocked))
		})
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Output: &buf, Format: "text"}).Info("hello", "k", "v")

	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")
}
