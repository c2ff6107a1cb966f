package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{
		Format:         "json",
		Output:         &buf,
		ServiceName:    "imagery",
		ServiceVersion: "1.0.0",
	})

	logger.Info("image uploaded", ImageIDKey, 7)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "image uploaded", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "imagery", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Equal(t, float64(7), entry[ImageIDKey])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "text", Output: &buf})

	logger.Info("relay finished", "published", 3)

	assert.Contains(t, buf.String(), "msg=\"relay finished\"")
	assert.Contains(t, buf.String(), "published=3")
	assert.NotContains(t, buf.String(), "service=")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level   string
		enabled slog.Level
		skipped slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 1},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"WARN", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"", slog.LevelInfo, slog.LevelDebug},
		{"verbose", slog.LevelInfo, slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := NewLogger(LogConfig{Level: tt.level, Output: &bytes.Buffer{}})
			ctx := context.Background()
			assert.True(t, logger.Enabled(ctx, tt.enabled))
			assert.False(t, logger.Enabled(ctx, tt.skipped))
		})
	}
}

func TestNewLogger_ContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	ctx := WithCorrelationID(context.Background(), "corr-123")
	ctx = WithRequestID(ctx, "req-456")
	ctx = WithMessageType(ctx, "upload-image-command")

	logger.With("component", "bus").InfoContext(ctx, "handled", "n", 1)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "corr-123", entry[CorrelationIDKey])
	assert.Equal(t, "req-456", entry[RequestIDKey])
	assert.Equal(t, "upload-image-command", entry[MessageTypeKey])
	assert.Equal(t, "bus", entry["component"])
	assert.Equal(t, float64(1), entry["n"])
}

func TestNewLogger_NoContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	logger.InfoContext(context.Background(), "idle")

	entry := decodeLine(t, &buf)
	assert.NotContains(t, entry, CorrelationIDKey)
	assert.NotContains(t, entry, RequestIDKey)
	assert.NotContains(t, entry, MessageTypeKey)
}

func TestLogConfigFor(t *testing.T) {
	dev := LogConfigFor("development", "debug", "text", "1.2.3")
	assert.Equal(t, "debug", dev.Level)
	assert.Equal(t, "text", dev.Format)
	assert.Equal(t, "1.2.3", dev.ServiceVersion)
	assert.Equal(t, "imagery", dev.ServiceName)
	assert.False(t, dev.AddSource)
	assert.Equal(t, os.Stderr, dev.Output)

	prod := LogConfigFor("production", "", "text", "")
	assert.Equal(t, "json", prod.Format)
	assert.True(t, prod.AddSource)
	assert.Equal(t, "dev", prod.ServiceVersion)
	assert.Equal(t, os.Stdout, prod.Output)
}
