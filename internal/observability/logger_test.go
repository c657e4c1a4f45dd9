package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"framesync/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{
		Level:  "info",
		Format: "json",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, `"key":"value"`)

	var parsed map[string]any
	err := json.Unmarshal([]byte(output), &parsed)
	require.NoError(t, err)
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{
		Level:  "info",
		Format: "text",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name        string
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"debug logs at debug level", "debug", slog.LevelDebug, true},
		{"debug logs at info level", "debug", slog.LevelInfo, true},
		{"info does not log debug", "info", slog.LevelDebug, false},
		{"info logs at info level", "info", slog.LevelInfo, true},
		{"warn does not log info", "warn", slog.LevelInfo, false},
		{"warn logs at warn level", "warn", slog.LevelWarn, true},
		{"error does not log warn", "error", slog.LevelWarn, false},
		{"error logs at error level", "error", slog.LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := config.LoggingConfig{
				Level:  tt.configLevel,
				Format: "json",
			}

			logger := NewLoggerWithWriter(cfg, &buf)
			logger.Log(context.Background(), tt.logLevel, "test")

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestSignalingFieldRedaction(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewLoggerWithWriter(cfg, &buf)

	logger.Info("received offer",
		slog.String("sdp", "v=0\r\no=- 12345 IN IP4 203.0.113.7\r\n"),
		slog.String("candidate", "candidate:1 1 UDP 2130706431 203.0.113.7 54321 typ host"),
	)

	output := buf.String()
	assert.NotContains(t, output, "203.0.113.7")
	assert.Contains(t, output, "received offer")
}

func TestGlobalLogLevel(t *testing.T) {
	SetLogLevel("warn")
	assert.Equal(t, "warn", GetLogLevel())

	SetLogLevel("debug")
	assert.Equal(t, "debug", GetLogLevel())
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewLoggerWithWriter(cfg, &buf)

	logger = WithComponent(logger, "render")
	logger.Info("tick")

	assert.Contains(t, buf.String(), `"component":"render"`)
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewLoggerWithWriter(cfg, &buf)

	logger = WithError(logger, errors.New("boom"))
	logger.Error("decode failed")

	assert.Contains(t, buf.String(), `"error":"boom"`)

	// A nil error must not attach an "error" attribute.
	buf.Reset()
	logger2 := NewLoggerWithWriter(cfg, &buf)
	logger2 = WithError(logger2, nil)
	logger2.Info("fine")
	assert.NotContains(t, buf.String(), `"error"`)
}

func TestSessionIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", SessionIDFromContext(ctx))

	ctx = ContextWithSessionID(ctx, "01HXYZSESSION")
	assert.Equal(t, "01HXYZSESSION", SessionIDFromContext(ctx))
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger := NewLoggerWithWriter(cfg, &buf)

	done := TimedOperation(context.Background(), logger, "ffmpeg_decode_start")
	done()

	output := buf.String()
	assert.True(t, strings.Contains(output, "operation started") && strings.Contains(output, "operation completed"))
	assert.Contains(t, output, `"operation":"ffmpeg_decode_start"`)
}
