package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/phrazzld/questgen/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLevels(t *testing.T) {
	tests := []struct {
		level      string
		debugShown bool
		infoShown  bool
	}{
		{"debug", true, true},
		{"INFO", false, true},
		{"warn", false, false},
		{"bogus", false, true},
	}

	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := setup(&buf, config.ServerConfig{LogLevel: tc.level, LogFormat: "json"})

			l.Debug("debug message")
			l.Info("info message")

			out := buf.String()
			assert.Equal(t, tc.debugShown, strings.Contains(out, "debug message"))
			assert.Equal(t, tc.infoShown, strings.Contains(out, "info message"))
		})
	}
}

func TestSetupJSONAndContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := setup(&buf, config.ServerConfig{LogLevel: "info", LogFormat: "json"})

	ctx := WithAttrs(context.Background(), slog.String("trace_id", "abc123"))
	ctx = WithAttrs(ctx, slog.String("plan_id", "p-1"))
	l.InfoContext(ctx, "job started", "component", "worker")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "job started", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "abc123", entry["trace_id"])
	assert.Equal(t, "p-1", entry["plan_id"])
	assert.Equal(t, "worker", entry["component"])
}

func TestSetupTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := setup(&buf, config.ServerConfig{LogLevel: "info", LogFormat: "text"})
	l.Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")
}

func TestFromContext(t *testing.T) {
	def := slog.New(slog.NewTextHandler(io.Discard, nil))
	custom := slog.New(slog.NewTextHandler(io.Discard, nil))

	assert.Same(t, def, FromContextOrDefault(context.Background(), def))
	assert.Same(t, custom, FromContextOrDefault(WithContext(context.Background(), custom), def))
	assert.Same(t, custom, FromContext(WithContext(context.Background(), custom)))
	assert.NotNil(t, FromContext(context.Background()))
}
