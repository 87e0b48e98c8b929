package logger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{" Error ", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestStdLogger_LevelFilterAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(&buf, LevelInfo)
	ctx := context.Background()

	l.Debug(ctx, "hidden")
	l.Info(ctx, "cycle done", map[string]interface{}{"signals": 2, "cycle": 7})
	l.Error(ctx, errors.New("boom"), "order failed", map[string]interface{}{"symbol": "SOLUSDT"})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO] cycle done | cycle=7 signals=2")
	assert.Contains(t, out, "[ERROR] order failed | error: boom | symbol=SOLUSDT")
}

func TestStdLogger_MergesFieldMaps(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(&buf, LevelDebug)
	l.Warn(context.Background(), "merged", map[string]interface{}{"a": 1, "b": 1}, map[string]interface{}{"b": 2})
	assert.Contains(t, buf.String(), "a=1 b=2")
}

func TestZapLogger_WritesStructuredFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLoggerFromCore(core)
	ctx := context.Background()

	l.Info(ctx, "position opened", map[string]interface{}{"symbol": "SOLUSDT", "confidence": 72.5})
	l.Error(ctx, errors.New("timeout"), "close failed")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "position opened", entries[0].Message)
	assert.Equal(t, "SOLUSDT", entries[0].ContextMap()["symbol"])
	assert.Equal(t, 72.5, entries[0].ContextMap()["confidence"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "timeout", entries[1].ContextMap()["error"])
}

func TestZapLogger_RotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	l := NewZapLogger(ZapConfig{Level: LevelWarn, File: path, MaxSizeMB: 1})

	l.Info(context.Background(), "dropped")
	l.Warn(context.Background(), "kept", map[string]interface{}{"halt": "SOFT"})
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"msg":"kept"`)
	assert.Contains(t, string(data), `"halt":"SOFT"`)
}
