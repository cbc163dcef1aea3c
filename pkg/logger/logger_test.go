package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantLevel zapcore.Level
	}{
		{
			name:      "Development Config",
			config:    Config{Level: "debug", Environment: "development", ServiceName: "tunnel-bridge"},
			wantLevel: zapcore.DebugLevel,
		},
		{
			name:      "Production Config",
			config:    Config{Level: "warn", Environment: "production", ServiceName: "tunnel-bridge"},
			wantLevel: zapcore.WarnLevel,
		},
		{
			name:      "Invalid Level Defaults to Info",
			config:    Config{Level: "loud", Environment: "development", ServiceName: "tunnel-bridge"},
			wantLevel: zapcore.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			require.NoError(t, err)
			assert.True(t, l.zap.Core().Enabled(tt.wantLevel))
			assert.False(t, l.zap.Core().Enabled(tt.wantLevel-1))
		})
	}
}

func TestLoggerOutput(t *testing.T) {
	core, observed := observer.New(zap.InfoLevel)
	l := NewWithCore(core)

	l.Info("notification sent", zap.String("session_id", "abc"))
	require.Equal(t, 1, observed.Len())
	entry := observed.TakeAll()[0]
	assert.Equal(t, "notification sent", entry.Message)
	assert.Equal(t, "abc", entry.ContextMap()["session_id"])

	l.Error("callback failed", errors.New("connection refused"))
	entry = observed.TakeAll()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "connection refused", entry.ContextMap()["error"])

	l.Debug("suppressed")
	assert.Equal(t, 0, observed.Len())
}

func TestWithAndNamed(t *testing.T) {
	core, observed := observer.New(zap.InfoLevel)
	l := NewWithCore(core)

	child := l.Named("dispatcher").With(zap.String("table", "game_events"))
	child.Warn("record skipped")

	require.Equal(t, 1, observed.Len())
	entry := observed.All()[0]
	assert.Equal(t, "dispatcher", entry.LoggerName)
	assert.Equal(t, "game_events", entry.ContextMap()["table"])
}

func TestNop(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.Info("nothing")
		l.Error("nothing", errors.New("x"))
		_ = l.Sync()
	})
}
