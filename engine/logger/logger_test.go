package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, env := range []string{"", "development", "production"} {
		l, err := New(Config{Environment: env, LogLevel: "warn", ServiceName: "oxy-particles", RunID: "run"})
		require.NoError(t, err, env)
		assert.True(t, l.Core().Enabled(zapcore.WarnLevel), env)
		assert.False(t, l.Core().Enabled(zapcore.InfoLevel), env)
	}

	_, err := New(Config{LogLevel: "verbose"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNop(t *testing.T) {
	assert.False(t, Nop().Core().Enabled(zapcore.ErrorLevel))
}
