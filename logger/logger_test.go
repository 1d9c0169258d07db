package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/agentbox/config"
)

func TestLoggerNew(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		level   string
		wantErr string
	}{
		{name: "Development", mode: "development", level: "debug"},
		{name: "Production", mode: "production", level: "info"},
		{name: "ProductionWarn", mode: "production", level: "warn"},
		{name: "ProductionFatal", mode: "production", level: "fatal"},
		{name: "InvalidMode", mode: "verbose", level: "info", wantErr: "invalid logging mode"},
		{name: "InvalidLevel", mode: "production", level: "loud", wantErr: "invalid logging level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.mode, tt.level)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)

			want, err := zapcore.ParseLevel(tt.level)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(want))
			if want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(want-1))
			}
			_ = logger.Sync()
		})
	}
}

func TestLoggerNewFromConfig(t *testing.T) {
	t.Run("StdioTransport", func(t *testing.T) {
		cfg := &config.Config{
			Server:  config.ServerConfig{Transport: "stdio"},
			Logging: config.LoggingConfig{Mode: "development", Level: "debug"},
		}
		logger, err := NewFromConfig(cfg)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("HTTPTransport", func(t *testing.T) {
		cfg := &config.Config{
			Server:  config.ServerConfig{Transport: "http"},
			Logging: config.LoggingConfig{Mode: "production", Level: "error"},
		}
		logger, err := NewFromConfig(cfg)
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		cfg := &config.Config{
			Logging: config.LoggingConfig{Mode: "invalid_mode", Level: "info"},
		}
		_, err := NewFromConfig(cfg)
		assert.Error(t, err)
	})
}

func TestLoggerOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentbox.log")

	logger, err := New("production", "info",
		WithOutputPaths(path),
		WithInitialFields(map[string]any{"service": "agentbox"}),
	)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("execution submitted")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"execution submitted"`)
	assert.Contains(t, string(data), `"service":"agentbox"`)
	assert.Contains(t, string(data), `"timestamp"`)
	assert.NotContains(t, string(data), "hidden")
}
