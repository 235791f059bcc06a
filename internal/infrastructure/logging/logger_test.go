package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodingFormat(t *testing.T) {
	tests := []struct {
		cfg     Config
		want    string
		wantErr bool
	}{
		{cfg: Config{}, want: "json"},
		{cfg: Config{Development: true}, want: "console"},
		{cfg: Config{Format: "TEXT"}, want: "console"},
		{cfg: Config{Development: true, Format: "json"}, want: "json"},
		{cfg: Config{Format: "xml"}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := encodingFormat(tt.cfg)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Level: "verbose"})
	assert.Error(t, err)

	_, err = New(Config{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNewHonoursLevel(t *testing.T) {
	logger, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestJSONLinesCarryComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Config{Level: "info", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Named("terminal").Info("session started", zap.String("session_id", "sess_x"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := bytes.TrimSpace(data)

	var entry map[string]any
	require.NoError(t, sonic.Unmarshal(line, &entry))
	assert.Equal(t, "terminal", entry["component"])
	assert.Equal(t, "session started", entry["msg"])
	assert.Equal(t, "sess_x", entry["session_id"])
	assert.Equal(t, "info", entry["level"])
}

func TestNamedAndWith(t *testing.T) {
	logger := NewNop().Named("terminal").With(zap.String("session_id", "sess_x"))
	assert.NotNil(t, logger.Logger)
	logger.Info("no-op logger accepts writes")

	assert.NotNil(t, NewDefault().Logger)
}
