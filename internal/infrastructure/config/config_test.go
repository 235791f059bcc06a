package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	assert.Equal(t, 120*time.Second, cfg.Executor.DefaultTimeout)
	assert.Equal(t, 10<<20, cfg.Executor.MaxOutputBytes)
	assert.Equal(t, 2*time.Second, cfg.Executor.KillGrace)

	assert.Equal(t, 20<<20, cfg.Terminal.TranscriptCap)
	assert.Equal(t, 10*time.Minute, cfg.Terminal.IdleTimeout)
	assert.Equal(t, 256, cfg.Terminal.SinkQueue)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 256, cfg.Store.MemorySessions)
	assert.Empty(t, cfg.Events.NATSURL)

	require.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                    "9000",
		"HOST":                    "127.0.0.1",
		"LOG_LEVEL":               "debug",
		"LOG_DEV":                 "true",
		"RATE_LIMIT_RPS":          "500",
		"RATE_LIMIT_BURST":        "1000",
		"RATE_LIMIT_ENABLED":      "false",
		"NOCODO_PROJECT_ROOT":     "/srv/project",
		"NOCODO_ALLOWED_DIRS":     "/srv/project,/tmp",
		"BASH_DEFAULT_TIMEOUT":    "30s",
		"BASH_MAX_OUTPUT":         "1024",
		"KILL_GRACE":              "500ms",
		"TERMINAL_TRANSCRIPT_CAP": "4096",
		"TERMINAL_IDLE_TIMEOUT":   "1m",
		"STORE_DRIVER":            "sqlite",
		"STORE_DSN":               "file:nocodo.db",
		"NATS_URL":                "nats://localhost:4222",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "/srv/project", cfg.Workspace.ProjectRoot)
	assert.Equal(t, []string{"/srv/project", "/tmp"}, cfg.Workspace.AllowedDirs)
	assert.Equal(t, 30*time.Second, cfg.Executor.DefaultTimeout)
	assert.Equal(t, 1024, cfg.Executor.MaxOutputBytes)
	assert.Equal(t, 500*time.Millisecond, cfg.Executor.KillGrace)
	assert.Equal(t, 4096, cfg.Terminal.TranscriptCap)
	assert.Equal(t, time.Minute, cfg.Terminal.IdleTimeout)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:nocodo.db", cfg.Store.DSN)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.NATSURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unparseable duration", "TERMINAL_IDLE_TIMEOUT", "soon"},
		{"zero transcript cap", "TERMINAL_TRANSCRIPT_CAP", "0"},
		{"negative grace", "KILL_GRACE", "-1s"},
		{"max below default", "BASH_MAX_TIMEOUT", "1s"},
		{"unknown store driver", "STORE_DRIVER", "mongo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)

			// LoadOrDefault falls back instead of failing
			assert.Equal(t, Default(), LoadOrDefault())
		})
	}
}
