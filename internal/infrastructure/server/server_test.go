package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocodo/nocodo/backend/internal/infrastructure/config"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/events"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace.ProjectRoot = t.TempDir()
	cfg.Store.Driver = "memory"
	cfg.RateLimit.Enabled = false
	cfg.Server.ShutdownTimeout = 5 * time.Second
	return cfg
}

func TestNewServesRoutes(t *testing.T) {
	srv, err := New(context.Background(), testConfig(t), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/ws/sessions/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNewLoadsPolicyAndTools(t *testing.T) {
	dir := t.TempDir()
	policyFile := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(policyFile, []byte(strings.Join([]string{
		"rules:",
		"  - pattern: \"echo *\"",
		"    effect: allow",
	}, "\n")), 0o600))
	toolsFile := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(toolsFile, []byte(strings.Join([]string{
		"tools:",
		"  - name: shell",
		"    command: bash",
		"    requires_pty: true",
	}, "\n")), 0o600))

	cfg := testConfig(t)
	cfg.Workspace.PolicyFile = policyFile
	cfg.Workspace.ToolsFile = toolsFile

	srv, err := New(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	assert.Equal(t, []string{"shell"}, srv.tools.Names())
	assert.True(t, srv.policy.Decide("echo hi").Allowed())
	assert.False(t, srv.policy.Decide("ls").Allowed())
}

func TestNewFailsOnBadStartupFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workspace.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(context.Background(), cfg, logging.NewNop())
	assert.ErrorContains(t, err, "permission policy")

	cfg = testConfig(t)
	cfg.Workspace.ToolsFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = New(context.Background(), cfg, logging.NewNop())
	assert.ErrorContains(t, err, "tool registry")

	cfg = testConfig(t)
	cfg.Workspace.ProjectRoot = filepath.Join(t.TempDir(), "missing")
	_, err = New(context.Background(), cfg, logging.NewNop())
	assert.ErrorContains(t, err, "project root")
}

func TestUnreachableNATSFallsBackToNop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events.NATSURL = "nats://127.0.0.1:1"
	cfg.Events.MaxReconnects = 0

	srv, err := New(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	assert.Equal(t, events.Nop{}, srv.publisher)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"

	srv, err := New(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
