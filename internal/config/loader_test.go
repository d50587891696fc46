package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "http://127.0.0.1:9090", cfg.Controller.URL)
	assert.Equal(t, time.Second, cfg.Polling.ScreenOnInterval)
	assert.Equal(t, 10*time.Second, cfg.Polling.ScreenOffInterval)
	assert.Equal(t, 5*time.Second, cfg.Polling.GroupRefreshMin)
	assert.Equal(t, 100*time.Millisecond, cfg.Selection.SelectSettle)
	assert.Equal(t, 300*time.Millisecond, cfg.Selection.RestoreSettle)
	assert.Equal(t, 7890, cfg.HTTPProxy.MixedPort)
	assert.True(t, cfg.Controller.Retry.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
controller:
  url: http://10.0.0.2:9090
  secret: s3cret
polling:
  screen_on_interval: 2s
  screen_off_interval: 30s
selection:
  sort_order: title
`)
	t.Setenv("CLASHPILOT_HTTP_ADDR", "0.0.0.0:8000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:9090", cfg.Controller.URL)
	assert.Equal(t, "s3cret", cfg.Controller.Secret)
	assert.Equal(t, 2*time.Second, cfg.Polling.ScreenOnInterval)
	assert.Equal(t, 30*time.Second, cfg.Polling.ScreenOffInterval)
	assert.Equal(t, "title", cfg.Selection.SortOrder)
	assert.Equal(t, "0.0.0.0:8000", cfg.HTTP.Addr)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "polling:\n  screen_on_interval: 20s\n  screen_off_interval: 10s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "screen_off_interval")

	_, err = Load(writeConfig(t, "selection:\n  sort_order: random\n"))
	require.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
