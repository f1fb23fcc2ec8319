package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_defaults(t *testing.T) {
	cfg, err := Load("", true)
	require.NoError(t, err)

	assert.Equal(t, "https://api.notion.com/v1", cfg.Remote.BaseURL)
	assert.Equal(t, "Notion-Version", cfg.Remote.VersionHeader)
	assert.Equal(t, 350*time.Millisecond, cfg.Remote.RateInterval)
	assert.Equal(t, 100, cfg.Remote.PageSize)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.True(t, cfg.Sync.AutoEnabled)
	assert.NotEmpty(t, cfg.App.DataDir)
}

func TestLoad_missingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stashsync.yaml")
	content := `
app:
  data_dir: /tmp/stash
log:
  level: debug
remote:
  rate_interval: 500ms
  items:
    columns:
      title: Task
      content: Body
sync:
  auto_enabled: false
  interval: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path, false)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/stash", cfg.App.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 500*time.Millisecond, cfg.Remote.RateInterval)
	assert.Equal(t, "Task", cfg.Remote.Items.Columns["title"])
	assert.Equal(t, "Body", cfg.Remote.Items.Columns["content"])
	assert.False(t, cfg.Sync.AutoEnabled)
	assert.Equal(t, 10*time.Minute, cfg.Sync.Interval)
}

func TestLoad_env(t *testing.T) {
	t.Setenv("STASHSYNC_REMOTE_TOKEN", "secret-token")
	t.Setenv("STASHSYNC_LOG_LEVEL", "warn")

	cfg, err := Load("", true)
	require.NoError(t, err)

	assert.Equal(t, "secret-token", cfg.Remote.Token)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_malformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unterminated"), 0o600))

	_, err := Load(path, false)
	assert.Error(t, err)
}
