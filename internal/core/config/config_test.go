package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, DefaultSyncInterval, cfg.SyncInterval)
	assert.Contains(t, cfg.TokenPath, filepath.Join(".config", "parley"))
	assert.Contains(t, cfg.DBPath, "parley.db")
	assert.False(t, cfg.Debug)
}

func TestLoadFromFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "parley")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
server_url = "https://chat.example.com"
sync_interval_seconds = 5
hot_message_cap = 100
chunk_size = 25
debug = true
`), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.ServerURL)
	assert.Equal(t, 5*time.Second, cfg.SyncInterval)
	assert.Equal(t, 100, cfg.HotCap)
	assert.Equal(t, 25, cfg.ChunkSize)
	assert.True(t, cfg.Debug)
}
