package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultServerURL    = "http://localhost:8787"
	DefaultSyncInterval = 30 * time.Second
)

type Config struct {
	ServerURL    string
	TokenPath    string // Bearer token file written by the login tool
	DBPath       string // SQLite cold store and snapshot
	SyncInterval time.Duration
	HotCap       int // Messages kept in memory per session (0 = default)
	ChunkSize    int // Messages per cold-store chunk (0 = default)
	Debug        bool
}

type tomlConfig struct {
	ServerURL       string `toml:"server_url"`
	TokenPath       string `toml:"token_path"`
	DBPath          string `toml:"db_path"`
	SyncIntervalSec int    `toml:"sync_interval_seconds"`
	HotCap          int    `toml:"hot_message_cap"`
	ChunkSize       int    `toml:"chunk_size"`
	Debug           bool   `toml:"debug"`
}

// Load reads config from ~/.config/parley/config.toml, falling back to
// defaults when the file or individual fields are absent.
func Load() (*Config, error) {
	cfg := &Config{
		ServerURL:    DefaultServerURL,
		SyncInterval: DefaultSyncInterval,
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, nil // Use defaults
	}

	configDir := filepath.Join(home, ".config", "parley")
	cfg.TokenPath = filepath.Join(configDir, "token")
	cfg.DBPath = filepath.Join(configDir, "parley.db")

	tomlPath := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		var tc tomlConfig
		if _, err := toml.DecodeFile(tomlPath, &tc); err == nil {
			if tc.ServerURL != "" {
				cfg.ServerURL = tc.ServerURL
			}
			if tc.TokenPath != "" {
				cfg.TokenPath = tc.TokenPath
			}
			if tc.DBPath != "" {
				cfg.DBPath = tc.DBPath
			}
			if tc.SyncIntervalSec > 0 {
				cfg.SyncInterval = time.Duration(tc.SyncIntervalSec) * time.Second
			}
			if tc.HotCap > 0 {
				cfg.HotCap = tc.HotCap
			}
			if tc.ChunkSize > 0 {
				cfg.ChunkSize = tc.ChunkSize
			}
			cfg.Debug = tc.Debug
		}
	}

	return cfg, nil
}
