package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/core/auth"
	"github.com/parleyhq/parley/internal/core/config"
	"github.com/parleyhq/parley/internal/core/engine"
)

func testEngine(t *testing.T) (*engine.Engine, *auth.FileTokenSource) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		ServerURL:    "http://127.0.0.1:0",
		TokenPath:    filepath.Join(dir, "token"),
		DBPath:       filepath.Join(dir, "parley.db"),
		SyncInterval: time.Hour,
	}
	tokens := auth.NewFileTokenSource(cfg.TokenPath)
	e, err := engine.New(cfg, tokens, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, tokens
}

func TestStatsReadableWhileRunning(t *testing.T) {
	e, tokens := testEngine(t)
	d, err := New(e, tokens, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// The unauthenticated initial sync is a successful no-op.
	require.Eventually(t, func() bool {
		return d.GetStats().SyncRuns >= 1
	}, time.Second, 5*time.Millisecond)

	for i := 0; i < 100; i++ {
		_ = d.GetStats()
	}

	cancel()
	require.NoError(t, <-done)

	stats := d.GetStats()
	assert.False(t, stats.StartTime.IsZero())
	assert.Equal(t, 0, stats.Errors)
}
