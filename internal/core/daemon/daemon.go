// Package daemon runs the background reconciliation loop: periodic sync,
// auth-transition handling, and opportunistic storage cleanup.
package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/core/auth"
	"github.com/parleyhq/parley/internal/core/engine"
)

// cleanupInterval controls how often the hot-message cap is enforced.
const cleanupInterval = 5 * time.Minute

// saveInterval controls how often the snapshot hits disk while running.
const saveInterval = time.Minute

// Daemon owns the background loops around one engine.
type Daemon struct {
	engine  *engine.Engine
	tokens  *auth.FileTokenSource
	watcher *auth.Watcher
	log     *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats tracks daemon activity for the status command.
type Stats struct {
	StartTime    time.Time
	SyncRuns     int
	QueueReplays int
	Cleanups     int
	Errors       int
}

func New(e *engine.Engine, tokens *auth.FileTokenSource, log *zap.Logger) (*Daemon, error) {
	if log == nil {
		log = zap.NewNop()
	}
	watcher, err := auth.NewWatcher(tokens, log)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		engine:  e,
		tokens:  tokens,
		watcher: watcher,
		log:     log,
		stats:   Stats{StartTime: time.Now()},
	}, nil
}

// Run blocks until ctx is cancelled. It synchronizes immediately, then on
// the configured interval, replays the offline queue whenever the user logs
// in, and tiers out old messages periodically.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("daemon starting")

	transitions := make(chan bool, 1)
	go func() {
		if err := d.watcher.Run(ctx, transitions); err != nil {
			d.log.Warn("token watcher stopped", zap.Error(err))
		}
	}()

	go d.engine.RunSyncLoop(ctx)

	if err := d.engine.Synchronize(ctx); err != nil {
		d.log.Warn("initial sync failed", zap.Error(err))
		d.count(func(s *Stats) { s.Errors++ })
	} else {
		d.count(func(s *Stats) { s.SyncRuns++ })
	}

	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()
	save := time.NewTicker(saveInterval)
	defer save.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("daemon shutting down")
			if err := d.engine.SaveState(); err != nil {
				d.log.Warn("final state save failed", zap.Error(err))
			}
			return nil

		case authed, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if !authed {
				d.log.Info("logged out, pausing replay")
				continue
			}
			d.log.Info("logged in, replaying queue")
			d.engine.ReplayQueue(ctx)
			d.count(func(s *Stats) { s.QueueReplays++ })
			if err := d.engine.Synchronize(ctx); err != nil {
				d.count(func(s *Stats) { s.Errors++ })
			} else {
				d.count(func(s *Stats) { s.SyncRuns++ })
			}

		case <-cleanup.C:
			d.engine.CleanupStorage()
			d.count(func(s *Stats) { s.Cleanups++ })

		case <-save.C:
			if err := d.engine.SaveState(); err != nil {
				d.log.Warn("state save failed", zap.Error(err))
				d.count(func(s *Stats) { s.Errors++ })
			}
		}
	}
}

func (d *Daemon) count(fn func(*Stats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}

// GetStats returns a copy of the activity counters, safe to call while Run
// is active.
func (d *Daemon) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
