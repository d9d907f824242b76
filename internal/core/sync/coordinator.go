// Package sync reconciles the local session repository with the server.
package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/parleyhq/parley/internal/core/api"
	"github.com/parleyhq/parley/internal/core/models"
	"github.com/parleyhq/parley/internal/core/store"
)

// SessionFetcher is the slice of the API client the coordinator needs.
type SessionFetcher interface {
	ListSessions(ctx context.Context, since time.Time) ([]models.Session, error)
}

// Coordinator owns the sync cursor and applies last-write-wins merges to the
// store. A single instance serves the whole process.
type Coordinator struct {
	store   *store.Store
	fetcher SessionFetcher
	tokens  api.TokenSource
	log     *zap.Logger

	group singleflight.Group

	mu     sync.Mutex
	cursor time.Time
}

func NewCoordinator(st *store.Store, fetcher SessionFetcher, tokens api.TokenSource, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{store: st, fetcher: fetcher, tokens: tokens, log: log}
}

// Cursor returns the last successful sync point, for snapshot persistence.
func (c *Coordinator) Cursor() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// SetCursor restores a persisted cursor, typically at startup.
func (c *Coordinator) SetCursor(t time.Time) {
	c.mu.Lock()
	c.cursor = t
	c.mu.Unlock()
}

// Synchronize reconciles local sessions with the server. It is a no-op when
// unauthenticated or when a sync is already running; concurrent callers
// share the in-flight result. On failure local state is left untouched and
// the error is recorded on the store's status.
func (c *Coordinator) Synchronize(ctx context.Context) error {
	if c.tokens != nil {
		if _, ok := c.tokens.Token(); !ok {
			c.log.Debug("sync skipped: not authenticated")
			return nil
		}
	}

	_, err, _ := c.group.Do("sync", func() (any, error) {
		return nil, c.synchronize(ctx)
	})
	return err
}

func (c *Coordinator) synchronize(ctx context.Context) error {
	if !c.store.BeginSync() {
		c.log.Debug("sync skipped: already syncing")
		return nil
	}

	started := time.Now()
	remote, err := c.fetcher.ListSessions(ctx, c.Cursor())
	if err != nil {
		c.log.Warn("sync fetch failed", zap.Error(err))
		c.store.FinishSync(err)
		return err
	}

	merged, removed := c.merge(remote)
	changed := c.store.ApplySessions(merged, removed)
	c.store.FinishSync(nil)

	c.mu.Lock()
	c.cursor = started
	c.mu.Unlock()

	c.log.Info("sync complete",
		zap.Int("remote", len(remote)),
		zap.Int("removed", len(removed)),
		zap.Bool("changed", changed))
	return nil
}

// merge computes the post-sync session set. Per remote session: insert if
// unknown, overwrite if strictly newer than the local copy, otherwise keep
// local (local wins ties). Local sessions absent from the response are
// removed unless still flagged IsLocal, which marks an unconfirmed creation
// the server may not know about yet.
func (c *Coordinator) merge(remote []models.Session) (merged []models.Session, removed []string) {
	seen := make(map[string]struct{}, len(remote))
	for _, r := range remote {
		seen[r.ID] = struct{}{}
		local, ok := c.store.Session(r.ID)
		if !ok {
			merged = append(merged, r)
			continue
		}
		if r.UpdatedAt.After(local.UpdatedAt) {
			merged = append(merged, r)
		}
	}
	for _, local := range c.store.Sessions() {
		if _, ok := seen[local.ID]; ok {
			continue
		}
		if local.IsLocal {
			continue
		}
		removed = append(removed, local.ID)
	}
	return merged, removed
}

// Run synchronizes on a fixed interval until ctx is cancelled. Errors are
// already recorded on the store, so the loop just keeps ticking.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Synchronize(ctx)
		}
	}
}
