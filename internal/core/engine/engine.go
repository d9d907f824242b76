// Package engine wires the store, sync coordinator, streaming pipeline,
// offline queue, and storage tiers into one session manager. One Engine is
// constructed per process and passed to callers; there is no ambient global.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/core/api"
	"github.com/parleyhq/parley/internal/core/config"
	"github.com/parleyhq/parley/internal/core/models"
	"github.com/parleyhq/parley/internal/core/queue"
	"github.com/parleyhq/parley/internal/core/store"
	"github.com/parleyhq/parley/internal/core/stream"
	syncer "github.com/parleyhq/parley/internal/core/sync"
	"github.com/parleyhq/parley/internal/core/tier"
)

type Engine struct {
	cfg    *config.Config
	log    *zap.Logger
	tokens api.TokenSource

	store    *store.Store
	client   *api.Client
	db       *tier.DB
	tiers    *tier.Manager
	queue    *queue.Queue
	coord    *syncer.Coordinator
	pipeline *stream.Pipeline
}

// New builds an engine against cfg and restores any persisted snapshot.
// Callers own Close.
func New(cfg *config.Config, tokens api.TokenSource, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := tier.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	st := store.New(log)
	client := api.NewClient(nil, cfg.ServerURL, tokens, log)
	q := queue.New(st, log)
	tiers := tier.NewManager(db, st, log)
	tiers.SetLimits(cfg.HotCap, cfg.ChunkSize)

	e := &Engine{
		cfg:      cfg,
		log:      log,
		tokens:   tokens,
		store:    st,
		client:   client,
		db:       db,
		tiers:    tiers,
		queue:    q,
		coord:    syncer.NewCoordinator(st, client, tokens, log),
		pipeline: stream.NewPipeline(st, client, client, client, tokens, q, log),
	}

	if err := e.restore(); err != nil {
		log.Warn("snapshot restore failed", zap.Error(err))
	}
	return e, nil
}

func (e *Engine) restore() error {
	snap, ok, err := e.db.LoadSnapshot()
	if err != nil || !ok {
		return err
	}
	for _, sess := range snap.Sessions {
		if err := e.store.PutSession(sess); err != nil {
			e.log.Warn("skipping invalid persisted session", zap.Error(err))
		}
	}
	if snap.CurrentID != "" {
		if err := e.store.SetCurrent(snap.CurrentID); err != nil {
			e.log.Debug("persisted current session gone", zap.String("id", snap.CurrentID))
		}
	}
	e.coord.SetCursor(snap.Cursor)
	e.log.Info("snapshot restored",
		zap.Int("sessions", len(snap.Sessions)),
		zap.Time("cursor", snap.Cursor))
	return nil
}

// SaveState persists the session snapshot. Message bodies stay out of it.
func (e *Engine) SaveState() error {
	return e.db.SaveSnapshot(tier.Snapshot{
		Sessions:  e.store.Sessions(),
		CurrentID: e.store.CurrentID(),
		Cursor:    e.coord.Cursor(),
	})
}

// Close saves state and releases the local database.
func (e *Engine) Close() error {
	if err := e.SaveState(); err != nil {
		e.log.Warn("state save failed on close", zap.Error(err))
	}
	return e.db.Close()
}

// Store exposes the observable state for UI layers.
func (e *Engine) Store() *store.Store { return e.store }

// Queue exposes the offline queue for inspection.
func (e *Engine) Queue() *queue.Queue { return e.queue }

func (e *Engine) authenticated() bool {
	if e.tokens == nil {
		return false
	}
	_, ok := e.tokens.Token()
	return ok
}

// CreateSession creates a session locally first, then confirms it with the
// server when authenticated. The local copy stays flagged IsLocal until the
// server echoes it back, so an unconfirmed session can never be dropped by
// sync.
func (e *Engine) CreateSession(ctx context.Context, title string) (models.Session, error) {
	sess := models.NewSession(title, "")
	if err := e.store.PutSession(sess); err != nil {
		return models.Session{}, err
	}

	if !e.authenticated() {
		return sess, nil
	}
	confirmed, err := e.client.CreateSession(ctx, sess)
	if err != nil {
		e.log.Warn("session create not confirmed", zap.Error(err))
		e.store.SetError("session create failed: " + err.Error())
		return sess, nil
	}
	confirmed.IsLocal = false
	current := e.store.CurrentID() == sess.ID
	if confirmed.ID != sess.ID {
		e.store.RemoveSession(sess.ID)
	}
	if err := e.store.PutSession(confirmed); err != nil {
		return models.Session{}, err
	}
	if current {
		_ = e.store.SetCurrent(confirmed.ID)
	}
	return confirmed, nil
}

// SwitchSession makes the session current, fetching its messages when none
// are cached locally.
func (e *Engine) SwitchSession(ctx context.Context, id string) error {
	if err := e.store.SetCurrent(id); err != nil {
		return err
	}
	if e.store.MessageCount(id) > 0 || !e.authenticated() {
		return nil
	}
	msgs, err := e.client.ListMessages(ctx, id)
	if err != nil {
		e.log.Warn("message load failed", zap.String("session", id), zap.Error(err))
		e.store.SetError("message load failed: " + err.Error())
		return nil
	}
	return e.store.SetMessages(id, msgs)
}

// patchSession applies fn locally and mirrors the change to the server.
// Server failure is recorded on the store, never rolled back locally; the
// next sync reconciles.
func (e *Engine) patchSession(ctx context.Context, id string, fn func(*models.Session), patch api.SessionPatch) error {
	if !e.store.UpdateSession(id, func(s *models.Session) {
		fn(s)
		s.UpdatedAt = time.Now()
	}) {
		return fmt.Errorf("session not found: %s", id)
	}
	if !e.authenticated() {
		return nil
	}
	if _, err := e.client.UpdateSession(ctx, id, patch); err != nil {
		e.log.Warn("session update not confirmed", zap.String("session", id), zap.Error(err))
		e.store.SetError("session update failed: " + err.Error())
	}
	return nil
}

func (e *Engine) RenameSession(ctx context.Context, id, title string) error {
	return e.patchSession(ctx, id,
		func(s *models.Session) { s.Title = title },
		api.SessionPatch{Title: &title})
}

func (e *Engine) PinSession(ctx context.Context, id string, pinned bool) error {
	return e.patchSession(ctx, id,
		func(s *models.Session) { s.IsPinned = pinned },
		api.SessionPatch{IsPinned: &pinned})
}

func (e *Engine) ArchiveSession(ctx context.Context, id string, archived bool) error {
	return e.patchSession(ctx, id,
		func(s *models.Session) { s.IsArchived = archived },
		api.SessionPatch{IsArchived: &archived})
}

func (e *Engine) SetTags(ctx context.Context, id string, tags []string) error {
	return e.patchSession(ctx, id,
		func(s *models.Session) { s.Tags = tags },
		api.SessionPatch{Tags: &tags})
}

func (e *Engine) AddTag(ctx context.Context, id, tag string) error {
	sess, ok := e.store.Session(id)
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	if sess.HasTag(tag) {
		return nil
	}
	return e.SetTags(ctx, id, append(sess.Tags, tag))
}

func (e *Engine) RemoveTag(ctx context.Context, id, tag string) error {
	sess, ok := e.store.Session(id)
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	if !sess.HasTag(tag) {
		return nil
	}
	tags := make([]string, 0, len(sess.Tags)-1)
	for _, t := range sess.Tags {
		if t != tag {
			tags = append(tags, t)
		}
	}
	return e.SetTags(ctx, id, tags)
}

func (e *Engine) SetCategory(ctx context.Context, id, category string) error {
	return e.patchSession(ctx, id,
		func(s *models.Session) { s.Category = category },
		api.SessionPatch{Category: &category})
}

// DeleteSession removes a session everywhere: primary store, cold store,
// and (best-effort) the server.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	if !e.store.RemoveSession(id) {
		return fmt.Errorf("session not found: %s", id)
	}
	if err := e.tiers.DropSession(id); err != nil {
		e.log.Warn("cold store cleanup failed", zap.String("session", id), zap.Error(err))
	}
	if !e.authenticated() {
		return nil
	}
	if err := e.client.DeleteSession(ctx, id); err != nil && err != api.ErrNotFound {
		e.log.Warn("session delete not confirmed", zap.String("session", id), zap.Error(err))
		e.store.SetError("session delete failed: " + err.Error())
	}
	return nil
}

// DeleteMessage removes one message locally and server-side.
func (e *Engine) DeleteMessage(ctx context.Context, sessionID, messageID string) error {
	if !e.store.RemoveMessage(sessionID, messageID) {
		return fmt.Errorf("message not found: %s", messageID)
	}
	if !e.authenticated() {
		return nil
	}
	if err := e.client.DeleteMessage(ctx, sessionID, messageID); err != nil && err != api.ErrNotFound {
		e.store.SetError("message delete failed: " + err.Error())
	}
	return nil
}

// ArchiveSessions archives a batch, continuing past individual failures.
func (e *Engine) ArchiveSessions(ctx context.Context, ids []string) int {
	done := 0
	for _, id := range ids {
		if err := e.ArchiveSession(ctx, id, true); err != nil {
			e.log.Warn("bulk archive skipped session", zap.String("session", id), zap.Error(err))
			continue
		}
		done++
	}
	return done
}

// DeleteSessions deletes a batch, continuing past individual failures.
func (e *Engine) DeleteSessions(ctx context.Context, ids []string) int {
	done := 0
	for _, id := range ids {
		if err := e.DeleteSession(ctx, id); err != nil {
			e.log.Warn("bulk delete skipped session", zap.String("session", id), zap.Error(err))
			continue
		}
		done++
	}
	return done
}

// TagSessions applies one tag to a batch of sessions.
func (e *Engine) TagSessions(ctx context.Context, ids []string, tag string) int {
	done := 0
	for _, id := range ids {
		if err := e.AddTag(ctx, id, tag); err != nil {
			continue
		}
		done++
	}
	return done
}

// SendMessage runs the full streaming exchange for one outgoing message.
func (e *Engine) SendMessage(ctx context.Context, sessionID, content string) error {
	return e.pipeline.SendMessage(ctx, sessionID, content)
}

// CancelStreaming aborts all open streaming connections.
func (e *Engine) CancelStreaming() {
	e.pipeline.CancelStreaming()
}

// Synchronize reconciles sessions with the server.
func (e *Engine) Synchronize(ctx context.Context) error {
	return e.coord.Synchronize(ctx)
}

// RunSyncLoop ticks Synchronize until ctx is cancelled.
func (e *Engine) RunSyncLoop(ctx context.Context) {
	e.coord.Run(ctx, e.cfg.SyncInterval)
}

// ReplayQueue drains the offline queue, active session first.
func (e *Engine) ReplayQueue(ctx context.Context) {
	e.queue.SyncPendingMessages(ctx, e.client, e.store.CurrentID())
}

// CleanupStorage tiers out messages over the hot cap.
func (e *Engine) CleanupStorage() {
	e.tiers.CleanupStorage()
}

// LoadOlderMessages restores a session's tiered-out history.
func (e *Engine) LoadOlderMessages(sessionID string) ([]models.Message, error) {
	return e.tiers.LoadOlderMessages(sessionID)
}
