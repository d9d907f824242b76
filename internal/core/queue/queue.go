// Package queue holds outgoing messages that could not reach the server and
// replays them once authentication returns.
package queue

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/core/models"
	"github.com/parleyhq/parley/internal/core/store"
)

// Poster is the slice of the API client used for replay.
type Poster interface {
	PostMessage(ctx context.Context, sessionID string, msg models.Message) (models.Message, error)
}

// Queue is a per-session holding area for unsent messages. Replay is
// per-message: one failure keeps that message queued and moves on.
type Queue struct {
	store *store.Store
	log   *zap.Logger

	mu      sync.Mutex
	pending map[string][]models.Message
}

func New(st *store.Store, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		store:   st,
		log:     log,
		pending: make(map[string][]models.Message),
	}
}

// Enqueue parks a message for later replay and marks its session pending on
// the sync status.
func (q *Queue) Enqueue(msg models.Message) {
	q.mu.Lock()
	q.pending[msg.SessionID] = append(q.pending[msg.SessionID], msg)
	q.mu.Unlock()
	q.store.MarkPending(msg.SessionID)
}

// Pending returns the queued messages for a session, oldest first.
func (q *Queue) Pending(sessionID string) []models.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.Message, len(q.pending[sessionID]))
	copy(out, q.pending[sessionID])
	return out
}

// Len reports the total number of queued messages across sessions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, msgs := range q.pending {
		n += len(msgs)
	}
	return n
}

// SyncPendingMessages replays queued messages through the send endpoint,
// starting with the currently-active session so the visible conversation
// catches up first. A replayed message is moved into the store under its
// server-issued id with status sent; a failed message goes back into the
// queue in order and the rest of the drain continues.
func (q *Queue) SyncPendingMessages(ctx context.Context, poster Poster, activeSessionID string) {
	for _, sessionID := range q.drainOrder(activeSessionID) {
		q.replaySession(ctx, poster, sessionID)
	}
}

func (q *Queue) drainOrder(activeSessionID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var order []string
	if _, ok := q.pending[activeSessionID]; ok {
		order = append(order, activeSessionID)
	}
	for id := range q.pending {
		if id != activeSessionID {
			order = append(order, id)
		}
	}
	return order
}

func (q *Queue) replaySession(ctx context.Context, poster Poster, sessionID string) {
	q.mu.Lock()
	msgs := q.pending[sessionID]
	delete(q.pending, sessionID)
	q.mu.Unlock()

	var kept []models.Message
	for _, msg := range msgs {
		sent, err := poster.PostMessage(ctx, sessionID, msg)
		if err != nil {
			q.log.Warn("message replay failed",
				zap.String("session", sessionID),
				zap.String("message", msg.ID),
				zap.Error(err))
			kept = append(kept, msg)
			continue
		}
		// Swap the local copy for the server's canonical one.
		sent.Status = models.StatusSent
		q.store.RemoveMessage(sessionID, msg.ID)
		if err := q.store.AppendMessage(sent); err != nil {
			q.log.Warn("replayed message dropped from store", zap.Error(err))
		}
	}

	q.mu.Lock()
	if len(kept) > 0 {
		q.pending[sessionID] = append(kept, q.pending[sessionID]...)
	}
	empty := len(q.pending[sessionID]) == 0
	q.mu.Unlock()

	if empty {
		q.store.ClearPending(sessionID)
	}
}
