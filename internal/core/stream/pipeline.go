// Package stream ingests assistant responses from the server's push channel
// into the message store.
package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/core/api"
	"github.com/parleyhq/parley/internal/core/models"
	"github.com/parleyhq/parley/internal/core/queue"
	"github.com/parleyhq/parley/internal/core/store"
)

// flushInterval bounds how often buffered content deltas hit the store, so
// subscribers aren't re-rendered per token.
const flushInterval = 100 * time.Millisecond

const (
	queuedNotice  = "You appear to be offline. Your message is queued and will be sent when the connection returns."
	abortedMarker = " [aborted]"
	errorSuffix   = "\n[response interrupted]"
)

// Streamer opens the push-event connection for one outgoing message.
type Streamer interface {
	OpenStream(ctx context.Context, sessionID, content string) (<-chan api.StreamEvent, context.CancelFunc, error)
}

// Loader fetches a session's messages when switching to an uncached session.
type Loader interface {
	ListMessages(ctx context.Context, sessionID string) ([]models.Message, error)
}

// Patcher persists server-side session updates, used for derived titles.
type Patcher interface {
	UpdateSession(ctx context.Context, id string, patch api.SessionPatch) (models.Session, error)
}

type handle struct {
	cancel    context.CancelFunc
	sessionID string
	messageID string
}

// Pipeline drives sendMessage: optimistic append, offline fallback, and the
// streaming ingestion loop.
type Pipeline struct {
	store   *store.Store
	streams Streamer
	loader  Loader
	patcher Patcher
	tokens  api.TokenSource
	queue   *queue.Queue
	log     *zap.Logger

	mu     sync.Mutex
	active map[string]handle
}

func NewPipeline(st *store.Store, streams Streamer, loader Loader, patcher Patcher, tokens api.TokenSource, q *queue.Queue, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		store:   st,
		streams: streams,
		loader:  loader,
		patcher: patcher,
		tokens:  tokens,
		queue:   q,
		log:     log,
		active:  make(map[string]handle),
	}
}

func (p *Pipeline) authenticated() bool {
	if p.tokens == nil {
		return false
	}
	_, ok := p.tokens.Token()
	return ok
}

// SendMessage appends the user's message optimistically, then either queues
// it (offline) or streams the assistant's response into the store. It blocks
// until the response finishes; the optimistic append is visible to
// subscribers before any network I/O starts.
func (p *Pipeline) SendMessage(ctx context.Context, sessionID, content string) error {
	if err := p.ensureCurrent(ctx, sessionID); err != nil {
		return err
	}

	userMsg := models.NewMessage(sessionID, content, models.RoleUser)
	if err := p.store.AppendMessage(userMsg); err != nil {
		return err
	}

	if !p.authenticated() {
		p.queueOffline(userMsg)
		return nil
	}

	events, cancel, err := p.streams.OpenStream(ctx, sessionID, content)
	if err != nil {
		p.store.UpdateMessage(sessionID, userMsg.ID, func(m *models.Message) {
			m.Status = models.StatusError
		})
		p.store.SetError("send failed: " + err.Error())
		return err
	}
	p.store.UpdateMessage(sessionID, userMsg.ID, func(m *models.Message) {
		m.Status = models.StatusSent
	})

	placeholder := models.NewMessage(sessionID, "", models.RoleAssistant)
	placeholder.IsStreaming = true
	if err := p.store.AppendMessage(placeholder); err != nil {
		cancel()
		return err
	}

	p.register(placeholder.ID, handle{cancel: cancel, sessionID: sessionID, messageID: placeholder.ID})
	defer p.unregister(placeholder.ID)
	defer cancel()

	return p.ingest(ctx, events, sessionID, placeholder.ID, content)
}

// ensureCurrent switches the store to the target session, loading its
// messages from the server when nothing is cached locally.
func (p *Pipeline) ensureCurrent(ctx context.Context, sessionID string) error {
	if p.store.CurrentID() == sessionID {
		return nil
	}
	if err := p.store.SetCurrent(sessionID); err != nil {
		return err
	}
	if p.store.MessageCount(sessionID) == 0 && p.loader != nil && p.authenticated() {
		msgs, err := p.loader.ListMessages(ctx, sessionID)
		if err != nil {
			p.log.Warn("message load failed", zap.String("session", sessionID), zap.Error(err))
			return nil
		}
		if err := p.store.SetMessages(sessionID, msgs); err != nil {
			return err
		}
	}
	return nil
}

// queueOffline parks the message and appends a synthetic assistant reply so
// the conversation explains itself. No network I/O happens on this path.
func (p *Pipeline) queueOffline(userMsg models.Message) {
	p.queue.Enqueue(userMsg)
	notice := models.NewMessage(userMsg.SessionID, queuedNotice, models.RoleAssistant)
	notice.Status = models.StatusSent
	if err := p.store.AppendMessage(notice); err != nil {
		p.log.Warn("offline notice dropped", zap.Error(err))
	}
	p.log.Info("message queued offline", zap.String("session", userMsg.SessionID))
}

// ingest drains the event channel into the placeholder message. Content
// deltas accumulate in a buffer flushed on a fixed interval or when a
// terminal event arrives.
func (p *Pipeline) ingest(ctx context.Context, events <-chan api.StreamEvent, sessionID, messageID, userContent string) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var pending strings.Builder
	var total strings.Builder

	flush := func() {
		if pending.Len() == 0 {
			return
		}
		delta := pending.String()
		pending.Reset()
		p.store.UpdateMessage(sessionID, messageID, func(m *models.Message) {
			m.Content += delta
		})
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			p.abortMessage(sessionID, messageID)
			p.store.SetStreamProgress(0)
			return ctx.Err()

		case <-ticker.C:
			flush()

		case ev, ok := <-events:
			if !ok {
				// Channel closed without a terminal frame. If
				// cancelStreaming already finalized the message this
				// is the expected shutdown; otherwise the transport
				// died mid-stream.
				flush()
				if _, streaming := p.store.StreamingMessage(sessionID); !streaming {
					return nil
				}
				return p.finalizeError(sessionID, messageID, "connection closed")
			}

			switch ev.Type {
			case api.EventContent:
				pending.WriteString(ev.Content)
				total.WriteString(ev.Content)

			case api.EventMetadata:
				p.store.UpdateMessage(sessionID, messageID, func(m *models.Message) {
					m.Metadata = ev.Metadata
				})

			case api.EventProgress:
				p.store.SetStreamProgress(ev.Progress)

			case api.EventDone:
				flush()
				p.finalizeDone(ctx, ev, sessionID, messageID, total.String(), userContent)
				return nil

			case api.EventError:
				flush()
				return p.finalizeError(sessionID, messageID, ev.Err)
			}
		}
	}
}

func (p *Pipeline) finalizeDone(ctx context.Context, ev api.StreamEvent, sessionID, messageID, streamed, userContent string) {
	p.store.UpdateMessage(sessionID, messageID, func(m *models.Message) {
		if ev.ID != "" {
			m.ID = ev.ID
		}
		if ev.Content != "" {
			m.Content = ev.Content
		} else if m.Content == "" {
			m.Content = streamed
		}
		if len(ev.Metadata) > 0 {
			if m.Metadata == nil {
				m.Metadata = make(map[string]any, len(ev.Metadata))
			}
			for k, v := range ev.Metadata {
				m.Metadata[k] = v
			}
		}
		m.Status = models.StatusSent
		m.IsStreaming = false
	})
	p.store.SetStreamProgress(0)
	p.deriveTitle(ctx, sessionID, userContent)
}

func (p *Pipeline) finalizeError(sessionID, messageID, reason string) error {
	p.store.UpdateMessage(sessionID, messageID, func(m *models.Message) {
		m.Content += errorSuffix
		m.Status = models.StatusError
		m.IsStreaming = false
	})
	p.store.SetStreamProgress(0)
	p.store.SetError("streaming failed: " + reason)
	return &StreamError{Reason: reason}
}

// deriveTitle replaces the placeholder title with the opening of the user's
// first message, locally and server-side.
func (p *Pipeline) deriveTitle(ctx context.Context, sessionID, userContent string) {
	sess, ok := p.store.Session(sessionID)
	if !ok || sess.Title != models.DefaultTitle {
		return
	}
	title := models.DeriveTitle(userContent, 30)
	p.store.UpdateSession(sessionID, func(s *models.Session) {
		s.Title = title
	})
	if p.patcher == nil {
		return
	}
	if _, err := p.patcher.UpdateSession(ctx, sessionID, api.SessionPatch{Title: &title}); err != nil {
		p.log.Warn("title persist failed", zap.String("session", sessionID), zap.Error(err))
	}
}

// abortMessage marks a still-streaming message as aborted. Messages already
// finalized are left alone, which makes cancellation idempotent.
func (p *Pipeline) abortMessage(sessionID, messageID string) {
	p.store.UpdateMessage(sessionID, messageID, func(m *models.Message) {
		if !m.IsStreaming {
			return
		}
		m.Content += abortedMarker
		m.Status = models.StatusError
		m.IsStreaming = false
	})
}

// CancelStreaming closes every open streaming connection and marks the
// affected messages aborted. Calling it with no active stream is a no-op.
func (p *Pipeline) CancelStreaming() {
	p.mu.Lock()
	handles := make([]handle, 0, len(p.active))
	for _, h := range p.active {
		handles = append(handles, h)
	}
	p.active = make(map[string]handle)
	p.mu.Unlock()

	// Mark before cancelling: once cancel closes the event channel, ingest
	// checks whether the message was already finalized to tell an abort from
	// a dead transport.
	for _, h := range handles {
		p.abortMessage(h.sessionID, h.messageID)
		h.cancel()
	}
	if len(handles) > 0 {
		p.store.SetStreamProgress(0)
		p.log.Info("streaming cancelled", zap.Int("connections", len(handles)))
	}
}

// ActiveStreams reports how many streaming connections are open.
func (p *Pipeline) ActiveStreams() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *Pipeline) register(id string, h handle) {
	p.mu.Lock()
	p.active[id] = h
	p.mu.Unlock()
}

func (p *Pipeline) unregister(id string) {
	p.mu.Lock()
	delete(p.active, id)
	p.mu.Unlock()
}

// StreamError reports a failed streaming exchange; the partial content stays
// on the message.
type StreamError struct {
	Reason string
}

func (e *StreamError) Error() string {
	return "stream: " + e.Reason
}
