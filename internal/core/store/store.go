package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/core/models"
)

// Store holds the local, reactive copy of sessions and their messages.
// Sessions and messages live in separate maps linked only by session id.
// Mutations invalidate the getter cache wholesale and notify subscribers;
// reads go through memoized derived views.
type Store struct {
	mu sync.RWMutex

	sessions  map[string]*models.Session
	messages  map[string][]models.Message
	currentID string

	status         models.SyncStatus
	lastError      string
	streamProgress int

	cache *getterCache
	log   *zap.Logger

	subMu sync.Mutex
	subs  map[int]func()
	subID int
}

// New creates an empty store.
func New(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]models.Message),
		status:   models.SyncStatus{PendingSessionIDs: make(map[string]struct{})},
		cache:    newGetterCache(),
		log:      log,
		subs:     make(map[int]func()),
	}
}

// Subscribe registers a change listener and returns an unsubscribe func.
// Listeners are invoked after every mutation, outside the store lock.
func (s *Store) Subscribe(fn func()) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.subID
	s.subID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// mutated invalidates the derived-view cache and wakes subscribers.
func (s *Store) mutated() {
	s.cache.invalidateAll()
	s.notify()
}

// ---------------------------------------------------------------------------
// Session repository

// Session returns a copy of the session with the given id.
func (s *Store) Session(id string) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.Session{}, false
	}
	return cloneSession(*sess), true
}

// Sessions returns all sessions sorted pinned-first, then most recently
// updated. The result is memoized until the next mutation.
func (s *Store) Sessions() []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := fmt.Sprintf("sessions:sorted:%d", len(s.sessions))
	v := s.cache.get(key, func() any {
		out := make([]models.Session, 0, len(s.sessions))
		for _, sess := range s.sessions {
			out = append(out, cloneSession(*sess))
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].IsPinned != out[j].IsPinned {
				return out[i].IsPinned
			}
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		})
		return out
	})
	return v.([]models.Session)
}

// SessionsByTag returns sessions carrying the tag, most recent first.
func (s *Store) SessionsByTag(tag string) []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := fmt.Sprintf("sessions:tag:%s:%d", tag, len(s.sessions))
	v := s.cache.get(key, func() any {
		return s.filterSessionsLocked(func(sess *models.Session) bool {
			return sess.HasTag(tag)
		})
	})
	return v.([]models.Session)
}

// SessionsByCategory returns sessions in the category, most recent first.
func (s *Store) SessionsByCategory(category string) []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := fmt.Sprintf("sessions:category:%s:%d", category, len(s.sessions))
	v := s.cache.get(key, func() any {
		return s.filterSessionsLocked(func(sess *models.Session) bool {
			return sess.Category == category
		})
	})
	return v.([]models.Session)
}

func (s *Store) filterSessionsLocked(keep func(*models.Session) bool) []models.Session {
	out := []models.Session{}
	for _, sess := range s.sessions {
		if keep(sess) {
			out = append(out, cloneSession(*sess))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// PutSession inserts or replaces a session.
func (s *Store) PutSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	stored := cloneSession(sess)
	s.sessions[sess.ID] = &stored
	s.mu.Unlock()
	s.mutated()
	return nil
}

// UpdateSession applies fn to the stored session under the lock. Returns
// false when the session does not exist.
func (s *Store) UpdateSession(id string, fn func(*models.Session)) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		fn(sess)
	}
	s.mu.Unlock()
	if ok {
		s.mutated()
	}
	return ok
}

// RemoveSession deletes a session and cascades deletion of its message list.
func (s *Store) RemoveSession(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		delete(s.messages, id)
		if s.currentID == id {
			s.currentID = ""
		}
	}
	s.mu.Unlock()
	if ok {
		s.mutated()
	}
	return ok
}

// ApplySessions atomically applies a merged session set computed by the sync
// coordinator: upserts every session in merged and removes the listed ids
// (cascading their messages). Returns whether anything actually changed, by
// fingerprint comparison, so callers can skip cache invalidation and
// notification on a no-op sync.
func (s *Store) ApplySessions(merged []models.Session, removed []string) bool {
	s.mu.Lock()
	changed := false
	for _, sess := range merged {
		prev, ok := s.sessions[sess.ID]
		if ok && prev.Fingerprint() == sess.Fingerprint() {
			continue
		}
		stored := cloneSession(sess)
		s.sessions[sess.ID] = &stored
		changed = true
	}
	for _, id := range removed {
		if _, ok := s.sessions[id]; !ok {
			continue
		}
		delete(s.sessions, id)
		delete(s.messages, id)
		if s.currentID == id {
			s.currentID = ""
		}
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.mutated()
	}
	return changed
}

// SessionCount returns the number of sessions.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ---------------------------------------------------------------------------
// Current session pointer

// CurrentSession returns the session the current pointer references, if any.
func (s *Store) CurrentSession() (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentID == "" {
		return models.Session{}, false
	}
	key := "session:current:" + s.currentID
	v := s.cache.get(key, func() any {
		sess, ok := s.sessions[s.currentID]
		if !ok {
			return models.Session{}
		}
		return cloneSession(*sess)
	})
	sess := v.(models.Session)
	if sess.ID == "" {
		return models.Session{}, false
	}
	return sess, true
}

// CurrentID returns the current session id ("" when unset).
func (s *Store) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// SetCurrent moves the current pointer. The target must exist.
func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("session %s not found", id)
	}
	changed := s.currentID != id
	s.currentID = id
	s.mu.Unlock()
	if changed {
		s.mutated()
	}
	return nil
}

// ClearCurrent unsets the current pointer.
func (s *Store) ClearCurrent() {
	s.mu.Lock()
	changed := s.currentID != ""
	s.currentID = ""
	s.mu.Unlock()
	if changed {
		s.mutated()
	}
}

// ---------------------------------------------------------------------------
// Message store

// Messages returns the ordered message list for a session. Memoized.
func (s *Store) Messages(sessionID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := fmt.Sprintf("messages:%s:%d", sessionID, len(s.messages[sessionID]))
	v := s.cache.get(key, func() any {
		return cloneMessages(s.messages[sessionID])
	})
	return v.([]models.Message)
}

// MessageCount returns the number of hot messages held for a session.
func (s *Store) MessageCount(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[sessionID])
}

// SetMessages replaces a session's message list, sorted by timestamp.
func (s *Store) SetMessages(sessionID string, msgs []models.Message) error {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("session %s not found", sessionID)
	}
	sorted := cloneMessages(msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	s.messages[sessionID] = sorted
	s.mu.Unlock()
	s.mutated()
	return nil
}

// AppendMessage adds a message to its session's list. The session must be
// live; a message never outlives or precedes its session.
func (s *Store) AppendMessage(msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.sessions[msg.SessionID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("session %s not found", msg.SessionID)
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	s.mu.Unlock()
	s.mutated()
	return nil
}

// UpdateMessage applies fn to the identified message under the lock.
func (s *Store) UpdateMessage(sessionID, messageID string, fn func(*models.Message)) bool {
	s.mu.Lock()
	found := false
	list := s.messages[sessionID]
	for i := range list {
		if list[i].ID == messageID {
			fn(&list[i])
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.mutated()
	}
	return found
}

// RemoveMessage deletes a single message from a session.
func (s *Store) RemoveMessage(sessionID, messageID string) bool {
	s.mu.Lock()
	list := s.messages[sessionID]
	found := false
	for i := range list {
		if list[i].ID == messageID {
			s.messages[sessionID] = append(list[:i], list[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.mutated()
	}
	return found
}

// StreamingMessage returns the at-most-one streaming message of a session.
func (s *Store) StreamingMessage(sessionID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[sessionID] {
		if m.IsStreaming {
			return m, true
		}
	}
	return models.Message{}, false
}

// ---------------------------------------------------------------------------
// Sync status and error surface

// SyncStatus returns a copy of the reconciliation state.
func (s *Store) SyncStatus() models.SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Clone()
}

// BeginSync flips the syncing flag; returns false when a sync is already in
// flight. This is the single-flight guard for synchronizeSessions.
func (s *Store) BeginSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsSyncing {
		return false
	}
	s.status.IsSyncing = true
	return true
}

// FinishSync releases the guard. On success the last-sync time advances and
// the error clears; on failure the error is recorded and nothing else moves.
func (s *Store) FinishSync(err error) {
	s.mu.Lock()
	s.status.IsSyncing = false
	if err != nil {
		s.status.Error = err.Error()
	} else {
		s.status.Error = ""
		s.status.LastSyncTime = time.Now().UTC()
	}
	s.mu.Unlock()
	s.notify()
}

// MarkPending records a session with unsynchronized local changes.
func (s *Store) MarkPending(sessionID string) {
	s.mu.Lock()
	s.status.PendingSessionIDs[sessionID] = struct{}{}
	s.mu.Unlock()
}

// ClearPending removes a session from the pending set.
func (s *Store) ClearPending(sessionID string) {
	s.mu.Lock()
	delete(s.status.PendingSessionIDs, sessionID)
	s.mu.Unlock()
}

// SetError records a user-visible engine error ("" clears it).
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
	s.notify()
}

// LastError returns the user-visible engine error.
func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// SetStreamProgress updates the global streaming progress percentage.
func (s *Store) SetStreamProgress(pct int) {
	s.mu.Lock()
	s.streamProgress = pct
	s.mu.Unlock()
	s.notify()
}

// StreamProgress returns the global streaming progress percentage.
func (s *Store) StreamProgress() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamProgress
}

// InvalidateCache drops every memoized derived view.
func (s *Store) InvalidateCache() {
	s.cache.invalidateAll()
}

// CacheSize reports the number of memoized views (for tests and stats).
func (s *Store) CacheSize() int {
	return s.cache.size()
}

func cloneSession(sess models.Session) models.Session {
	out := sess
	out.Tags = append([]string(nil), sess.Tags...)
	return out
}

func cloneMessages(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}
