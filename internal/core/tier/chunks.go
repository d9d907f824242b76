package tier

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/core/models"
	"github.com/parleyhq/parley/internal/core/store"
)

const (
	// DefaultHotCap is how many recent messages stay in the primary store
	// per session.
	DefaultHotCap = 50
	// DefaultChunkSize bounds how many messages one cold-store record holds.
	DefaultChunkSize = 20
)

type chunkMeta struct {
	Chunks      int       `json:"chunks"`
	TotalCount  int       `json:"totalCount"`
	LastUpdated time.Time `json:"lastUpdated"`
}

func chunkKey(sessionID string, n int) string {
	return fmt.Sprintf("session_%s_older_messages_%d", sessionID, n)
}

func metaKey(sessionID string) string {
	return fmt.Sprintf("session_%s_older_messages_meta", sessionID)
}

// Manager moves overflow messages between the in-memory store and the cold
// store.
type Manager struct {
	db        *DB
	store     *store.Store
	log       *zap.Logger
	hotCap    int
	chunkSize int
}

func NewManager(db *DB, st *store.Store, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		db:        db,
		store:     st,
		log:       log,
		hotCap:    DefaultHotCap,
		chunkSize: DefaultChunkSize,
	}
}

// SetLimits overrides the hot cap and chunk size; zero keeps the default.
func (m *Manager) SetLimits(hotCap, chunkSize int) {
	if hotCap > 0 {
		m.hotCap = hotCap
	}
	if chunkSize > 0 {
		m.chunkSize = chunkSize
	}
}

// CleanupStorage enforces the hot cap on every session: the most recent
// messages stay in the primary store, older ones move into cold-store chunks.
// Chunk numbering continues from any existing chunks so repeated cleanups
// never overwrite history. A storage failure aborts that session's move
// without touching the primary store.
func (m *Manager) CleanupStorage() {
	for _, sess := range m.store.Sessions() {
		if err := m.cleanupSession(sess.ID); err != nil {
			m.log.Warn("storage cleanup failed",
				zap.String("session", sess.ID),
				zap.Error(err))
			m.store.SetError("storage cleanup failed: " + err.Error())
		}
	}
}

func (m *Manager) cleanupSession(sessionID string) error {
	msgs := m.store.Messages(sessionID)
	if len(msgs) <= m.hotCap {
		return nil
	}
	overflow := msgs[:len(msgs)-m.hotCap]
	hot := msgs[len(msgs)-m.hotCap:]

	meta, err := m.readMeta(sessionID)
	if err != nil {
		return err
	}

	tx, err := m.db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	next := meta.Chunks
	for start := 0; start < len(overflow); start += m.chunkSize {
		end := start + m.chunkSize
		if end > len(overflow) {
			end = len(overflow)
		}
		payload, err := json.Marshal(overflow[start:end])
		if err != nil {
			return err
		}
		if err := upsert(tx, chunkKey(sessionID, next), string(payload)); err != nil {
			return err
		}
		next++
	}

	meta.Chunks = next
	meta.TotalCount += len(overflow)
	meta.LastUpdated = time.Now()
	metaPayload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := upsert(tx, metaKey(sessionID), string(metaPayload)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// Only shrink the primary store once the cold copy is durable.
	if err := m.store.SetMessages(sessionID, hot); err != nil {
		return err
	}
	m.log.Debug("messages tiered out",
		zap.String("session", sessionID),
		zap.Int("moved", len(overflow)),
		zap.Int("chunks", meta.Chunks))
	return nil
}

// LoadOlderMessages pulls every cold chunk for a session back into the
// primary store, merged and re-sorted with whatever is still hot, and
// removes the cold-store records. It returns the full recovered list.
func (m *Manager) LoadOlderMessages(sessionID string) ([]models.Message, error) {
	meta, err := m.readMeta(sessionID)
	if err != nil {
		return nil, err
	}
	if meta.Chunks == 0 {
		return m.store.Messages(sessionID), nil
	}

	recovered := m.store.Messages(sessionID)
	for n := 0; n < meta.Chunks; n++ {
		value, ok, err := m.db.get(chunkKey(sessionID, n))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("missing chunk %d for session %s", n, sessionID)
		}
		var chunk []models.Message
		if err := json.Unmarshal([]byte(value), &chunk); err != nil {
			return nil, fmt.Errorf("corrupt chunk %d for session %s: %w", n, sessionID, err)
		}
		recovered = append(recovered, chunk...)
	}
	sort.SliceStable(recovered, func(i, j int) bool {
		return recovered[i].Timestamp.Before(recovered[j].Timestamp)
	})

	if err := m.store.SetMessages(sessionID, recovered); err != nil {
		return nil, err
	}

	tx, err := m.db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for n := 0; n < meta.Chunks; n++ {
		if _, err := tx.Exec(`DELETE FROM cold_store WHERE key = ?`, chunkKey(sessionID, n)); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(`DELETE FROM cold_store WHERE key = ?`, metaKey(sessionID)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return m.store.Messages(sessionID), nil
}

// ColdCount reports how many messages a session has tiered out.
func (m *Manager) ColdCount(sessionID string) (int, error) {
	meta, err := m.readMeta(sessionID)
	if err != nil {
		return 0, err
	}
	return meta.TotalCount, nil
}

// DropSession removes all cold-store records for a session, used when the
// session itself is deleted.
func (m *Manager) DropSession(sessionID string) error {
	meta, err := m.readMeta(sessionID)
	if err != nil {
		return err
	}
	tx, err := m.db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for n := 0; n < meta.Chunks; n++ {
		if _, err := tx.Exec(`DELETE FROM cold_store WHERE key = ?`, chunkKey(sessionID, n)); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`DELETE FROM cold_store WHERE key = ?`, metaKey(sessionID)); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) readMeta(sessionID string) (chunkMeta, error) {
	value, ok, err := m.db.get(metaKey(sessionID))
	if err != nil || !ok {
		return chunkMeta{}, err
	}
	var meta chunkMeta
	if err := json.Unmarshal([]byte(value), &meta); err != nil {
		return chunkMeta{}, fmt.Errorf("corrupt chunk meta for session %s: %w", sessionID, err)
	}
	return meta, nil
}

func upsert(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec(`
		INSERT INTO cold_store (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
