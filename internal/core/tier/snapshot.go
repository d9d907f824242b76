package tier

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/parleyhq/parley/internal/core/models"
)

// Snapshot is the persisted engine state between runs: session metadata,
// the active session, and the sync cursor. Message bodies are deliberately
// excluded to bound storage size; they live in the cold store or on the
// server.
type Snapshot struct {
	Sessions  []models.Session `json:"sessions"`
	CurrentID string           `json:"currentId,omitempty"`
	Cursor    time.Time        `json:"cursor"`
	SavedAt   time.Time        `json:"savedAt"`
}

// SaveSnapshot overwrites the stored snapshot.
func (db *DB) SaveSnapshot(snap Snapshot) error {
	snap.SavedAt = time.Now()
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(`
		INSERT INTO snapshot (id, payload, saved_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at
	`, string(payload), snap.SavedAt)
	return err
}

// LoadSnapshot returns the stored snapshot, or ok=false when none exists.
func (db *DB) LoadSnapshot() (Snapshot, bool, error) {
	var payload string
	err := db.conn.QueryRow(`SELECT payload FROM snapshot WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}
