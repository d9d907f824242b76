package tier

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/core/models"
	"github.com/parleyhq/parley/internal/core/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedMessages(t *testing.T, st *store.Store, sessionID string, n int) []models.Message {
	t.Helper()
	base := time.Now().Add(-time.Duration(n) * time.Minute)
	msgs := make([]models.Message, n)
	for i := 0; i < n; i++ {
		m := models.NewMessage(sessionID, fmt.Sprintf("message %03d", i), models.RoleUser)
		m.Timestamp = base.Add(time.Duration(i) * time.Minute)
		msgs[i] = m
	}
	require.NoError(t, st.SetMessages(sessionID, msgs))
	return msgs
}

func TestCleanupRoundTrip(t *testing.T) {
	db := openTestDB(t)
	st := store.New(nil)
	sess := models.NewSession("s", "u1")
	require.NoError(t, st.PutSession(sess))
	original := seedMessages(t, st, sess.ID, 100)

	m := NewManager(db, st, nil)
	m.CleanupStorage()

	assert.Equal(t, DefaultHotCap, st.MessageCount(sess.ID))
	cold, err := m.ColdCount(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, cold)

	recovered, err := m.LoadOlderMessages(sess.ID)
	require.NoError(t, err)
	require.Len(t, recovered, 100)
	for i, msg := range recovered {
		assert.Equal(t, original[i].ID, msg.ID, "message %d out of order", i)
		assert.Equal(t, original[i].Content, msg.Content)
	}

	// Cold records are gone after recovery.
	cold, err = m.ColdCount(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, cold)
}

func TestCleanupUnderCapIsNoop(t *testing.T) {
	db := openTestDB(t)
	st := store.New(nil)
	sess := models.NewSession("s", "u1")
	require.NoError(t, st.PutSession(sess))
	seedMessages(t, st, sess.ID, 10)

	m := NewManager(db, st, nil)
	m.CleanupStorage()
	assert.Equal(t, 10, st.MessageCount(sess.ID))
	cold, err := m.ColdCount(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, cold)
}

func TestRepeatedCleanupContinuesChunkNumbering(t *testing.T) {
	db := openTestDB(t)
	st := store.New(nil)
	sess := models.NewSession("s", "u1")
	require.NoError(t, st.PutSession(sess))

	m := NewManager(db, st, nil)

	first := seedMessages(t, st, sess.ID, 70)
	m.CleanupStorage() // 20 out, 50 hot

	// Another 30 arrive on top of the 50 hot ones.
	base := first[len(first)-1].Timestamp
	for i := 0; i < 30; i++ {
		msg := models.NewMessage(sess.ID, fmt.Sprintf("later %03d", i), models.RoleUser)
		msg.Timestamp = base.Add(time.Duration(i+1) * time.Minute)
		require.NoError(t, st.AppendMessage(msg))
	}
	m.CleanupStorage() // another 30 out

	cold, err := m.ColdCount(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, cold)

	recovered, err := m.LoadOlderMessages(sess.ID)
	require.NoError(t, err)
	assert.Len(t, recovered, 100)
	for i := 1; i < len(recovered); i++ {
		assert.False(t, recovered[i].Timestamp.Before(recovered[i-1].Timestamp),
			"recovered messages must stay in timestamp order")
	}
}

func TestLoadOlderWithNothingTiered(t *testing.T) {
	db := openTestDB(t)
	st := store.New(nil)
	sess := models.NewSession("s", "u1")
	require.NoError(t, st.PutSession(sess))
	seedMessages(t, st, sess.ID, 3)

	m := NewManager(db, st, nil)
	recovered, err := m.LoadOlderMessages(sess.ID)
	require.NoError(t, err)
	assert.Len(t, recovered, 3)
}

func TestDropSession(t *testing.T) {
	db := openTestDB(t)
	st := store.New(nil)
	sess := models.NewSession("s", "u1")
	require.NoError(t, st.PutSession(sess))
	seedMessages(t, st, sess.ID, 60)

	m := NewManager(db, st, nil)
	m.CleanupStorage()
	require.NoError(t, m.DropSession(sess.ID))

	cold, err := m.ColdCount(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, cold)
}

func TestCustomLimits(t *testing.T) {
	db := openTestDB(t)
	st := store.New(nil)
	sess := models.NewSession("s", "u1")
	require.NoError(t, st.PutSession(sess))
	seedMessages(t, st, sess.ID, 10)

	m := NewManager(db, st, nil)
	m.SetLimits(4, 3)
	m.CleanupStorage()

	assert.Equal(t, 4, st.MessageCount(sess.ID))
	cold, err := m.ColdCount(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, cold)

	recovered, err := m.LoadOlderMessages(sess.ID)
	require.NoError(t, err)
	assert.Len(t, recovered, 10)
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)

	_, ok, err := db.LoadSnapshot()
	require.NoError(t, err)
	assert.False(t, ok, "fresh database has no snapshot")

	sess := models.NewSession("persisted", "u1")
	sess.Tags = []string{"work"}
	cursor := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.SaveSnapshot(Snapshot{
		Sessions:  []models.Session{sess},
		CurrentID: sess.ID,
		Cursor:    cursor,
	}))

	snap, ok, err := db.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, "persisted", snap.Sessions[0].Title)
	assert.Equal(t, []string{"work"}, snap.Sessions[0].Tags)
	assert.Equal(t, sess.ID, snap.CurrentID)
	assert.True(t, snap.Cursor.Equal(cursor))
	assert.False(t, snap.SavedAt.IsZero())

	// Saving again overwrites rather than accumulating.
	require.NoError(t, db.SaveSnapshot(Snapshot{Cursor: cursor}))
	snap, ok, err = db.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, snap.Sessions)
}
