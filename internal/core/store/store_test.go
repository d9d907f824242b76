package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/core/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(nil)
}

func TestPutAndGetSession(t *testing.T) {
	st := newTestStore(t)
	sess := models.NewSession("first", "u1")
	require.NoError(t, st.PutSession(sess))

	got, ok := st.Session(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "first", got.Title)

	_, ok = st.Session("nope")
	assert.False(t, ok)
}

func TestSessionsSortedPinnedFirst(t *testing.T) {
	st := newTestStore(t)
	old := models.NewSession("old", "u1")
	old.UpdatedAt = time.Now().Add(-time.Hour)
	recent := models.NewSession("recent", "u1")
	pinned := models.NewSession("pinned", "u1")
	pinned.IsPinned = true
	pinned.UpdatedAt = time.Now().Add(-2 * time.Hour)

	for _, s := range []models.Session{old, recent, pinned} {
		require.NoError(t, st.PutSession(s))
	}

	got := st.Sessions()
	require.Len(t, got, 3)
	assert.Equal(t, "pinned", got[0].Title)
	assert.Equal(t, "recent", got[1].Title)
	assert.Equal(t, "old", got[2].Title)
}

func TestRemoveSessionCascadesMessages(t *testing.T) {
	st := newTestStore(t)
	sess := models.NewSession("s", "u1")
	require.NoError(t, st.PutSession(sess))
	require.NoError(t, st.SetCurrent(sess.ID))
	require.NoError(t, st.AppendMessage(models.NewMessage(sess.ID, "hi", models.RoleUser)))

	require.True(t, st.RemoveSession(sess.ID))
	assert.Empty(t, st.Messages(sess.ID))
	assert.Equal(t, "", st.CurrentID())
}

func TestAppendMessageRequiresLiveSession(t *testing.T) {
	st := newTestStore(t)
	err := st.AppendMessage(models.NewMessage("ghost", "hi", models.RoleUser))
	assert.Error(t, err)
}

func TestSetMessagesSortsByTimestamp(t *testing.T) {
	st := newTestStore(t)
	sess := models.NewSession("s", "u1")
	require.NoError(t, st.PutSession(sess))

	now := time.Now()
	m1 := models.NewMessage(sess.ID, "second", models.RoleAssistant)
	m1.Timestamp = now.Add(time.Second)
	m2 := models.NewMessage(sess.ID, "first", models.RoleUser)
	m2.Timestamp = now

	require.NoError(t, st.SetMessages(sess.ID, []models.Message{m1, m2}))
	got := st.Messages(sess.ID)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, "second", got[1].Content)
}

func TestTagAndCategoryViews(t *testing.T) {
	st := newTestStore(t)
	a := models.NewSession("a", "u1")
	a.Tags = []string{"work"}
	a.Category = "projects"
	b := models.NewSession("b", "u1")
	b.Tags = []string{"home"}
	require.NoError(t, st.PutSession(a))
	require.NoError(t, st.PutSession(b))

	work := st.SessionsByTag("work")
	require.Len(t, work, 1)
	assert.Equal(t, "a", work[0].Title)

	proj := st.SessionsByCategory("projects")
	require.Len(t, proj, 1)
	assert.Equal(t, "a", proj[0].Title)
	assert.Empty(t, st.SessionsByCategory("none"))
}

func TestGetterCacheInvalidatedOnMutation(t *testing.T) {
	st := newTestStore(t)
	sess := models.NewSession("s", "u1")
	require.NoError(t, st.PutSession(sess))

	_ = st.Sessions()
	_ = st.SessionsByTag("work")
	assert.Greater(t, st.CacheSize(), 0)

	require.True(t, st.UpdateSession(sess.ID, func(s *models.Session) {
		s.Tags = append(s.Tags, "work")
	}))
	assert.Equal(t, 0, st.CacheSize())

	// The refreshed view sees the mutation despite the unchanged map length.
	assert.Len(t, st.SessionsByTag("work"), 1)
}

func TestApplySessionsChangeDetection(t *testing.T) {
	st := newTestStore(t)
	sess := models.NewSession("s", "u1")
	require.NoError(t, st.PutSession(sess))

	// Identical apply is a no-op.
	assert.False(t, st.ApplySessions([]models.Session{sess}, nil))

	renamed := sess
	renamed.Title = "renamed"
	assert.True(t, st.ApplySessions([]models.Session{renamed}, nil))

	got, _ := st.Session(sess.ID)
	assert.Equal(t, "renamed", got.Title)

	assert.True(t, st.ApplySessions(nil, []string{sess.ID}))
	assert.Equal(t, 0, st.SessionCount())
	assert.False(t, st.ApplySessions(nil, []string{sess.ID}))
}

func TestSubscribeNotify(t *testing.T) {
	st := newTestStore(t)
	var fired int
	unsub := st.Subscribe(func() { fired++ })

	require.NoError(t, st.PutSession(models.NewSession("s", "u1")))
	assert.Equal(t, 1, fired)

	unsub()
	require.NoError(t, st.PutSession(models.NewSession("t", "u1")))
	assert.Equal(t, 1, fired)
}

func TestBeginFinishSync(t *testing.T) {
	st := newTestStore(t)
	require.True(t, st.BeginSync())
	assert.False(t, st.BeginSync(), "re-entrant sync must be refused")
	assert.True(t, st.SyncStatus().IsSyncing)

	st.FinishSync(assert.AnError)
	status := st.SyncStatus()
	assert.False(t, status.IsSyncing)
	assert.NotEmpty(t, status.Error)
	assert.True(t, status.LastSyncTime.IsZero(), "failed sync must not advance cursor")

	require.True(t, st.BeginSync())
	st.FinishSync(nil)
	status = st.SyncStatus()
	assert.Empty(t, status.Error)
	assert.False(t, status.LastSyncTime.IsZero())
}

func TestStreamingMessageSingleton(t *testing.T) {
	st := newTestStore(t)
	sess := models.NewSession("s", "u1")
	require.NoError(t, st.PutSession(sess))

	m := models.NewMessage(sess.ID, "", models.RoleAssistant)
	m.IsStreaming = true
	require.NoError(t, st.AppendMessage(m))

	got, ok := st.StreamingMessage(sess.ID)
	require.True(t, ok)
	assert.Equal(t, m.ID, got.ID)

	st.UpdateMessage(sess.ID, m.ID, func(msg *models.Message) {
		msg.IsStreaming = false
	})
	_, ok = st.StreamingMessage(sess.ID)
	assert.False(t, ok)
}
