package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/core/models"
	"github.com/parleyhq/parley/internal/core/store"
)

type fakeFetcher struct {
	sessions []models.Session
	err      error
	calls    int
	gotSince time.Time
}

func (f *fakeFetcher) ListSessions(ctx context.Context, since time.Time) ([]models.Session, error) {
	f.calls++
	f.gotSince = since
	return f.sessions, f.err
}

type authedTokens struct{ ok bool }

func (a authedTokens) Token() (string, bool) { return "tok", a.ok }

func TestSynchronizeMergeLastWriteWins(t *testing.T) {
	st := store.New(nil)
	now := time.Now()

	stale := models.NewSession("stale local", "u1")
	stale.IsLocal = false
	stale.UpdatedAt = now.Add(-time.Hour)
	fresh := models.NewSession("fresh local", "u1")
	fresh.IsLocal = false
	fresh.UpdatedAt = now
	require.NoError(t, st.PutSession(stale))
	require.NoError(t, st.PutSession(fresh))

	remoteStale := stale
	remoteStale.Title = "server version"
	remoteStale.UpdatedAt = now

	remoteFresh := fresh
	remoteFresh.Title = "older server version"
	remoteFresh.UpdatedAt = now.Add(-time.Minute)

	brandNew := models.NewSession("brand new", "u1")
	brandNew.IsLocal = false

	f := &fakeFetcher{sessions: []models.Session{remoteStale, remoteFresh, brandNew}}
	c := NewCoordinator(st, f, authedTokens{ok: true}, nil)
	require.NoError(t, c.Synchronize(context.Background()))

	got, _ := st.Session(stale.ID)
	assert.Equal(t, "server version", got.Title, "newer remote overwrites")

	got, _ = st.Session(fresh.ID)
	assert.Equal(t, "fresh local", got.Title, "newer local survives")

	_, ok := st.Session(brandNew.ID)
	assert.True(t, ok, "unknown remote is inserted")
}

func TestSynchronizeTieKeepsLocal(t *testing.T) {
	st := store.New(nil)
	local := models.NewSession("local copy", "u1")
	local.IsLocal = false
	require.NoError(t, st.PutSession(local))

	remote := local
	remote.Title = "remote copy"

	f := &fakeFetcher{sessions: []models.Session{remote}}
	c := NewCoordinator(st, f, authedTokens{ok: true}, nil)
	require.NoError(t, c.Synchronize(context.Background()))

	got, _ := st.Session(local.ID)
	assert.Equal(t, "local copy", got.Title)
}

func TestSynchronizeRemovesAbsentExceptLocal(t *testing.T) {
	st := store.New(nil)
	confirmed := models.NewSession("confirmed", "u1")
	confirmed.IsLocal = false
	unconfirmed := models.NewSession("unconfirmed", "u1")
	require.True(t, unconfirmed.IsLocal)
	require.NoError(t, st.PutSession(confirmed))
	require.NoError(t, st.PutSession(unconfirmed))

	f := &fakeFetcher{}
	c := NewCoordinator(st, f, authedTokens{ok: true}, nil)
	require.NoError(t, c.Synchronize(context.Background()))

	_, ok := st.Session(confirmed.ID)
	assert.False(t, ok, "server-absent confirmed session is removed")
	_, ok = st.Session(unconfirmed.ID)
	assert.True(t, ok, "unconfirmed local session survives")
}

func TestSynchronizeSkipsWhenUnauthenticated(t *testing.T) {
	st := store.New(nil)
	f := &fakeFetcher{}
	c := NewCoordinator(st, f, authedTokens{ok: false}, nil)
	require.NoError(t, c.Synchronize(context.Background()))
	assert.Equal(t, 0, f.calls)
}

func TestSynchronizeFailureLeavesStateUntouched(t *testing.T) {
	st := store.New(nil)
	sess := models.NewSession("keep me", "u1")
	sess.IsLocal = false
	require.NoError(t, st.PutSession(sess))

	f := &fakeFetcher{err: errors.New("boom")}
	c := NewCoordinator(st, f, authedTokens{ok: true}, nil)
	assert.Error(t, c.Synchronize(context.Background()))

	_, ok := st.Session(sess.ID)
	assert.True(t, ok)
	status := st.SyncStatus()
	assert.NotEmpty(t, status.Error)
	assert.True(t, status.LastSyncTime.IsZero(), "failed sync must not advance the clock")
	assert.True(t, c.Cursor().IsZero(), "failed sync must not advance the cursor")

	// A later success clears the recorded error and advances the cursor.
	f.err = nil
	require.NoError(t, c.Synchronize(context.Background()))
	assert.Empty(t, st.SyncStatus().Error)
	assert.False(t, c.Cursor().IsZero())
}

func TestSynchronizePassesCursor(t *testing.T) {
	st := store.New(nil)
	f := &fakeFetcher{}
	c := NewCoordinator(st, f, authedTokens{ok: true}, nil)

	cursor := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c.SetCursor(cursor)
	require.NoError(t, c.Synchronize(context.Background()))
	assert.Equal(t, cursor, f.gotSince)
	assert.True(t, c.Cursor().After(cursor))
}
