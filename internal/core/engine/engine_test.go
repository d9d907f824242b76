package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/core/auth"
	"github.com/parleyhq/parley/internal/core/config"
	"github.com/parleyhq/parley/internal/core/models"
	"github.com/parleyhq/parley/internal/core/tier"
)

func testConfig(t *testing.T, serverURL string) *config.Config {
	t.Helper()
	return &config.Config{
		ServerURL:    serverURL,
		DBPath:       filepath.Join(t.TempDir(), "parley.db"),
		SyncInterval: time.Minute,
	}
}

func newOfflineEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(testConfig(t, "http://localhost:0"), auth.StaticTokenSource(""), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestCreateSessionOfflineStaysLocal(t *testing.T) {
	e := newOfflineEngine(t)
	sess, err := e.CreateSession(context.Background(), "notes")
	require.NoError(t, err)
	assert.True(t, sess.IsLocal)

	got, ok := e.Store().Session(sess.ID)
	require.True(t, ok)
	assert.True(t, got.IsLocal)
}

func TestCreateSessionConfirmedByServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sess models.Session
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sess))
		sess.ID = "server-id"
		_ = json.NewEncoder(w).Encode(sess)
	}))
	defer srv.Close()

	e, err := New(testConfig(t, srv.URL), auth.StaticTokenSource("tok"), nil)
	require.NoError(t, err)
	defer e.Close()

	sess, err := e.CreateSession(context.Background(), "notes")
	require.NoError(t, err)
	assert.Equal(t, "server-id", sess.ID)
	assert.False(t, sess.IsLocal)

	_, ok := e.Store().Session("server-id")
	assert.True(t, ok)
	assert.Equal(t, 1, e.Store().SessionCount(), "local draft replaced, not duplicated")
}

func TestRenameAndTagOffline(t *testing.T) {
	e := newOfflineEngine(t)
	sess, err := e.CreateSession(context.Background(), "before")
	require.NoError(t, err)

	require.NoError(t, e.RenameSession(context.Background(), sess.ID, "after"))
	require.NoError(t, e.AddTag(context.Background(), sess.ID, "work"))
	require.NoError(t, e.AddTag(context.Background(), sess.ID, "work"), "re-adding a tag is a no-op")

	got, _ := e.Store().Session(sess.ID)
	assert.Equal(t, "after", got.Title)
	assert.Equal(t, []string{"work"}, got.Tags)
}

func TestBulkOperationsContinuePastFailures(t *testing.T) {
	e := newOfflineEngine(t)
	a, _ := e.CreateSession(context.Background(), "a")
	b, _ := e.CreateSession(context.Background(), "b")

	done := e.ArchiveSessions(context.Background(), []string{a.ID, "missing", b.ID})
	assert.Equal(t, 2, done)

	done = e.DeleteSessions(context.Background(), []string{a.ID, "missing"})
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, e.Store().SessionCount())
}

func TestSnapshotPersistsAcrossRestarts(t *testing.T) {
	cfg := testConfig(t, "http://localhost:0")

	e, err := New(cfg, auth.StaticTokenSource(""), nil)
	require.NoError(t, err)
	sess, err := e.CreateSession(context.Background(), "survives")
	require.NoError(t, err)
	require.NoError(t, e.Store().SetCurrent(sess.ID))
	require.NoError(t, e.Store().AppendMessage(models.NewMessage(sess.ID, "secret body", models.RoleUser)))
	require.NoError(t, e.Close())

	e2, err := New(cfg, auth.StaticTokenSource(""), nil)
	require.NoError(t, err)
	defer e2.Close()

	got, ok := e2.Store().Session(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "survives", got.Title)
	assert.Equal(t, sess.ID, e2.Store().CurrentID())
	assert.Equal(t, 0, e2.Store().MessageCount(sess.ID), "message bodies are not persisted in the snapshot")
}

func TestExportSessionTranscript(t *testing.T) {
	e := newOfflineEngine(t)
	sess, err := e.CreateSession(context.Background(), "puffins")
	require.NoError(t, err)
	require.NoError(t, e.AddTag(context.Background(), sess.ID, "birds"))
	require.NoError(t, e.Store().AppendMessage(models.NewMessage(sess.ID, "do puffins fly?", models.RoleUser)))
	require.NoError(t, e.Store().AppendMessage(models.NewMessage(sess.ID, "yes, clumsily", models.RoleAssistant)))

	out, err := e.ExportSession(sess.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "# puffins")
	assert.Contains(t, out, "Tags: birds")
	assert.Contains(t, out, "do puffins fly?")
	assert.Contains(t, out, "**assistant**")

	_, err = e.ExportSession("missing")
	assert.Error(t, err)
}

func TestImportSnapshot(t *testing.T) {
	e := newOfflineEngine(t)

	assert.False(t, e.ImportSnapshot([]byte("{not json")), "malformed input returns false")
	assert.False(t, e.ImportSnapshot([]byte(`{"sessions":[{"title":"no id"}]}`)), "invalid session returns false")

	existing, err := e.CreateSession(context.Background(), "mine")
	require.NoError(t, err)

	newer := existing
	newer.Title = "theirs"
	newer.UpdatedAt = existing.UpdatedAt.Add(time.Hour)
	incoming := models.NewSession("imported", "u2")
	incoming.IsLocal = false

	data, err := json.Marshal(tier.Snapshot{Sessions: []models.Session{newer, incoming}})
	require.NoError(t, err)
	require.True(t, e.ImportSnapshot(data))

	got, _ := e.Store().Session(existing.ID)
	assert.Equal(t, "theirs", got.Title, "newer imported copy wins")
	_, ok := e.Store().Session(incoming.ID)
	assert.True(t, ok)
}

func TestExportSnapshotExcludesMessageBodies(t *testing.T) {
	e := newOfflineEngine(t)
	sess, err := e.CreateSession(context.Background(), "s")
	require.NoError(t, err)
	require.NoError(t, e.Store().AppendMessage(models.NewMessage(sess.ID, "private text", models.RoleUser)))

	data, err := e.ExportSnapshot()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "private text")
	assert.Contains(t, string(data), sess.ID)
}

func TestSendMessageOfflineThroughEngine(t *testing.T) {
	e := newOfflineEngine(t)
	sess, err := e.CreateSession(context.Background(), "s")
	require.NoError(t, err)

	require.NoError(t, e.SendMessage(context.Background(), sess.ID, "hi"))
	assert.Equal(t, 2, e.Store().MessageCount(sess.ID), "optimistic user message plus queued notice")
	assert.Len(t, e.Queue().Pending(sess.ID), 1)
}

func TestReplayQueueThroughEngine(t *testing.T) {
	var posts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages"):
			posts++
			var msg models.Message
			_ = json.NewDecoder(r.Body).Decode(&msg)
			msg.ID = fmt.Sprintf("srv-%d", posts)
			msg.Status = models.StatusSent
			_ = json.NewEncoder(w).Encode(msg)
		case r.Method == http.MethodPost:
			var sess models.Session
			_ = json.NewDecoder(r.Body).Decode(&sess)
			_ = json.NewEncoder(w).Encode(sess)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer srv.Close()

	e, err := New(testConfig(t, srv.URL), auth.StaticTokenSource("tok"), nil)
	require.NoError(t, err)
	defer e.Close()

	sess, err := e.CreateSession(context.Background(), "s")
	require.NoError(t, err)
	msg := models.NewMessage(sess.ID, "queued earlier", models.RoleUser)
	require.NoError(t, e.Store().AppendMessage(msg))
	e.Queue().Enqueue(msg)

	e.ReplayQueue(context.Background())
	assert.Equal(t, 1, posts)
	assert.Equal(t, 0, e.Queue().Len())
}
