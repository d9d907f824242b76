package devserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/core/api"
	"github.com/parleyhq/parley/internal/core/models"
)

func startServer(t *testing.T) (*Server, *api.Client) {
	t.Helper()
	s := New(nil)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return s, api.NewClient(nil, srv.URL, nil, nil)
}

func TestSessionLifecycle(t *testing.T) {
	_, client := startServer(t)
	ctx := context.Background()

	created, err := client.CreateSession(ctx, models.NewSession("lifecycle", "u1"))
	require.NoError(t, err)
	assert.False(t, created.IsLocal)

	title := "renamed"
	updated, err := client.UpdateSession(ctx, created.ID, api.SessionPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt) || updated.UpdatedAt.Equal(created.UpdatedAt))

	sessions, err := client.ListSessions(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	// A cursor after the update filters it out.
	sessions, err = client.ListSessions(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, sessions)

	require.NoError(t, client.DeleteSession(ctx, created.ID))
	err = client.DeleteSession(ctx, created.ID)
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestMessagePostAndDelete(t *testing.T) {
	_, client := startServer(t)
	ctx := context.Background()

	sess, err := client.CreateSession(ctx, models.NewSession("msgs", "u1"))
	require.NoError(t, err)

	posted, err := client.PostMessage(ctx, sess.ID, models.NewMessage(sess.ID, "hello", models.RoleUser))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, posted.Status)
	assert.NotEmpty(t, posted.ID)

	msgs, err := client.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, client.DeleteMessage(ctx, sess.ID, posted.ID))
	msgs, err = client.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStreamingEcho(t *testing.T) {
	_, client := startServer(t)
	ctx := context.Background()

	sess, err := client.CreateSession(ctx, models.NewSession("stream", "u1"))
	require.NoError(t, err)

	events, cancel, err := client.OpenStream(ctx, sess.ID, "hello there")
	require.NoError(t, err)
	defer cancel()

	var content string
	var sawProgress, sawMetadata bool
	var done api.StreamEvent
	for ev := range events {
		switch ev.Type {
		case api.EventContent:
			content += ev.Content
		case api.EventProgress:
			sawProgress = true
		case api.EventMetadata:
			sawMetadata = true
		case api.EventDone:
			done = ev
		}
	}
	assert.Equal(t, "You said: hello there", content)
	assert.True(t, sawProgress)
	assert.True(t, sawMetadata)
	assert.Equal(t, content, done.Content)
	assert.NotEmpty(t, done.ID)

	// Both sides of the exchange were stored.
	msgs, err := client.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
}

func TestStreamUnknownSession(t *testing.T) {
	_, client := startServer(t)
	_, _, err := client.OpenStream(context.Background(), "ghost", "hi")
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestStreamWireFormat(t *testing.T) {
	s := New(nil)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	sess := models.NewSession("wire", "u1")
	s.Seed(sess, nil)

	resp, err := http.Get(srv.URL + "/api/sessions/" + sess.ID + "/stream?message=ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	raw := string(body)

	// Deltas, progress, and metadata all travel as "message" frames with the
	// type embedded in the payload; only the terminal frame is named "done".
	assert.Contains(t, raw, "event:message")
	assert.Contains(t, raw, `"type":"content"`)
	assert.Contains(t, raw, `"type":"progress"`)
	assert.Contains(t, raw, `"type":"metadata"`)
	assert.Contains(t, raw, "event:done")
	assert.NotContains(t, raw, "event:content")
	assert.NotContains(t, raw, "event:progress")

	// The message query parameter is mandatory.
	resp, err = http.Get(srv.URL + "/api/sessions/" + sess.ID + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
