package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/core/models"
)

var (
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrNotFound     = errors.New("api: not found")
	ErrConflict     = errors.New("api: conflict")
)

// TokenSource supplies the bearer token for outgoing requests. The engine
// never issues or refreshes tokens itself; an external collaborator owns
// that.
type TokenSource interface {
	// Token returns the current token and whether the client is
	// authenticated at all.
	Token() (string, bool)
}

// SessionPatch is a partial session update for PATCH /api/sessions/{id}.
// Nil fields are left untouched by the server.
type SessionPatch struct {
	Title      *string   `json:"title,omitempty"`
	IsPinned   *bool     `json:"isPinned,omitempty"`
	IsArchived *bool     `json:"isArchived,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
	Category   *string   `json:"category,omitempty"`
}

// Client talks to the chat server's REST and SSE endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	log        *zap.Logger
}

// NewClient creates an API client. httpClient may be nil for defaults; no
// request timeout is imposed here, timeout behavior belongs to the transport.
func NewClient(httpClient *http.Client, baseURL string, tokens TokenSource, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tokens:     tokens,
		log:        log,
	}
}

// ListSessions fetches sessions updated since the cursor. A zero cursor
// fetches everything.
func (c *Client) ListSessions(ctx context.Context, since time.Time) ([]models.Session, error) {
	path := "/api/sessions"
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}
	var out []models.Session
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSession posts a locally created session; the server echoes the
// canonical version.
func (c *Client) CreateSession(ctx context.Context, sess models.Session) (models.Session, error) {
	var out models.Session
	if err := c.do(ctx, http.MethodPost, "/api/sessions", sess, &out); err != nil {
		return models.Session{}, err
	}
	return out, nil
}

// UpdateSession applies a partial update to a session.
func (c *Client) UpdateSession(ctx context.Context, id string, patch SessionPatch) (models.Session, error) {
	var out models.Session
	if err := c.do(ctx, http.MethodPatch, "/api/sessions/"+url.PathEscape(id), patch, &out); err != nil {
		return models.Session{}, err
	}
	return out, nil
}

// DeleteSession archives/deletes a session server-side.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil)
}

// ListMessages fetches the full message list of a session.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	var out []models.Message
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PostMessage replays a queued message through the authenticated send
// endpoint; the server echoes the stored message with its issued id.
func (c *Client) PostMessage(ctx context.Context, sessionID string, msg models.Message) (models.Message, error) {
	var out models.Message
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, msg, &out); err != nil {
		return models.Message{}, err
	}
	return out, nil
}

// DeleteMessage removes a single message server-side.
func (c *Client) DeleteMessage(ctx context.Context, sessionID, messageID string) error {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/messages/" + url.PathEscape(messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var eb struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		if strings.TrimSpace(eb.Error) != "" {
			return fmt.Errorf("api: %d: %s", resp.StatusCode, eb.Error)
		}
		return fmt.Errorf("api: status %d", resp.StatusCode)
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.tokens == nil {
		return
	}
	if token, ok := c.tokens.Token(); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
