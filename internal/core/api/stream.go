package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// EventType discriminates SSE frames on the streaming endpoint.
type EventType string

const (
	EventContent  EventType = "content"
	EventMetadata EventType = "metadata"
	EventProgress EventType = "progress"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// StreamEvent is one decoded frame from the assistant response stream.
type StreamEvent struct {
	Type     EventType      `json:"type"`
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Progress int            `json:"progress,omitempty"`
	// ID is the server-issued message id, delivered on the done frame.
	ID  string `json:"id,omitempty"`
	Err string `json:"error,omitempty"`
}

// OpenStream requests the assistant response for an outgoing message and
// returns a channel of decoded events. The server speaks SSE: frames named
// "message" carry a typed payload (content, metadata, progress) and a final
// "done" frame carries the issued id. The channel closes when the stream
// ends for any reason; call cancel to abort the underlying request. Events
// after a done or error frame are not delivered.
func (c *Client) OpenStream(ctx context.Context, sessionID, content string) (<-chan StreamEvent, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)
	path := c.baseURL + "/api/sessions/" + url.PathEscape(sessionID) + "/stream?message=" + url.QueryEscape(content)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, nil, ErrUnauthorized
		case http.StatusNotFound:
			return nil, nil, ErrNotFound
		default:
			return nil, nil, fmt.Errorf("api: stream status %d", resp.StatusCode)
		}
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		// Content frames can carry large deltas; grow well past the
		// default 64KB line limit.
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

		var eventName string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if data == "" {
					continue
				}
				ev, ok := decodeEvent(eventName, data, c.log)
				eventName = ""
				if !ok {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Type == EventDone || ev.Type == EventError {
					return
				}
			case line == "":
				eventName = ""
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Debug("stream read ended", zap.Error(err))
		}
	}()
	return events, cancel, nil
}

// decodeEvent unmarshals a data payload. Frames named "message" carry their
// type inside the JSON; terminal frames (done, error) are typed by the event
// name itself.
func decodeEvent(name, data string, log *zap.Logger) (StreamEvent, bool) {
	var ev StreamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		log.Debug("dropping malformed stream frame", zap.Error(err))
		return StreamEvent{}, false
	}
	switch name {
	case "", "message":
		if ev.Type == "" {
			ev.Type = EventContent
		}
	default:
		ev.Type = EventType(name)
	}
	return ev, true
}
