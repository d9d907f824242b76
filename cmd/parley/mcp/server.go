package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/parleyhq/parley/internal/core/engine"
	"github.com/parleyhq/parley/internal/core/models"
)

// ListSessionsArgs defines arguments for the list_sessions tool
type ListSessionsArgs struct {
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Max sessions to return (default: 20)"`
	Tag      string `json:"tag,omitempty" jsonschema:"description=Filter by tag"`
	Category string `json:"category,omitempty" jsonschema:"description=Filter by category"`
}

// GetSessionArgs defines arguments for the get_session tool
type GetSessionArgs struct {
	SessionID      string `json:"session_id" jsonschema:"description=Session id to retrieve,required"`
	IncludeHistory bool   `json:"include_history,omitempty" jsonschema:"description=Also restore messages moved into cold storage"`
}

// SendMessageArgs defines arguments for the send_message tool
type SendMessageArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Target session id (a new session is created when omitted)"`
	Content   string `json:"content" jsonschema:"description=Message text to send,required"`
}

// SessionSummary represents a session in the list view
type SessionSummary struct {
	SessionID    string   `json:"session_id"`
	Title        string   `json:"title"`
	Tags         []string `json:"tags,omitempty"`
	Category     string   `json:"category,omitempty"`
	IsPinned     bool     `json:"is_pinned,omitempty"`
	IsArchived   bool     `json:"is_archived,omitempty"`
	MessageCount int      `json:"message_count"`
	UpdatedAt    string   `json:"updated_at"`
}

// MessageDetail represents a single message in a session
type MessageDetail struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// StartServer starts the MCP server over stdio against an already-built
// engine; the caller owns the engine's lifetime.
func StartServer(e *engine.Engine) error {
	s := server.NewMCPServer(
		"Parley",
		"1.0.0",
	)

	listTool := mcp.NewTool("list_sessions",
		mcp.WithDescription("List chat sessions, pinned first then most recently updated. Supports tag and category filtering."),
		mcp.WithNumber("limit",
			mcp.Description("Max sessions to return (default: 20)")),
		mcp.WithString("tag",
			mcp.Description("Filter by tag")),
		mcp.WithString("category",
			mcp.Description("Filter by category")),
	)
	s.AddTool(listTool, makeListSessionsHandler(e))

	getTool := mcp.NewTool("get_session",
		mcp.WithDescription("Retrieve one session with its messages"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session id to retrieve")),
		mcp.WithBoolean("include_history",
			mcp.Description("Also restore messages moved into cold storage")),
	)
	s.AddTool(getTool, makeGetSessionHandler(e))

	sendTool := mcp.NewTool("send_message",
		mcp.WithDescription("Send a message to a session and return the assistant's full reply. Offline sends are queued."),
		mcp.WithString("session_id",
			mcp.Description("Target session id (a new session is created when omitted)")),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Message text to send")),
	)
	s.AddTool(sendTool, makeSendMessageHandler(e))

	return server.ServeStdio(s)
}

func decodeArgs(request mcp.CallToolRequest, out any) error {
	argsBytes, _ := json.Marshal(request.Params.Arguments)
	return json.Unmarshal(argsBytes, out)
}

func makeListSessionsHandler(e *engine.Engine) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// Refresh from the server first so results aren't stale.
		_ = e.Synchronize(ctx)

		var args ListSessionsArgs
		if err := decodeArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		limit := args.Limit
		if limit == 0 {
			limit = 20
		}

		var sessions []models.Session
		switch {
		case args.Tag != "":
			sessions = e.Store().SessionsByTag(args.Tag)
		case args.Category != "":
			sessions = e.Store().SessionsByCategory(args.Category)
		default:
			sessions = e.Store().Sessions()
		}

		var results []SessionSummary
		for _, sess := range sessions {
			results = append(results, SessionSummary{
				SessionID:    sess.ID,
				Title:        sess.Title,
				Tags:         sess.Tags,
				Category:     sess.Category,
				IsPinned:     sess.IsPinned,
				IsArchived:   sess.IsArchived,
				MessageCount: e.Store().MessageCount(sess.ID),
				UpdatedAt:    sess.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
			})
			if len(results) >= limit {
				break
			}
		}

		resultJSON, err := json.Marshal(map[string]interface{}{
			"sessions": results,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}

func makeGetSessionHandler(e *engine.Engine) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args GetSessionArgs
		if err := decodeArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		sess, ok := e.Store().Session(args.SessionID)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", args.SessionID)), nil
		}
		if err := e.SwitchSession(ctx, sess.ID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to open session: %v", err)), nil
		}
		if args.IncludeHistory {
			if _, err := e.LoadOlderMessages(sess.ID); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to restore history: %v", err)), nil
			}
		}

		var msgs []MessageDetail
		for _, m := range e.Store().Messages(sess.ID) {
			msgs = append(msgs, MessageDetail{
				Role:      string(m.Role),
				Content:   m.Content,
				Timestamp: m.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
				Status:    string(m.Status),
			})
		}

		resultJSON, err := json.Marshal(map[string]interface{}{
			"session_id": sess.ID,
			"title":      sess.Title,
			"tags":       sess.Tags,
			"category":   sess.Category,
			"messages":   msgs,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}

func makeSendMessageHandler(e *engine.Engine) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args SendMessageArgs
		if err := decodeArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		if args.Content == "" {
			return mcp.NewToolResultError("content is required"), nil
		}

		sessionID := args.SessionID
		if sessionID == "" {
			sess, err := e.CreateSession(ctx, "")
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to create session: %v", err)), nil
			}
			sessionID = sess.ID
		}

		if err := e.SendMessage(ctx, sessionID, args.Content); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("send failed: %v", err)), nil
		}

		msgs := e.Store().Messages(sessionID)
		reply := ""
		if len(msgs) > 0 {
			reply = msgs[len(msgs)-1].Content
		}
		resultJSON, err := json.Marshal(map[string]interface{}{
			"session_id": sessionID,
			"reply":      reply,
			"queued":     e.Queue().Len() > 0,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}
