package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusError   MessageStatus = "error"
)

// Message is a single entry in a session's conversation. Messages reference
// their session by id only. Within a session messages are ordered by
// Timestamp ascending, and at most one message has IsStreaming set.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId"`
	Content     string         `json:"content"`
	Role        Role           `json:"role"`
	Timestamp   time.Time      `json:"timestamp"`
	Status      MessageStatus  `json:"status"`
	IsStreaming bool           `json:"isStreaming,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewMessage creates a pending message with a fresh id.
func NewMessage(sessionID, content string, role Role) Message {
	return Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Content:   content,
		Role:      role,
		Timestamp: time.Now().UTC(),
		Status:    StatusPending,
	}
}

// Validate checks if the message has required fields
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.New("message id is required")
	}
	if m.SessionID == "" {
		return errors.New("message session id is required")
	}
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return errors.New("invalid message role")
	}
	return nil
}
