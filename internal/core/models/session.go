package models

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// DefaultTitle is the placeholder title given to freshly created sessions.
// Sessions still carrying it get a derived title after the first exchange.
const DefaultTitle = "New Chat"

// Session represents a chat session's metadata. Messages are kept separately
// in the message store, keyed by session id; a Session never holds message
// references.
type Session struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	UserID     string    `json:"userId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	IsPinned   bool      `json:"isPinned"`
	IsArchived bool      `json:"isArchived"`
	IsLocal    bool      `json:"isLocal,omitempty"` // created client-side, not yet confirmed by the server
	Tags       []string  `json:"tags,omitempty"`
	Category   string    `json:"category,omitempty"`
}

// NewSession creates a local, unconfirmed session with a fresh id.
func NewSession(title, userID string) Session {
	if title == "" {
		title = DefaultTitle
	}
	now := time.Now().UTC()
	return Session{
		ID:        uuid.NewString(),
		Title:     title,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		IsLocal:   true,
	}
}

// Validate checks if the session has required fields
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	if s.Title == "" {
		return errors.New("session title is required")
	}
	return nil
}

// HasTag reports whether the session carries the given tag.
func (s *Session) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Fingerprint hashes the merge-relevant fields. The sync coordinator compares
// fingerprints before and after a merge so the getter cache is only
// invalidated when a session actually changed.
func (s *Session) Fingerprint() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(s.ID)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(s.Title)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(s.UserID)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.FormatInt(s.UpdatedAt.UnixNano(), 10))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.FormatBool(s.IsPinned))
	_, _ = h.WriteString(strconv.FormatBool(s.IsArchived))
	_, _ = h.WriteString(strconv.FormatBool(s.IsLocal))
	_, _ = h.WriteString("\x00")
	tags := append([]string(nil), s.Tags...)
	sort.Strings(tags)
	_, _ = h.WriteString(strings.Join(tags, ","))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(s.Category)
	return h.Sum64()
}

// DeriveTitle builds a session title from the opening user message: the first
// maxLen characters, cut at a word boundary where possible.
func DeriveTitle(content string, maxLen int) string {
	content = strings.Join(strings.Fields(content), " ")
	if content == "" {
		return DefaultTitle
	}
	if len(content) <= maxLen {
		return content
	}
	truncated := content[:maxLen]
	if idx := strings.LastIndex(truncated, " "); idx > maxLen/2 {
		truncated = truncated[:idx]
	}
	return truncated + "..."
}
