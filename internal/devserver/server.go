// Package devserver is an in-memory chat server used for local development
// and demos. It implements the same REST and SSE surface the real backend
// exposes, with a canned assistant that echoes slowly enough to exercise
// streaming.
package devserver

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/core/models"
)

type Server struct {
	log *zap.Logger

	mu       sync.Mutex
	sessions map[string]models.Session
	messages map[string][]models.Message
}

func New(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		log:      log,
		sessions: make(map[string]models.Session),
		messages: make(map[string][]models.Message),
	}
}

// Router builds the gin handler. Exposed separately from Run so tests can
// drive it with httptest.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	api := r.Group("/api")
	{
		api.GET("/sessions", s.listSessions)
		api.POST("/sessions", s.createSession)
		api.PATCH("/sessions/:id", s.updateSession)
		api.DELETE("/sessions/:id", s.deleteSession)
		api.GET("/sessions/:id/messages", s.listMessages)
		api.POST("/sessions/:id/messages", s.postMessage)
		api.DELETE("/sessions/:id/messages/:messageId", s.deleteMessage)
		api.GET("/sessions/:id/stream", s.stream)
	}
	return r
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.log.Info("dev server listening", zap.String("addr", addr))
	return s.Router().Run(addr)
}

func (s *Server) listSessions(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad since cursor"})
			return
		}
		since = parsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if since.IsZero() || sess.UpdatedAt.After(since) {
			out = append(out, sess)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) createSession(c *gin.Context) {
	var sess models.Session
	if err := c.ShouldBindJSON(&sess); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.IsLocal = false
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) updateSession(c *gin.Context) {
	var patch struct {
		Title      *string   `json:"title"`
		IsPinned   *bool     `json:"isPinned"`
		IsArchived *bool     `json:"isArchived"`
		Tags       *[]string `json:"tags"`
		Category   *string   `json:"category"`
	}
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if patch.Title != nil {
		sess.Title = *patch.Title
	}
	if patch.IsPinned != nil {
		sess.IsPinned = *patch.IsPinned
	}
	if patch.IsArchived != nil {
		sess.IsArchived = *patch.IsArchived
	}
	if patch.Tags != nil {
		sess.Tags = *patch.Tags
	}
	if patch.Category != nil {
		sess.Category = *patch.Category
	}
	sess.UpdatedAt = time.Now()
	s.sessions[sess.ID] = sess
	c.JSON(http.StatusOK, sess)
}

func (s *Server) deleteSession(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Param("id")
	if _, ok := s.sessions[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	c.Status(http.StatusNoContent)
}

func (s *Server) listMessages(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Param("id")
	if _, ok := s.sessions[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	msgs := s.messages[id]
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) postMessage(c *gin.Context) {
	var msg models.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Param("id")
	if _, ok := s.sessions[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	msg.ID = uuid.NewString()
	msg.SessionID = id
	msg.Status = models.StatusSent
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.messages[id] = append(s.messages[id], msg)
	s.touch(id)
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) deleteMessage(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Param("id")
	messageID := c.Param("messageId")
	msgs := s.messages[id]
	for i, m := range msgs {
		if m.ID == messageID {
			s.messages[id] = append(msgs[:i], msgs[i+1:]...)
			c.Status(http.StatusNoContent)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
}

// stream stores the user's message, then streams a canned echo back over
// SSE: "message" frames carrying typed payloads (content deltas, progress
// updates, a metadata frame) and a final "done" carrying the server-issued
// message id.
func (s *Server) stream(c *gin.Context) {
	content := c.Query("message")
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message query parameter is required"})
		return
	}

	s.mu.Lock()
	id := c.Param("id")
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	userMsg := models.Message{
		ID:        uuid.NewString(),
		SessionID: id,
		Content:   content,
		Role:      models.RoleUser,
		Timestamp: time.Now(),
		Status:    models.StatusSent,
	}
	s.messages[id] = append(s.messages[id], userMsg)
	s.touch(id)
	s.mu.Unlock()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	reply := "You said: " + content
	words := strings.Fields(reply)
	var streamed strings.Builder

	for i, word := range words {
		delta := word
		if i < len(words)-1 {
			delta += " "
		}
		streamed.WriteString(delta)
		writeEvent(c, "message", gin.H{"type": "content", "content": delta})
		writeEvent(c, "message", gin.H{"type": "progress", "progress": (i + 1) * 100 / len(words)})
		select {
		case <-c.Request.Context().Done():
			return
		case <-time.After(30 * time.Millisecond):
		}
	}

	writeEvent(c, "message", gin.H{"type": "metadata", "metadata": gin.H{"model": "dev-echo"}})

	assistantMsg := models.Message{
		ID:        uuid.NewString(),
		SessionID: id,
		Content:   streamed.String(),
		Role:      models.RoleAssistant,
		Timestamp: time.Now(),
		Status:    models.StatusSent,
	}
	s.mu.Lock()
	s.messages[id] = append(s.messages[id], assistantMsg)
	s.touch(id)
	s.mu.Unlock()

	writeEvent(c, "done", gin.H{"id": assistantMsg.ID, "content": assistantMsg.Content})
}

// touch bumps a session's UpdatedAt so since-cursor syncs pick it up.
// Callers hold s.mu.
func (s *Server) touch(id string) {
	sess := s.sessions[id]
	sess.UpdatedAt = time.Now()
	s.sessions[id] = sess
}

func writeEvent(c *gin.Context, name string, payload any) {
	c.SSEvent(name, payload)
	c.Writer.Flush()
}

// Seed preloads a session with messages, used by tests and demos.
func (s *Server) Seed(sess models.Session, msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.IsLocal = false
	s.sessions[sess.ID] = sess
	s.messages[sess.ID] = msgs
}
