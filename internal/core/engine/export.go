package engine

import (
	"encoding/json"
	"fmt"

	"github.com/cbroglie/mustache"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/core/models"
	"github.com/parleyhq/parley/internal/core/tier"
)

// DefaultTranscriptTemplate renders a session as markdown. Users can supply
// their own template through ExportSessionWith.
const DefaultTranscriptTemplate = `# {{title}}
{{#category}}Category: {{category}}
{{/category}}{{#has_tags}}Tags: {{tags}}
{{/has_tags}}
{{#messages}}
**{{role}}** ({{timestamp}}):

{{{content}}}

---
{{/messages}}`

// ExportSession renders a session transcript with the default template.
func (e *Engine) ExportSession(id string) (string, error) {
	return e.ExportSessionWith(id, DefaultTranscriptTemplate)
}

// ExportSessionWith renders a session transcript with a custom mustache
// template.
func (e *Engine) ExportSessionWith(id, template string) (string, error) {
	sess, ok := e.store.Session(id)
	if !ok {
		return "", fmt.Errorf("session not found: %s", id)
	}

	msgs := e.store.Messages(id)
	rendered := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		rendered = append(rendered, map[string]any{
			"role":      string(m.Role),
			"content":   m.Content,
			"timestamp": m.Timestamp.Format("2006-01-02 15:04"),
		})
	}

	tags := ""
	for i, t := range sess.Tags {
		if i > 0 {
			tags += ", "
		}
		tags += t
	}

	return mustache.Render(template, map[string]any{
		"title":    sess.Title,
		"category": sess.Category,
		"has_tags": len(sess.Tags) > 0,
		"tags":     tags,
		"messages": rendered,
	})
}

// ExportSnapshot serializes session metadata and the sync cursor for
// transfer to another machine. Message bodies are excluded, matching the
// persisted snapshot.
func (e *Engine) ExportSnapshot() ([]byte, error) {
	return json.MarshalIndent(tier.Snapshot{
		Sessions:  e.store.Sessions(),
		CurrentID: e.store.CurrentID(),
		Cursor:    e.coord.Cursor(),
	}, "", "  ")
}

// ImportSnapshot merges an exported snapshot into the local state. Malformed
// input returns false; nothing is applied in that case. Imported sessions go
// through the usual last-write-wins comparison against existing ones.
func (e *Engine) ImportSnapshot(data []byte) bool {
	var snap tier.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		e.log.Warn("import rejected: malformed snapshot", zap.Error(err))
		return false
	}
	valid := make([]models.Session, 0, len(snap.Sessions))
	for _, sess := range snap.Sessions {
		if err := sess.Validate(); err != nil {
			e.log.Warn("import rejected: invalid session", zap.Error(err))
			return false
		}
		valid = append(valid, sess)
	}

	var merged []models.Session
	for _, sess := range valid {
		local, ok := e.store.Session(sess.ID)
		if ok && !sess.UpdatedAt.After(local.UpdatedAt) {
			continue
		}
		merged = append(merged, sess)
	}
	e.store.ApplySessions(merged, nil)
	e.log.Info("snapshot imported",
		zap.Int("sessions", len(valid)),
		zap.Int("applied", len(merged)))
	return true
}
