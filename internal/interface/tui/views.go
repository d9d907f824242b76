package tui

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/parleyhq/parley/internal/core/models"
)

func (m Model) View() string {
	switch m.mode {
	case chatView:
		return m.viewChat()
	default:
		return m.viewList()
	}
}

func (m Model) viewList() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("parley"))
	b.WriteString("\n\n")

	if len(m.sessions) == 0 {
		b.WriteString(itemStyle.Render("No sessions yet. Press n to start one, s to sync."))
		b.WriteString("\n")
	}

	for i, sess := range m.sessions {
		line := sess.Title
		if sess.IsPinned {
			line = "★ " + line
		}
		if sess.IsArchived {
			line += " (archived)"
		}
		if n := m.engine.Store().MessageCount(sess.ID); n > 0 {
			line += fmt.Sprintf("  ·  %d msgs", n)
		}
		if !sess.UpdatedAt.IsZero() {
			line += "  ·  " + humanize.Time(sess.UpdatedAt)
		}

		switch {
		case i == m.cursor:
			b.WriteString(selectedItemStyle.Render("> " + line))
		case sess.IsPinned:
			b.WriteString(itemStyle.Render(pinnedStyle.Render(line)))
		default:
			b.WriteString(itemStyle.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter open · n new · p pin · a archive · s sync · q quit"))
	return b.String()
}

func (m Model) viewChat() string {
	var b strings.Builder
	if sess, ok := m.engine.Store().CurrentSession(); ok {
		b.WriteString(titleStyle.Render(sess.Title))
	}
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString(" ")
	b.WriteString(helpStyle.Render("enter send · ctrl+x cancel · ctrl+o history · esc back"))
	return b.String()
}

func (m Model) statusLine() string {
	if m.err != nil {
		return errorStyle.Render("error: " + m.err.Error())
	}
	if lastErr := m.engine.Store().LastError(); lastErr != "" {
		return errorStyle.Render(lastErr)
	}
	status := m.engine.Store().SyncStatus()
	switch {
	case status.IsSyncing:
		return statusStyle.Render("syncing...")
	case m.sending:
		if p := m.engine.Store().StreamProgress(); p > 0 {
			return statusStyle.Render(fmt.Sprintf("streaming %d%%", p))
		}
		return statusStyle.Render("streaming...")
	case len(status.PendingSessionIDs) > 0:
		return statusStyle.Render(fmt.Sprintf("%d session(s) with queued messages", len(status.PendingSessionIDs)))
	case !status.LastSyncTime.IsZero():
		return statusStyle.Render("synced " + humanize.Time(status.LastSyncTime))
	default:
		return statusStyle.Render(m.status)
	}
}

// refreshViewport rebuilds the conversation pane from the store.
func (m *Model) refreshViewport() {
	id := m.engine.Store().CurrentID()
	if id == "" || m.viewport.Width == 0 {
		return
	}

	var b strings.Builder
	for _, msg := range m.engine.Store().Messages(id) {
		b.WriteString(renderMessage(msg))
		b.WriteString("\n\n")
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(b.String())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func renderMessage(msg models.Message) string {
	var header string
	switch msg.Role {
	case models.RoleUser:
		header = userStyle.Render("you")
	case models.RoleAssistant:
		header = assistantStyle.Render("assistant")
	default:
		header = string(msg.Role)
	}
	header += " " + timestampStyle.Render(msg.Timestamp.Format("15:04"))
	switch {
	case msg.IsStreaming:
		header += " " + statusStyle.Render("(streaming)")
	case msg.Status == models.StatusPending:
		header += " " + statusStyle.Render("(queued)")
	case msg.Status == models.StatusError:
		header += " " + errorStyle.Render("(failed)")
	}
	return header + "\n" + msg.Content
}
