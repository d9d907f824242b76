// Package tui is the interactive watch view: a live session list and
// conversation pane driven by store notifications.
package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/parleyhq/parley/internal/core/engine"
	"github.com/parleyhq/parley/internal/core/models"
)

type viewMode int

const (
	listView viewMode = iota
	chatView
)

type Model struct {
	engine  *engine.Engine
	changes chan struct{}
	unsub   func()

	mode     viewMode
	sessions []models.Session
	cursor   int
	viewport viewport.Model
	input    textinput.Model
	width    int
	height   int

	sending bool
	status  string
	err     error
}

func New(e *engine.Engine) Model {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 4000

	changes := make(chan struct{}, 1)
	unsub := e.Store().Subscribe(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})

	return Model{
		engine:   e,
		changes:  changes,
		unsub:    unsub,
		mode:     listView,
		sessions: e.Store().Sessions(),
		input:    input,
	}
}

// Run starts the program and blocks until the user quits.
func Run(e *engine.Engine) error {
	p := tea.NewProgram(New(e), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForChange(m.changes), syncNow(m.engine))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport = viewport.New(msg.Width, msg.Height-4)
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case storeChangedMsg:
		m.sessions = m.engine.Store().Sessions()
		if m.cursor >= len(m.sessions) {
			m.cursor = max(0, len(m.sessions)-1)
		}
		m.refreshViewport()
		return m, waitForChange(m.changes)

	case syncDoneMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.status = "synced"
			m.sessions = m.engine.Store().Sessions()
		}
		return m, nil

	case sessionOpenedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.mode = chatView
		m.input.Focus()
		m.refreshViewport()
		return m, textinput.Blink

	case sendDoneMsg:
		m.sending = false
		if msg.err != nil {
			m.err = msg.err
		}
		m.refreshViewport()
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Global keys
	switch msg.String() {
	case "ctrl+c":
		m.unsub()
		return m, tea.Quit
	}

	switch m.mode {
	case listView:
		return m.handleListKey(msg)
	case chatView:
		return m.handleChatKey(msg)
	}
	return m, nil
}

func (m Model) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.unsub()
		return m, tea.Quit

	case "j", "down":
		if m.cursor < len(m.sessions)-1 {
			m.cursor++
		}

	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}

	case "enter":
		if len(m.sessions) > 0 {
			return m, openSession(m.engine, m.sessions[m.cursor].ID)
		}

	case "p":
		if len(m.sessions) > 0 {
			sess := m.sessions[m.cursor]
			_ = m.engine.PinSession(context.Background(), sess.ID, !sess.IsPinned)
		}

	case "a":
		if len(m.sessions) > 0 {
			sess := m.sessions[m.cursor]
			_ = m.engine.ArchiveSession(context.Background(), sess.ID, !sess.IsArchived)
		}

	case "s":
		m.status = "syncing..."
		return m, syncNow(m.engine)

	case "n":
		sess, err := m.engine.CreateSession(context.Background(), "")
		if err != nil {
			m.err = err
			return m, nil
		}
		return m, openSession(m.engine, sess.ID)
	}
	return m, nil
}

func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = listView
		m.input.Blur()
		m.input.SetValue("")
		return m, nil

	case "enter":
		content := m.input.Value()
		if content == "" || m.sending {
			return m, nil
		}
		m.input.SetValue("")
		m.sending = true
		m.err = nil
		return m, sendMessage(m.engine, m.engine.Store().CurrentID(), content)

	case "ctrl+x":
		m.engine.CancelStreaming()
		return m, nil

	case "ctrl+o":
		return m, loadOlder(m.engine, m.engine.Store().CurrentID())
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
