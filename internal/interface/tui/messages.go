package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/parleyhq/parley/internal/core/engine"
)

// storeChangedMsg arrives whenever the engine's store notifies subscribers.
type storeChangedMsg struct{}

// syncDoneMsg reports a completed manual sync.
type syncDoneMsg struct{ err error }

// sendDoneMsg reports a finished streaming exchange.
type sendDoneMsg struct{ err error }

// sessionOpenedMsg reports a completed session switch.
type sessionOpenedMsg struct {
	id  string
	err error
}

func waitForChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

func syncNow(e *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		err := e.Synchronize(context.Background())
		e.ReplayQueue(context.Background())
		return syncDoneMsg{err: err}
	}
}

func openSession(e *engine.Engine, id string) tea.Cmd {
	return func() tea.Msg {
		return sessionOpenedMsg{id: id, err: e.SwitchSession(context.Background(), id)}
	}
}

func sendMessage(e *engine.Engine, sessionID, content string) tea.Cmd {
	return func() tea.Msg {
		return sendDoneMsg{err: e.SendMessage(context.Background(), sessionID, content)}
	}
}

func loadOlder(e *engine.Engine, sessionID string) tea.Cmd {
	return func() tea.Msg {
		_, err := e.LoadOlderMessages(sessionID)
		if err != nil {
			return sendDoneMsg{err: err}
		}
		return storeChangedMsg{}
	}
}
