package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/core/models"
)

var sendSession string

var sendCmd = &cobra.Command{
	Use:   "send <message...>",
	Short: "Send a message and stream the reply",
	Long: `Send a message to the active session (or --session) and print the
assistant's reply as it streams in. Offline sends are queued and replayed
by the daemon once you log back in.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendSession, "session", "", "Target session id (defaults to the active session)")
}

func runSend(cmd *cobra.Command, args []string) error {
	e, cleanup, err := newEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	sessionID := sendSession
	if sessionID == "" {
		sessionID = e.Store().CurrentID()
	}
	if sessionID == "" {
		sess, err := e.CreateSession(context.Background(), "")
		if err != nil {
			return err
		}
		sessionID = sess.ID
	}

	content := strings.Join(args, " ")

	// Print streaming content as the store updates.
	printed := 0
	unsub := e.Store().Subscribe(func() {
		msg, ok := e.Store().StreamingMessage(sessionID)
		if !ok {
			return
		}
		if len(msg.Content) > printed {
			fmt.Print(msg.Content[printed:])
			printed = len(msg.Content)
		}
	})
	defer unsub()

	if err := e.SendMessage(context.Background(), sessionID, content); err != nil {
		fmt.Println()
		return err
	}

	msgs := e.Store().Messages(sessionID)
	if len(msgs) == 0 {
		return nil
	}
	last := msgs[len(msgs)-1]
	if last.Role == models.RoleAssistant && len(last.Content) > printed {
		fmt.Print(last.Content[printed:])
	}
	fmt.Println()
	if last.Status == models.StatusError {
		return fmt.Errorf("send failed: %s", e.Store().LastError())
	}
	return nil
}
