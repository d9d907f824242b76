package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a new chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		title := strings.Join(args, " ")
		sess, err := e.CreateSession(context.Background(), title)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		if err := e.SwitchSession(context.Background(), sess.ID); err != nil {
			return err
		}
		fmt.Printf("Created session %s (%s)\n", sess.Title, sess.ID)
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <session-id> <title>",
	Short: "Rename a session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		return e.RenameSession(context.Background(), args[0], strings.Join(args[1:], " "))
	},
}

var pinCmd = &cobra.Command{
	Use:   "pin <session-id>...",
	Short: "Pin sessions to the top of the list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPinned(args, true)
	},
}

var unpinCmd = &cobra.Command{
	Use:   "unpin <session-id>...",
	Short: "Unpin sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPinned(args, false)
	},
}

func setPinned(ids []string, pinned bool) error {
	e, cleanup, err := newEngine()
	if err != nil {
		return err
	}
	defer cleanup()
	for _, id := range ids {
		if err := e.PinSession(context.Background(), id, pinned); err != nil {
			return err
		}
	}
	return nil
}

var archiveCmd = &cobra.Command{
	Use:   "archive <session-id>...",
	Short: "Archive sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		done := e.ArchiveSessions(context.Background(), args)
		fmt.Printf("Archived %d session(s)\n", done)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>...",
	Short: "Delete sessions and their stored messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		done := e.DeleteSessions(context.Background(), args)
		fmt.Printf("Deleted %d session(s)\n", done)
		return nil
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag <tag> <session-id>...",
	Short: "Add a tag to sessions",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		done := e.TagSessions(context.Background(), args[1:], args[0])
		fmt.Printf("Tagged %d session(s) with %q\n", done, args[0])
		return nil
	},
}

var untagCmd = &cobra.Command{
	Use:   "untag <tag> <session-id>...",
	Short: "Remove a tag from sessions",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		for _, id := range args[1:] {
			if err := e.RemoveTag(context.Background(), id, args[0]); err != nil {
				return err
			}
		}
		return nil
	},
}

var categoryCmd = &cobra.Command{
	Use:   "category <category> <session-id>...",
	Short: "Set the category on sessions",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		for _, id := range args[1:] {
			if err := e.SetCategory(context.Background(), id, args[0]); err != nil {
				return err
			}
		}
		return nil
	},
}

var switchCmd = &cobra.Command{
	Use:   "switch <session-id>",
	Short: "Make a session the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()
		if err := e.SwitchSession(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Switched to %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(newCmd, renameCmd, pinCmd, unpinCmd, archiveCmd, deleteCmd, tagCmd, untagCmd, categoryCmd, switchCmd)
}
