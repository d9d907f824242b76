package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/core/models"
)

var (
	listLimit    int
	listTag      string
	listCategory string
	listArchived bool
	listSince    string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List chat sessions",
	Long: `List chat sessions, pinned first, then most recently updated.

Examples:
  parley list
  parley list --limit 10
  parley list --tag work
  parley list --since "2 days ago"`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of sessions to display")
	listCmd.Flags().StringVar(&listTag, "tag", "", "Filter by tag")
	listCmd.Flags().StringVar(&listCategory, "category", "", "Filter by category")
	listCmd.Flags().BoolVar(&listArchived, "archived", false, "Include archived sessions")
	listCmd.Flags().StringVar(&listSince, "since", "", `Only sessions updated since (e.g. "yesterday", "2 days ago")`)
}

func runList(cmd *cobra.Command, args []string) error {
	e, cleanup, err := newEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	var since time.Time
	if listSince != "" {
		w := when.New(nil)
		w.Add(en.All...)
		w.Add(common.All...)
		result, err := w.Parse(listSince, time.Now())
		if err != nil || result == nil {
			return fmt.Errorf("could not understand --since %q", listSince)
		}
		since = result.Time
	}

	var sessions []models.Session
	switch {
	case listTag != "":
		sessions = e.Store().SessionsByTag(listTag)
	case listCategory != "":
		sessions = e.Store().SessionsByCategory(listCategory)
	default:
		sessions = e.Store().Sessions()
	}

	shown := 0
	currentID := e.Store().CurrentID()
	for _, s := range sessions {
		if s.IsArchived && !listArchived {
			continue
		}
		if !since.IsZero() && s.UpdatedAt.Before(since) {
			continue
		}
		if shown >= listLimit {
			break
		}
		shown++

		marker := " "
		if s.ID == currentID {
			marker = "*"
		}
		var badges []string
		if s.IsPinned {
			badges = append(badges, "pinned")
		}
		if s.IsArchived {
			badges = append(badges, "archived")
		}
		if s.IsLocal {
			badges = append(badges, "unsynced")
		}
		badge := ""
		if len(badges) > 0 {
			badge = " [" + strings.Join(badges, ", ") + "]"
		}

		fmt.Printf("%s %s%s\n", marker, s.Title, badge)
		fmt.Printf("    ID: %s\n", s.ID)
		if len(s.Tags) > 0 {
			fmt.Printf("    Tags: %s\n", strings.Join(s.Tags, ", "))
		}
		if s.Category != "" {
			fmt.Printf("    Category: %s\n", s.Category)
		}
		fmt.Printf("    Messages: %d\n", e.Store().MessageCount(s.ID))
		if !s.UpdatedAt.IsZero() {
			fmt.Printf("    Updated: %s\n", humanize.Time(s.UpdatedAt))
		}
		fmt.Println()
	}

	if shown == 0 {
		fmt.Println("No sessions found. Run 'parley sync' to pull from the server.")
	}
	return nil
}
