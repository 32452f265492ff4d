package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"cccopy/internal/events"
	"cccopy/internal/gitx"
	"cccopy/internal/refresh"
	"cccopy/internal/state"
	"cccopy/internal/syncer"
	"cccopy/internal/util"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Pull production changes into the work tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		out, err := app.pipe.Download()
		if err != nil {
			return err
		}
		printOutcome(out)
		return nil
	},
}

var uploadMessage string

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Push modified work files into production",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		message := uploadMessage
		if message == "" {
			message, err = cliPrompter{}.Input("Upload comment", "Upload from work directory")
			if err != nil {
				return err
			}
		}

		out, err := app.pipe.Upload(message)
		if err != nil {
			return err
		}
		printOutcome(out)
		return nil
	},
}

var saveMessage string

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Commit pending work-tree changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		message := saveMessage
		if message == "" {
			message, err = cliPrompter{}.Input("Commit message", "Work changes")
			if err != nil {
				return err
			}
		}

		out, err := app.pipe.Save(message)
		if err != nil {
			return err
		}
		printOutcome(out)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [dir]",
	Short: "Classify the files of one directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}

		sched := refresh.New(app.proj, app.cache, events.GlobalBus)
		sched.Start(cmd.Context())
		defer sched.Stop()

		done := make(chan struct{})
		if err := events.GlobalBus.Subscribe(events.EventRefreshDrained, func(uint64) {
			close(done)
		}); err != nil {
			return err
		}

		rows, _ := sched.Refresh(dir)
		if len(rows) == 0 {
			util.Default.Println("no project files here")
			return nil
		}
		<-done

		for _, row := range rows {
			if row.IsDir {
				fmt.Printf("           %s/\n", row.Path)
				continue
			}
			st := row.State
			if cached, ok := app.cache.GetState(app.proj.ProjectID, row.Path); ok {
				st = cached
			}
			fmt.Printf("%s %s\n", renderState(st), row.Path)
		}
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [work|production]",
	Short: "Show repository history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		which := "production"
		if len(args) == 1 {
			which = args[0]
		}

		var commits []gitx.Commit
		switch which {
		case "work":
			commits, err = app.pipe.WorkHistory(historyLimit)
		case "production":
			commits, err = app.pipe.ProductionHistory(historyLimit)
		default:
			return fmt.Errorf("unknown tree %q, want work or production", which)
		}
		if err != nil {
			return err
		}

		if len(commits) == 0 {
			fmt.Println("no commits yet")
			return nil
		}

		header := lipgloss.NewStyle().Bold(true)
		fmt.Println(header.Render(fmt.Sprintf("%-4s %-9s %-20s %-14s %s", "No", "Hash", "Date", "Author", "Message")))
		fmt.Println(strings.Repeat("─", 80))
		for i, c := range commits {
			msg := c.Message
			if len(msg) > 36 {
				msg = msg[:33] + "..."
			}
			fmt.Printf("%-4d %-9s %-20s %-14s %s\n", i+1, c.Hash, c.Date, c.Author, msg)
		}
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadMessage, "message", "m", "", "commit message for the upload")
	saveCmd.Flags().StringVarP(&saveMessage, "message", "m", "", "commit message for the save")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of commits to show")
}

var stateColors = map[state.FileState]string{
	state.Same:       "242",
	state.Modified:   "39",
	state.Updated:    "42",
	state.Conflicted: "196",
	state.Deleted:    "172",
	state.Pending:    "241",
}

func renderState(st state.FileState) string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(stateColors[st]))
	return style.Render(fmt.Sprintf("[%-10s]", st))
}

func printOutcome(out *syncer.Outcome) {
	switch out.Op {
	case "download":
		fmt.Printf("download complete: %d updated, %d locally modified kept, %d unchanged\n",
			out.Updated, out.Modified, out.Same)
		if len(out.NewFiles) > 0 {
			fmt.Printf("  %d new file(s) committed to the work tree\n", len(out.NewFiles))
		}
		for _, c := range out.Conflicts {
			fmt.Printf("  conflict: %s (resolve with your diff tool, then download again)\n", c.Path)
		}
	case "upload":
		fmt.Printf("upload complete: %d file(s)\n", out.Uploaded)
	case "save":
		fmt.Printf("saved %d file(s)\n", out.Modified)
	}
	for _, w := range out.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
}
