package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"cccopy/internal/config"
	"cccopy/internal/events"
	"cccopy/internal/gitx"
	"cccopy/internal/lockdir"
	"cccopy/internal/privilege"
	"cccopy/internal/refresh"
	"cccopy/internal/statecache"
	"cccopy/internal/syncer"
	"cccopy/internal/tui"
	"cccopy/internal/util"
)

// Exit codes for scripting around the CLI.
const (
	exitOK          = 0
	exitGeneric     = 1
	exitLockTimeout = 2
	exitGitError    = 3
	exitPermFatal   = 4
	exitConfigError = 5
)

var (
	flagTemplate  string
	flagProjectID int
)

var rootCmd = &cobra.Command{
	Use:   "cccopy",
	Short: "Team collaboration over two coordinated git trees",
	Long: `cccopy synchronizes a per-user work tree with a shared production tree
on a common filesystem, with no git server: download pulls production
changes in, upload pushes your modifications back under the production
lock, save checkpoints your work tree.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		sched := refresh.New(app.proj, app.cache, events.GlobalBus)
		sched.Start(cmd.Context())
		defer sched.Stop()

		watcher := refresh.NewWatcher(sched)
		go watcher.Run(cmd.Context())

		return tui.New(app.proj, sched, app.pipe).Run()
	},
}

// Execute runs the CLI and maps the error taxonomy onto exit codes.
func Execute(ctx context.Context) {
	rootCmd.PersistentFlags().StringVarP(&flagTemplate, "config", "c", "",
		"project template INI (default: ./cccopy.ini, then $CCCOPY_PROJECT_TEMPLATE_DIR)")
	rootCmd.PersistentFlags().IntVar(&flagProjectID, "project", 1,
		"numeric project id for the per-user settings store")

	rootCmd.AddCommand(downloadCmd, uploadCmd, saveCmd, statusCmd, historyCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cccopy: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, lockdir.ErrTimeout):
		return exitLockTimeout
	case gitx.IsGitError(err):
		return exitGitError
	case errors.Is(err, config.ErrConfig):
		return exitConfigError
	default:
		return exitGeneric
	}
}

// app bundles everything a command needs for one project session.
type app struct {
	proj  *config.Project
	cache *statecache.Cache
	pipe  *syncer.Pipeline
}

func newApp() (*app, error) {
	proj, err := loadProject()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(proj.CCCopyDir(), 0o755); err != nil {
		return nil, fmt.Errorf("%w: prepare %s: %v", config.ErrConfig, proj.CCCopyDir(), err)
	}
	cache, err := statecache.Open(filepath.Join(proj.CCCopyDir(), "cache.db"))
	if err != nil {
		return nil, err
	}

	audit := privilege.NewAuditLog(filepath.Join(proj.ProductionDir, ".cccopy", "audit.log"))
	pipe := syncer.New(proj, cache, events.GlobalBus, audit, cliPrompter{})

	return &app{proj: proj, cache: cache, pipe: pipe}, nil
}

func (a *app) Close() {
	_ = a.cache.Close()
}

// loadProject resolves the template path, overlays the per-user settings
// store and validates the result.
func loadProject() (*config.Project, error) {
	path := flagTemplate
	if path == "" {
		path = findTemplate()
	}
	if path == "" {
		return nil, fmt.Errorf("%w: no project template found; pass --config or create ./cccopy.ini", config.ErrConfig)
	}

	proj, err := config.LoadTemplate(path)
	if err != nil {
		return nil, err
	}
	if err := config.LoadUserSettings(proj, flagProjectID); err != nil {
		return nil, err
	}
	if err := proj.Validate(); err != nil {
		return nil, err
	}
	return proj, nil
}

func findTemplate() string {
	if _, err := os.Stat("cccopy.ini"); err == nil {
		return "cccopy.ini"
	}
	dir := os.Getenv("CCCOPY_PROJECT_TEMPLATE_DIR")
	if dir == "" {
		return ""
	}
	matches, _ := filepath.Glob(filepath.Join(config.ExpandPath(dir), "*.ini"))
	if len(matches) == 0 {
		return ""
	}
	return matches[0]
}

// cliPrompter asks on the terminal via promptui.
type cliPrompter struct{}

func (cliPrompter) Confirm(message string, def bool) bool {
	util.Default.Suspend()
	defer util.Default.Resume()

	prompt := promptui.Prompt{
		Label:     message,
		IsConfirm: true,
	}
	if def {
		prompt.Default = "y"
	}
	_, err := prompt.Run()
	return err == nil
}

func (cliPrompter) Input(message, def string) (string, error) {
	util.Default.Suspend()
	defer util.Default.Resume()

	prompt := promptui.Prompt{
		Label:   message,
		Default: def,
	}
	out, err := prompt.Run()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
