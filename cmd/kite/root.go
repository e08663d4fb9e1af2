// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "kite",
		Short: "Load, compile and hot-reload shell scripts",
		Long: TitleStyle.Render("kite") + SubtitleStyle.Render(" - script lifecycle and compilation cache") + `

kite discovers scripts in a directory, compiles them once, caches the
result by content, resolves their Maven dependencies and keeps them
loaded while their sources change.

` + SubtitleStyle.Render("Examples:") + `
  kite serve                Load every script and keep running
  kite list                 Show discoverable scripts
  kite compile greet        Warm the cache for one script
  kite deps greet           Print a script's classpath
  kite config show          Show the effective configuration`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&app.flags.configPath, "config", "", "config file (default is <config dir>/kite/config.cue)")
	root.PersistentFlags().BoolVarP(&app.flags.verbose, "verbose", "v", false, "enable debug logging and full error chains")

	root.AddCommand(
		newServeCommand(app),
		newListCommand(app),
		newCompileCommand(app),
		newDepsCommand(app),
		newCacheCommand(app),
		newConfigCommand(app),
		newIssueCommand(app),
	)
	return root
}

func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits the process on failure.
func Execute() {
	app := NewApp(Dependencies{})
	err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	)
	if err == nil {
		return
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		renderServiceError(app.stderr, svcErr)
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	os.Exit(1)
}
