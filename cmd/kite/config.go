// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/echoninelabs/kite/internal/config"
)

// newConfigCommand creates the `kite config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage kite configuration",
		Long: `Manage kite configuration.

Configuration is stored in:
  - Linux: ~/.config/kite/config.cue
  - macOS: ~/Library/Application Support/kite/config.cue
  - Windows: %APPDATA%\kite\config.cue

Every key can be overridden with a KITE_ environment variable, for
example KITE_WORKERS=8 or KITE_CONSOLE_PORT=2424.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	var defaults bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return wrapServiceError(showConfig(cmd.Context(), app, defaults), app.flags.verbose)
		},
	}
	show.Flags().BoolVar(&defaults, "defaults", false, "show the built-in defaults instead")
	cfgCmd.AddCommand(show)

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return wrapServiceError(initConfig(app, force), app.flags.verbose)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration and data paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return wrapServiceError(showConfigPath(cmd.Context(), app), app.flags.verbose)
		},
	})

	return cfgCmd
}

// configFilePath returns the file kite reads, which may not exist yet.
func (a *App) configFilePath() (string, error) {
	if a.flags.configPath != "" {
		return filepath.Abs(a.flags.configPath)
	}
	return config.FilePath("")
}

func showConfig(ctx context.Context, app *App, defaults bool) error {
	if defaults {
		fmt.Fprint(app.stdout, config.GenerateCUE(config.DefaultConfig()))
		return nil
	}
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}

	path, err := app.configFilePath()
	if err != nil {
		return err
	}
	source := path
	if _, statErr := os.Stat(path); statErr != nil {
		source = "(using defaults)"
	}
	fmt.Fprintf(app.stdout, "// %s %s\n\n", TitleStyle.Render("Config file:"), source)
	fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
	return nil
}

func initConfig(app *App, force bool) error {
	path, err := app.configFilePath()
	if err != nil {
		return err
	}
	if err := config.WriteDefault(path, force); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			return fmt.Errorf("%w (use --force to overwrite)", err)
		}
		return err
	}
	fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}

func showConfigPath(ctx context.Context, app *App) error {
	path, err := app.configFilePath()
	if err != nil {
		return err
	}
	fmt.Fprintf(app.stdout, "%s %s\n", CmdStyle.Render("Config file:      "), path)

	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	paths, err := cfg.Paths()
	if err != nil {
		return err
	}
	for _, row := range []struct{ label, value string }{
		{"Data directory:   ", paths.Data},
		{"Scripts:          ", paths.Scripts},
		{"Cache:            ", paths.Cache},
		{"Dependencies:     ", paths.Dependencies},
		{"Shared libraries: ", paths.Libs},
		{"Console host key: ", paths.HostKey},
	} {
		fmt.Fprintf(app.stdout, "%s %s\n", CmdStyle.Render(row.label), row.value)
	}
	return nil
}
