// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/echoninelabs/kite/internal/discovery"
	"github.com/echoninelabs/kite/internal/issue"
	"github.com/echoninelabs/kite/pkg/artifactcache"
	"github.com/echoninelabs/kite/pkg/compiler"
)

func newListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discoverable scripts",
		Long: `List every script in the scripts directory. Scripts with a compiled
artifact in the cache are marked with a filled dot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return wrapServiceError(runList(cmd.Context(), app), app.flags.verbose)
		},
	}
}

func runList(ctx context.Context, app *App) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	paths, err := cfg.Paths()
	if err != nil {
		return err
	}
	res, err := discovery.Discover(paths.Scripts)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("list scripts").
			WithResource(paths.Scripts).
			WithIssue(issue.ScriptsDirUnreadableId).
			Wrap(err).
			BuildError()
	}
	for _, d := range res.Diagnostics {
		fmt.Fprintln(app.stderr, WarningStyle.Render(d.String()))
	}
	if len(res.Units) == 0 {
		fmt.Fprintf(app.stdout, "No scripts in %s\n", CmdStyle.Render(paths.Scripts))
		return nil
	}

	cached := map[string]bool{}
	if all, err := artifactcache.New(paths.Cache).All(); err == nil {
		for _, a := range all {
			cached[a.Name] = true
		}
	}

	fmt.Fprintln(app.stdout, TitleStyle.Render("Scripts")+" "+SubtitleStyle.Render(paths.Scripts))
	for _, u := range res.Units {
		mark := SubtitleStyle.Render("○")
		if cached[string(u.Name)] {
			mark = SuccessStyle.Render("●")
		}
		rel, err := filepath.Rel(paths.Scripts, u.EntryPath)
		if err != nil {
			rel = u.EntryPath
		}
		fmt.Fprintf(app.stdout, "  %s %s %s\n", mark, CmdStyle.Render(string(u.Name)), SubtitleStyle.Render(rel))
	}
	return nil
}

func newCompileCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "compile [name...]",
		Short: "Compile scripts into the cache without loading them",
		Long: `Compile the named scripts, or every script when none is named, and
store the artifacts in the cache. Scripts are not evaluated, so a
subsequent serve starts from a warm cache.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wrapServiceError(runCompile(cmd.Context(), app, args), app.flags.verbose)
		},
	}
}

func runCompile(ctx context.Context, app *App, args []string) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	e, err := app.newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close(context.WithoutCancel(ctx))

	names := make([]discovery.ScriptName, len(args))
	for i, a := range args {
		names[i] = discovery.ScriptName(a)
	}
	if len(names) == 0 {
		if names, err = e.manager.ListAvailable(); err != nil {
			return err
		}
	}

	var failed []error
	for _, name := range names {
		hit, err := e.manager.Compile(ctx, name)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed = append(failed, err)
			fmt.Fprintf(app.stdout, "  %s %s %s\n", ErrorStyle.Render("✗"), CmdStyle.Render(string(name)), err)
		case hit:
			fmt.Fprintf(app.stdout, "  %s %s %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(string(name)), SubtitleStyle.Render("(cached)"))
		default:
			fmt.Fprintf(app.stdout, "  %s %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(string(name)))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	if len(failed) == 1 {
		return &ExitError{Code: 1, Err: failed[0]}
	}
	return &ExitError{Code: 1, Err: fmt.Errorf("%d of %d scripts failed to compile", len(failed), len(names))}
}

func newDepsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "deps <name>",
		Short: "Resolve a script's dependencies and print its classpath",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wrapServiceError(runDeps(cmd.Context(), app, discovery.ScriptName(args[0])), app.flags.verbose)
		},
	}
}

func runDeps(ctx context.Context, app *App, name discovery.ScriptName) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	e, err := app.newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close(context.WithoutCancel(ctx))

	classpath, diags, err := e.manager.Classpath(ctx, name)
	for _, d := range diags {
		if d.Severity >= compiler.SeverityWarning {
			fmt.Fprintln(app.stderr, WarningStyle.Render(d.String()))
		}
	}
	if err != nil {
		return err
	}
	if len(classpath) == 0 {
		fmt.Fprintf(app.stdout, "%s declares no dependencies\n", CmdStyle.Render(string(name)))
		return nil
	}
	for _, p := range classpath {
		fmt.Fprintln(app.stdout, p)
	}
	return nil
}
