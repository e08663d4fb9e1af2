// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/echoninelabs/kite/internal/discovery"
	"github.com/echoninelabs/kite/internal/issue"
	"github.com/echoninelabs/kite/pkg/artifactcache"
	"github.com/echoninelabs/kite/pkg/importsindex"
)

func newCacheCommand(app *App) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the compilation cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return wrapServiceError(runCacheList(cmd.Context(), app), app.flags.verbose)
		},
	})

	var all bool
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove artifacts of scripts that no longer exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return wrapServiceError(runCachePrune(cmd.Context(), app, all), app.flags.verbose)
		},
	}
	prune.Flags().BoolVar(&all, "all", false, "remove every artifact")
	cacheCmd.AddCommand(prune)

	return cacheCmd
}

func (a *App) openCache(ctx context.Context) (*artifactcache.Cache, string, error) {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return nil, "", err
	}
	paths, err := cfg.Paths()
	if err != nil {
		return nil, "", err
	}
	return artifactcache.New(paths.Cache), paths.Scripts, nil
}

func runCacheList(ctx context.Context, app *App) error {
	cache, _, err := app.openCache(ctx)
	if err != nil {
		return err
	}
	arts, err := cache.All()
	if err != nil {
		return cacheError("list cache", cache.Dir(), err)
	}
	if len(arts) == 0 {
		fmt.Fprintf(app.stdout, "Cache %s is empty\n", CmdStyle.Render(cache.Dir()))
		return nil
	}
	for _, a := range arts {
		fmt.Fprintf(app.stdout, "  %s %s %s\n",
			CmdStyle.Render(a.Name),
			SubtitleStyle.Render(a.Key.String()),
			SubtitleStyle.Render(a.CreatedAt.Format("2006-01-02 15:04:05")))
	}
	return nil
}

func runCachePrune(ctx context.Context, app *App, all bool) error {
	cache, scripts, err := app.openCache(ctx)
	if err != nil {
		return err
	}

	var keep []string
	if !all {
		res, err := discovery.Discover(scripts)
		if err != nil {
			return issue.NewErrorContext().
				WithOperation("list scripts").
				WithResource(scripts).
				WithIssue(issue.ScriptsDirUnreadableId).
				Wrap(err).
				BuildError()
		}
		for _, u := range res.Units {
			keep = append(keep, string(u.Name))
		}
	}

	removed, err := cache.PruneExcept(keep)
	if err != nil {
		return cacheError("prune cache", cache.Dir(), err)
	}

	index := importsindex.Open(filepath.Join(cache.Dir(), importsindex.FileName), nil)
	for _, name := range index.Names() {
		if all || !slices.Contains(keep, name) {
			if err := index.Delete(name); err != nil {
				return cacheError("update imports index", index.Path(), err)
			}
		}
	}

	for _, p := range removed {
		fmt.Fprintf(app.stdout, "  %s %s\n", WarningStyle.Render("-"), filepath.Base(p))
	}
	fmt.Fprintf(app.stdout, "%s %d artifact(s)\n", SuccessStyle.Render("Removed"), len(removed))
	return nil
}

func cacheError(op, path string, err error) error {
	return issue.NewErrorContext().
		WithOperation(op).
		WithResource(path).
		WithSuggestion("Check permissions of the cache directory").
		WithIssue(issue.CacheUnavailableId).
		Wrap(err).
		BuildError()
}
