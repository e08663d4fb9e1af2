// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/echoninelabs/kite/internal/config"
	"github.com/echoninelabs/kite/internal/console"
	"github.com/echoninelabs/kite/internal/issue"
	"github.com/echoninelabs/kite/internal/watch"
)

const shutdownTimeout = 30 * time.Second

type serveOptions struct {
	scriptsDir  string
	consolePort int
	noConsole   bool
	noWatch     bool
}

func newServeCommand(app *App) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load every script and keep them loaded until interrupted",
		Long: `Load every discoverable script, reload scripts whose files change and,
when enabled, accept management commands over SSH.

On interrupt every script is unloaded in reverse name order before kite
exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return wrapServiceError(runServe(cmd.Context(), app, opts), app.flags.verbose)
		},
	}
	cmd.Flags().StringVar(&opts.scriptsDir, "scripts-dir", "", "scripts directory (overrides scripts_dir)")
	cmd.Flags().IntVar(&opts.consolePort, "console-port", 0, "console port (overrides console.port)")
	cmd.Flags().BoolVar(&opts.noConsole, "no-console", false, "do not start the SSH console")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "do not reload scripts on file changes")
	return cmd
}

func (o serveOptions) apply(cfg *config.Config) {
	if o.scriptsDir != "" {
		cfg.ScriptsDir = o.scriptsDir
	}
	if o.consolePort != 0 {
		cfg.Console.Port = o.consolePort
		cfg.Console.Enabled = true
	}
	if o.noConsole {
		cfg.Console.Enabled = false
	}
	if o.noWatch {
		cfg.Watch.Enabled = false
	}
}

func runServe(ctx context.Context, app *App, opts serveOptions) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	opts.apply(cfg)

	e, err := app.newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		e.logger.Info("unloading scripts")
		e.Close(closeCtx)
	}()

	ctx, cancel := context.WithCancel(ctx)
	var watching sync.WaitGroup
	defer func() {
		cancel()
		watching.Wait()
	}()

	e.logger.Info("loading scripts", "dir", e.paths.Scripts)
	summary, err := e.manager.LoadAll(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("Loaded scripts:"), summary)

	watchErr := make(chan error, 1)
	if cfg.Watch.Enabled {
		w, err := watch.New(watch.Config{
			Dir:      e.paths.Scripts,
			Debounce: cfg.Watch.Debounce,
			Logger:   e.logs.For("watch"),
			OnChange: func(ctx context.Context, changed []string) error {
				e.manager.Refresh(ctx, changed)
				return nil
			},
		})
		if err != nil {
			return err
		}
		watching.Add(1)
		go func() {
			defer watching.Done()
			watchErr <- w.Run(ctx)
		}()
	}

	var consoleErr <-chan error
	if cfg.Console.Enabled {
		c, err := startConsole(ctx, app, e)
		if err != nil {
			return err
		}
		defer func() {
			if err := c.Stop(); err != nil {
				e.logger.Warn("stopping console", "error", err)
			}
		}()
		consoleErr = c.Err()
	}

	select {
	case <-ctx.Done():
		e.logger.Info("shutting down")
		return nil
	case err := <-watchErr:
		if err == nil {
			return nil
		}
		return fmt.Errorf("watching %s: %w", e.paths.Scripts, err)
	case err := <-consoleErr:
		return issue.NewErrorContext().
			WithOperation("serve console").
			WithIssue(issue.ConsoleStartFailedId).
			Wrap(err).
			BuildError()
	}
}

func startConsole(ctx context.Context, app *App, e *engine) (*console.Console, error) {
	c := console.New(console.Config{
		Host:               e.cfg.Console.Host,
		Port:               e.cfg.Console.Port,
		HostKeyPath:        e.paths.HostKey,
		AuthorizedKeysPath: e.cfg.Console.AuthorizedKeys,
		Logger:             e.logs.For("console"),
	}, e.manager, e.host.Commands())

	if err := c.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, issue.NewErrorContext().
			WithOperation("start console").
			WithResource(fmt.Sprintf("%s:%d", e.cfg.Console.Host, e.cfg.Console.Port)).
			WithSuggestion("Pick another port with --console-port").
			WithIssue(issue.ConsoleStartFailedId).
			Wrap(err).
			BuildError()
	}

	tok, err := c.IssueToken("serve")
	if err != nil {
		_ = c.Stop()
		return nil, err
	}
	fmt.Fprintf(app.stdout, "%s ssh -p %d kite@%s\n%s %s %s\n",
		SuccessStyle.Render("Console:"), c.Port(), e.cfg.Console.Host,
		SubtitleStyle.Render("Password:"), CmdStyle.Render(tok.Value),
		SubtitleStyle.Render("(valid until "+tok.ExpiresAt.Format(time.DateTime)+")"))
	return c, nil
}
