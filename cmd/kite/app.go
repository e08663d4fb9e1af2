// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/echoninelabs/kite/internal/config"
	"github.com/echoninelabs/kite/internal/host"
	"github.com/echoninelabs/kite/internal/issue"
	"github.com/echoninelabs/kite/internal/logging"
	"github.com/echoninelabs/kite/internal/scripting"
	"github.com/echoninelabs/kite/internal/shellscript"
	"github.com/echoninelabs/kite/pkg/artifactcache"
	"github.com/echoninelabs/kite/pkg/importsindex"
	"github.com/echoninelabs/kite/pkg/mavenresolve"
)

type (
	// App is the composition root shared by every command handler.
	App struct {
		Config config.Provider
		stdout io.Writer
		stderr io.Writer
		flags  rootFlags
	}

	// Dependencies are the injection points of NewApp. Nil fields get
	// production defaults.
	Dependencies struct {
		Config config.Provider
		Stdout io.Writer
		Stderr io.Writer
	}

	rootFlags struct {
		configPath string
		verbose    bool
	}

	// engine is the assembled script runtime.
	engine struct {
		cfg      *config.Config
		paths    config.Paths
		logs     *logging.Factory
		logger   *slog.Logger
		host     *host.Host
		resolver *mavenresolve.Resolver
		cache    *artifactcache.Cache
		index    *importsindex.Index
		manager  *scripting.Manager
	}
)

// NewApp fills in defaults for deps.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config: deps.Config,
		stdout: deps.Stdout,
		stderr: deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	return a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.flags.configPath})
}

func (a *App) loggers(cfg *config.Config) (*logging.Factory, error) {
	level := cfg.Log.Level
	if a.flags.verbose {
		level = "debug"
	}
	return logging.NewFactory(a.stderr, logging.Options{
		Level:      level,
		Format:     logging.Format(cfg.Log.Format),
		Timestamps: true,
	})
}

// newEngine creates the directories and wires every component. The
// caller must Close the engine.
func (a *App) newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	paths, err := cfg.Paths()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(paths.Scripts, 0o755); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("create scripts directory").
			WithResource(paths.Scripts).
			WithIssue(issue.ScriptsDirUnreadableId).
			Wrap(err).
			BuildError()
	}
	for _, dir := range []string{paths.Cache, paths.Dependencies} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	logs, err := a.loggers(cfg)
	if err != nil {
		return nil, err
	}
	e := &engine{
		cfg:    cfg,
		paths:  paths,
		logs:   logs,
		logger: logs.For("kite"),
		cache:  artifactcache.New(paths.Cache),
		index:  importsindex.Open(filepath.Join(paths.Cache, importsindex.FileName), logs.For("cache")),
	}

	e.resolver, err = mavenresolve.New(mavenresolve.Options{
		Dir:                 paths.Dependencies,
		DefaultRepositories: cfg.RepositoryList(),
		Exclude:             cfg.Exclude,
		Timeout:             cfg.HTTP.Timeout,
		Retries:             cfg.HTTP.Retries,
		Logger:              logs.For("resolver"),
	})
	if err != nil {
		return nil, err
	}

	// The executor must outlive ctx so unload hooks run during shutdown.
	e.host = host.New(logs.For("host"))
	if err := e.host.Start(context.WithoutCancel(ctx)); err != nil {
		_ = e.resolver.Close()
		return nil, fmt.Errorf("start host: %w", err)
	}

	e.manager, err = scripting.NewManager(scripting.Options{
		Host:       e.host,
		Compiler:   shellscript.New(e.host.Executor(), shellscript.Options{Logger: logs.For("script")}),
		Resolver:   e.resolver,
		Cache:      e.cache,
		Index:      e.index,
		Logger:     logs.For("script-manager"),
		Workers:    cfg.Workers,
		ScriptsDir: paths.Scripts,
		LibsDir:    paths.Libs,
	})
	if err != nil {
		e.host.Close()
		_ = e.resolver.Close()
		return nil, err
	}
	return e, nil
}

// Close unloads every script before stopping the host.
func (e *engine) Close(ctx context.Context) {
	e.manager.Close(ctx)
	e.host.Close()
	if err := e.resolver.Close(); err != nil {
		e.logger.Debug("closing resolver", "error", err)
	}
}
