// SPDX-License-Identifier: MPL-2.0

package scripting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/echoninelabs/kite/internal/discovery"
	"github.com/echoninelabs/kite/pkg/artifactcache"
	"github.com/echoninelabs/kite/pkg/compiler"
	"github.com/echoninelabs/kite/pkg/importsindex"
	"github.com/echoninelabs/kite/pkg/mavenresolve"
	"github.com/echoninelabs/kite/pkg/module"
)

const defaultWorkers = 4

const (
	slotCompiling slot = iota + 1
	slotLoaded
	slotUnloading
)

type (
	slot int

	// DependencyResolver turns dependency directives into classpath files.
	// *mavenresolve.Resolver implements it.
	DependencyResolver interface {
		Resolve(ctx context.Context, req mavenresolve.Request) (*mavenresolve.Result, error)
	}

	// Options wires a Manager to its collaborators.
	Options struct {
		Host     module.Host
		Compiler compiler.Compiler
		// Resolver may be nil, in which case declared dependencies are
		// reported as warnings.
		Resolver DependencyResolver
		Cache    *artifactcache.Cache
		Index    *importsindex.Index
		Logger   *slog.Logger
		// Workers bounds concurrent compile jobs; zero means 4.
		Workers    int
		ScriptsDir string
		// LibsDir holds jars appended to every script's classpath.
		LibsDir string
		// OnBlock observes every job's diagnostic block.
		OnBlock func(Block)
	}

	// Summary counts the outcome of a bulk operation.
	Summary struct {
		Succeeded int
		Failed    int
		Total     int
	}

	// Manager is the script registry and job scheduler.
	Manager struct {
		opts   Options
		logger *slog.Logger
		sink   *DiagnosticSink

		mu      sync.Mutex
		slots   map[discovery.ScriptName]slot
		modules map[discovery.ScriptName]*module.Module
		jobs    sync.WaitGroup
	}
)

// Validate reports every missing collaborator.
func (o Options) Validate() error {
	var errs []error
	if o.Host == nil {
		errs = append(errs, errors.New("host is required"))
	}
	if o.Compiler == nil {
		errs = append(errs, errors.New("compiler is required"))
	}
	if o.Cache == nil {
		errs = append(errs, errors.New("cache is required"))
	}
	if o.Index == nil {
		errs = append(errs, errors.New("imports index is required"))
	}
	if o.ScriptsDir == "" {
		errs = append(errs, errors.New("scripts directory is required"))
	}
	if o.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", o.Workers))
	}
	if len(errs) > 0 {
		return &InvalidOptionsError{FieldErrors: errs}
	}
	return nil
}

// NewManager validates opts and starts the diagnostic sink.
func NewManager(opts Options) (*Manager, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers == 0 {
		opts.Workers = defaultWorkers
	}
	return &Manager{
		opts:    opts,
		logger:  opts.Logger,
		sink:    NewDiagnosticSink(opts.Logger, opts.OnBlock),
		slots:   make(map[discovery.ScriptName]slot),
		modules: make(map[discovery.ScriptName]*module.Module),
	}, nil
}

func (s Summary) String() string {
	return fmt.Sprintf("%d/%d succeeded, %d failed", s.Succeeded, s.Total, s.Failed)
}

func (s *Summary) add(ok bool) {
	s.Total++
	if ok {
		s.Succeeded++
	} else {
		s.Failed++
	}
}

// LoadAll discovers every unit and loads those not already held, at most
// Workers at a time.
func (m *Manager) LoadAll(ctx context.Context) (Summary, error) {
	res, err := discovery.Discover(m.opts.ScriptsDir)
	if err != nil {
		return Summary{}, err
	}
	for _, d := range res.Diagnostics {
		m.logger.Warn(d.Message, "code", d.Code, "path", d.Path)
	}

	var (
		mu      sync.Mutex
		summary Summary
		g       errgroup.Group
	)
	g.SetLimit(m.opts.Workers)
	for _, unit := range res.Units {
		if err := m.claim(unit.Name, slotCompiling, 0); err != nil {
			m.logger.Warn("skipping script", "script", unit.Name, "reason", err)
			mu.Lock()
			summary.add(false)
			mu.Unlock()
			continue
		}
		m.jobs.Add(1)
		g.Go(func() error {
			defer m.jobs.Done()
			err := m.compileAndRegister(ctx, unit)
			mu.Lock()
			summary.add(err == nil)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	m.logger.Info("scripts loaded", "succeeded", summary.Succeeded, "failed", summary.Failed, "total", summary.Total)
	return summary, ctx.Err()
}

// Load compiles and registers one script. The future is false with
// ErrAlreadyLoaded, ErrInProgress or ErrNotFound when nothing was started.
func (m *Manager) Load(ctx context.Context, name discovery.ScriptName) *Future[bool] {
	if err := name.Validate(); err != nil {
		return Resolved(false, err)
	}
	if err := m.claim(name, slotCompiling, 0); err != nil {
		return Resolved(false, err)
	}
	unit, ok, err := discovery.Find(m.opts.ScriptsDir, name)
	if err != nil || !ok {
		m.releaseSlot(name)
		if err == nil {
			err = fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Resolved(false, err)
	}

	f := newFuture[bool]()
	m.jobs.Add(1)
	go func() {
		defer m.jobs.Done()
		err := m.compileAndRegister(ctx, unit)
		f.resolve(err == nil, err)
	}()
	return f
}

// Unload runs the script's unload hooks, revokes its resources and drops
// it from the registry. Hook and revocation failures are logged; the
// script is unloaded regardless.
func (m *Manager) Unload(ctx context.Context, name discovery.ScriptName) *Future[bool] {
	if err := m.claim(name, slotUnloading, slotLoaded); err != nil {
		return Resolved(false, err)
	}
	m.mu.Lock()
	mod := m.modules[name]
	m.mu.Unlock()

	f := newFuture[bool]()
	m.jobs.Add(1)
	go func() {
		defer m.jobs.Done()
		m.unloadModule(ctx, name, mod)
		f.resolve(true, nil)
	}()
	return f
}

// Reload unloads then loads name. The load is not attempted when the
// unload was rejected.
func (m *Manager) Reload(ctx context.Context, name discovery.ScriptName) *Future[bool] {
	unload := m.Unload(ctx, name)
	select {
	case <-unload.Done():
		if unload.err != nil {
			return unload
		}
	default:
	}

	f := newFuture[bool]()
	go func() {
		if ok, err := unload.Wait(ctx); !ok {
			f.resolve(false, err)
			return
		}
		ok, err := m.Load(ctx, name).Wait(ctx)
		f.resolve(ok, err)
	}()
	return f
}

// ReloadAll reloads every script loaded when it is called.
func (m *Manager) ReloadAll(ctx context.Context) *Future[Summary] {
	names := m.ListLoaded()
	f := newFuture[Summary]()
	go func() {
		var (
			mu      sync.Mutex
			summary Summary
			g       errgroup.Group
		)
		g.SetLimit(m.opts.Workers)
		for _, name := range names {
			g.Go(func() error {
				ok, err := m.Reload(ctx, name).Wait(ctx)
				if err != nil {
					m.logger.Warn("reload failed", "script", name, "error", err)
				}
				mu.Lock()
				summary.add(ok)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		f.resolve(summary, ctx.Err())
	}()
	return f
}

// UnloadAll unloads every loaded script in reverse name order and waits.
func (m *Manager) UnloadAll(ctx context.Context) Summary {
	names := m.ListLoaded()
	slices.Reverse(names)
	var summary Summary
	for _, name := range names {
		ok, err := m.Unload(ctx, name).Wait(context.WithoutCancel(ctx))
		if err != nil {
			m.logger.Warn("unload skipped", "script", name, "error", err)
		}
		summary.add(ok)
	}
	return summary
}

// Close unloads everything, waits for running jobs and stops the sink.
func (m *Manager) Close(ctx context.Context) {
	m.UnloadAll(ctx)
	m.jobs.Wait()
	// jobs that finished after the first pass registered late
	m.UnloadAll(ctx)
	m.sink.Close()
}

// ListAvailable returns the names of every discoverable unit.
func (m *Manager) ListAvailable() ([]discovery.ScriptName, error) {
	res, err := discovery.Discover(m.opts.ScriptsDir)
	if err != nil {
		return nil, err
	}
	names := make([]discovery.ScriptName, 0, len(res.Units))
	for _, u := range res.Units {
		names = append(names, u.Name)
	}
	slices.Sort(names)
	return names, nil
}

// ListLoaded returns the registered names in lexical order.
func (m *Manager) ListLoaded() []discovery.ScriptName {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]discovery.ScriptName, 0, len(m.modules))
	for name := range m.modules {
		if m.slots[name] == slotLoaded {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// IsLoaded reports whether name is registered and idle.
func (m *Manager) IsLoaded(name discovery.ScriptName) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[name] == slotLoaded
}

// Module returns the registered module for name.
func (m *Manager) Module(name discovery.ScriptName) (*module.Module, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod, ok := m.modules[name]
	return mod, ok
}

// Dependents returns the loaded scripts whose recorded imports include path.
func (m *Manager) Dependents(path string) []discovery.ScriptName {
	var out []discovery.ScriptName
	for _, name := range m.opts.Index.Names() {
		if slices.Contains(m.opts.Index.Get(name), path) && m.IsLoaded(discovery.ScriptName(name)) {
			out = append(out, discovery.ScriptName(name))
		}
	}
	return out
}

// claim moves name into next. want is the state the slot must be in; zero
// means the name must be free.
func (m *Manager) claim(name discovery.ScriptName, next, want slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.slots[name]
	switch {
	case cur == want:
		m.slots[name] = next
		return nil
	case cur == slotCompiling || cur == slotUnloading:
		return fmt.Errorf("%w: %s", ErrInProgress, name)
	case cur == slotLoaded:
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, name)
	default:
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
}

func (m *Manager) releaseSlot(name discovery.ScriptName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, name)
}

// compileAndRegister runs a job for a claimed name and settles its slot.
func (m *Manager) compileAndRegister(ctx context.Context, unit discovery.Unit) error {
	mod, err := m.newJob(unit).run(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.slots, unit.Name)
		return err
	}
	m.slots[unit.Name] = slotLoaded
	m.modules[unit.Name] = mod
	return nil
}

func (m *Manager) unloadModule(ctx context.Context, name discovery.ScriptName, mod *module.Module) {
	if mod != nil {
		if err := mod.Unload(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("script unloaded with errors", "script", name, "error", err)
		} else {
			m.logger.Info("script unloaded", "script", name)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.modules, name)
	delete(m.slots, name)
}
