// SPDX-License-Identifier: MPL-2.0

package scripting

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/echoninelabs/kite/internal/discovery"
	"github.com/echoninelabs/kite/pkg/artifactcache"
	"github.com/echoninelabs/kite/pkg/compiler"
	"github.com/echoninelabs/kite/pkg/mavenresolve"
	"github.com/echoninelabs/kite/pkg/module"
)

// job compiles, evaluates and loads one unit.
type job struct {
	m     *Manager
	id    string
	unit  discovery.Unit
	start time.Time

	diags    []compiler.Diagnostic
	cacheHit bool
	// compileOnly stops after the artifact is cached.
	compileOnly bool
}

func (m *Manager) newJob(unit discovery.Unit) *job {
	return &job{m: m, id: uuid.NewString()[:8], unit: unit, start: time.Now()}
}

func (j *job) add(d ...compiler.Diagnostic) {
	j.diags = append(j.diags, d...)
}

func (j *job) warn(code, format string, args ...any) {
	j.add(compiler.Diagnostic{
		Severity: compiler.SeverityWarning,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Position: compiler.Position{File: j.unit.EntryPath},
	})
}

func (j *job) fail(code, format string, args ...any) error {
	j.add(compiler.Diagnostic{
		Severity: compiler.SeverityError,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Position: compiler.Position{File: j.unit.EntryPath},
	})
	return j.failure()
}

func (j *job) failure() error {
	return &JobError{Name: string(j.unit.Name), Diagnostics: j.diags}
}

// run executes the job and always emits exactly one diagnostic block.
func (j *job) run(ctx context.Context) (mod *module.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			j.m.logger.Debug("compile job panicked", "script", j.unit.Name, "stack", string(debug.Stack()))
			j.add(compiler.Diagnostic{
				Severity: compiler.SeverityFatal,
				Code:     CodeJobPanicked,
				Message:  fmt.Sprintf("unexpected panic: %v", r),
				Position: compiler.Position{File: j.unit.EntryPath},
			})
			mod, err = nil, j.failure()
		}
		j.m.sink.Emit(Block{
			JobID:       j.id,
			Script:      string(j.unit.Name),
			Diagnostics: j.diags,
			Succeeded:   err == nil,
			CacheHit:    j.cacheHit,
			Elapsed:     time.Since(j.start),
		})
	}()
	return j.execute(ctx)
}

func (j *job) execute(ctx context.Context) (*module.Module, error) {
	opts := j.m.opts
	name := string(j.unit.Name)

	dirs, diags, err := opts.Compiler.Scan(ctx, j.unit.EntryPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, j.fail(CodeScanFailed, "%v", err)
	}
	j.add(diags...)

	closure, err := resolveImports(ctx, opts.Compiler, j.unit.EntryPath, dirs)
	if err != nil {
		return nil, err
	}
	j.add(closure.Diagnostics...)
	if compiler.HasFailure(j.diags) {
		return nil, j.failure()
	}

	classpath, err := j.resolveDependencies(ctx, closure.Directives)
	if err != nil {
		return nil, err
	}

	imports := closure.Imports
	if err := opts.Index.Put(name, imports); err != nil {
		j.warn(CodeCache, "cannot update imports index: %v", err)
	}

	key, err := artifactcache.KeyForFiles(j.unit.EntryPath, imports)
	if err != nil {
		return nil, j.fail(CodeSourceUnreadable, "%v", err)
	}

	src := compiler.Source{
		Name:       name,
		EntryPath:  j.unit.EntryPath,
		Imports:    imports,
		Classpath:  classpath,
		Directives: closure.Directives,
	}
	artifact, err := j.artifact(ctx, src, key)
	if err != nil || j.compileOnly {
		return nil, err
	}
	return j.instantiate(ctx, src, artifact)
}

func (j *job) resolveDependencies(ctx context.Context, dirs compiler.Directives) ([]string, error) {
	opts := j.m.opts
	var classpath []string
	if len(dirs.Dependencies) > 0 {
		if opts.Resolver == nil {
			j.warn(CodeDependency, "%d dependencies declared but no resolver is configured", len(dirs.Dependencies))
		} else {
			req := mavenresolve.Request{
				Dependencies: dirs.Dependencies,
				Repositories: dirs.Repositories,
				BaseDir:      j.unit.Dir(),
			}
			for _, r := range dirs.Relocations {
				req.Relocations = append(req.Relocations, mavenresolve.Relocation{Pattern: r.Pattern, Replacement: r.Replacement})
			}
			res, err := opts.Resolver.Resolve(ctx, req)
			if err != nil {
				return nil, err
			}
			for _, w := range res.Warnings {
				j.warn(CodeDependency, "%s", w)
			}
			classpath = res.Classpath()
		}
	}

	libs, err := sharedLibraries(opts.LibsDir)
	if err != nil {
		j.warn(CodeDependency, "%v", err)
	}
	return append(classpath, libs...), nil
}

// artifact returns cached bytes for key or compiles and stores them. Cache
// failures only cost a recompile.
func (j *job) artifact(ctx context.Context, src compiler.Source, key artifactcache.Key) ([]byte, error) {
	cache := j.m.opts.Cache
	usable := true

	cached, ok, err := cache.Lookup(src.Name, key)
	switch {
	case err != nil:
		usable = false
		j.warn(CodeCache, "cache lookup failed, compiling from source: %v", err)
	case ok:
		data, err := cache.Read(cached)
		if err == nil {
			j.cacheHit = true
			return data, nil
		}
		usable = false
		j.warn(CodeCache, "cached artifact unreadable, compiling from source: %v", err)
	}

	out, err := j.m.opts.Compiler.Compile(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		j.add(compiler.Fatalf("compiler error: %v", err))
		return nil, j.failure()
	}
	j.add(out.Diagnostics...)
	if compiler.HasFailure(out.Diagnostics) || out.Artifact == nil {
		if !compiler.HasFailure(j.diags) {
			j.add(compiler.Fatalf("compiler produced no artifact"))
		}
		return nil, j.failure()
	}

	if usable {
		if _, err := cache.Store(src.Name, key, out.Artifact); err != nil {
			j.warn(CodeCache, "cannot store artifact: %v", err)
		} else if removed, err := cache.Prune(src.Name, key); err != nil {
			j.warn(CodeCache, "cannot prune stale artifacts: %v", err)
		} else if len(removed) > 0 {
			j.m.logger.Debug("pruned stale artifacts", "script", src.Name, "files", removed)
		}
	}
	return out.Artifact, nil
}

func (j *job) instantiate(ctx context.Context, src compiler.Source, artifact []byte) (*module.Module, error) {
	opts := j.m.opts
	mod := module.New(src.Name, src.EntryPath, opts.Host, opts.Logger)

	script, err := opts.Compiler.Evaluate(ctx, artifact, src, mod)
	if err != nil {
		j.release(ctx, mod)
		return nil, j.fail(CodeEvaluation, "%v", err)
	}
	mod.Attach(script)
	if err := mod.Load(ctx); err != nil {
		j.release(ctx, mod)
		return nil, j.fail(CodeLoadHook, "%v", err)
	}
	return mod, nil
}

// release unloads a module that never made it into the registry.
func (j *job) release(ctx context.Context, mod *module.Module) {
	if err := mod.Unload(context.WithoutCancel(ctx)); err != nil {
		j.m.logger.Warn("releasing failed script", "script", mod.Name(), "error", err)
	}
}
