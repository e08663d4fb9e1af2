// SPDX-License-Identifier: MPL-2.0

package scripting

import (
	"context"
	"fmt"

	"github.com/echoninelabs/kite/internal/discovery"
	"github.com/echoninelabs/kite/pkg/compiler"
)

// Compile runs the pipeline for name up to the artifact cache without
// evaluating the script. It reports whether the artifact was already
// cached. The registry is not touched, so loaded scripts keep running.
func (m *Manager) Compile(ctx context.Context, name discovery.ScriptName) (cacheHit bool, err error) {
	unit, err := m.find(name)
	if err != nil {
		return false, err
	}
	j := m.newJob(unit)
	j.compileOnly = true
	m.jobs.Add(1)
	defer m.jobs.Done()
	if _, err := j.run(ctx); err != nil {
		return false, err
	}
	return j.cacheHit, nil
}

// Classpath resolves the dependencies name and its imports declare and
// returns the resulting classpath, shared libraries included.
func (m *Manager) Classpath(ctx context.Context, name discovery.ScriptName) ([]string, []compiler.Diagnostic, error) {
	unit, err := m.find(name)
	if err != nil {
		return nil, nil, err
	}
	j := m.newJob(unit)

	dirs, diags, err := m.opts.Compiler.Scan(ctx, unit.EntryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", unit.EntryPath, err)
	}
	j.add(diags...)
	closure, err := resolveImports(ctx, m.opts.Compiler, unit.EntryPath, dirs)
	if err != nil {
		return nil, j.diags, err
	}
	j.add(closure.Diagnostics...)
	if compiler.HasFailure(j.diags) {
		return nil, j.diags, j.failure()
	}
	cp, err := j.resolveDependencies(ctx, closure.Directives)
	return cp, j.diags, err
}

func (m *Manager) find(name discovery.ScriptName) (discovery.Unit, error) {
	if err := name.Validate(); err != nil {
		return discovery.Unit{}, err
	}
	unit, ok, err := discovery.Find(m.opts.ScriptsDir, name)
	if err != nil {
		return discovery.Unit{}, err
	}
	if !ok {
		return discovery.Unit{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return unit, nil
}
