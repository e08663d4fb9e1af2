// SPDX-License-Identifier: MPL-2.0

package scripting

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/echoninelabs/kite/internal/discovery"
)

const (
	actionLoad action = iota + 1
	actionReload
	actionUnload
)

type action int

func (a action) String() string {
	switch a {
	case actionLoad:
		return "load"
	case actionReload:
		return "reload"
	case actionUnload:
		return "unload"
	default:
		return "none"
	}
}

// Refresh brings the registry in line with a set of changed files: loaded
// scripts whose entry or imports changed are reloaded, new units are
// loaded, and loaded units whose entry disappeared are unloaded. It waits
// for every started operation.
func (m *Manager) Refresh(ctx context.Context, changed []string) Summary {
	plan := m.plan(changed)

	var (
		mu      sync.Mutex
		summary Summary
		g       errgroup.Group
	)
	g.SetLimit(m.opts.Workers)
	for _, step := range plan {
		g.Go(func() error {
			var f *Future[bool]
			switch step.action {
			case actionLoad:
				f = m.Load(ctx, step.name)
			case actionReload:
				f = m.Reload(ctx, step.name)
			default:
				f = m.Unload(ctx, step.name)
			}
			ok, err := f.Wait(ctx)
			if err != nil && !errors.Is(err, ErrJobFailed) {
				m.logger.Warn("refresh skipped script", "script", step.name, "action", step.action, "error", err)
			}
			mu.Lock()
			summary.add(ok)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if summary.Total > 0 {
		m.logger.Info("scripts refreshed", "succeeded", summary.Succeeded, "failed", summary.Failed, "total", summary.Total)
	}
	return summary
}

type refreshStep struct {
	name   discovery.ScriptName
	action action
}

// plan maps changed paths to one action per script, in first-seen order.
func (m *Manager) plan(changed []string) []refreshStep {
	var (
		steps []refreshStep
		seen  = make(map[discovery.ScriptName]bool)
	)
	add := func(name discovery.ScriptName, a action) {
		if seen[name] {
			return
		}
		seen[name] = true
		steps = append(steps, refreshStep{name: name, action: a})
	}

	for _, path := range changed {
		for _, name := range m.Dependents(path) {
			add(name, actionReload)
		}

		name, ok := discovery.UnitForPath(m.opts.ScriptsDir, path)
		if !ok || name.Validate() != nil {
			continue
		}
		_, exists, err := discovery.Find(m.opts.ScriptsDir, name)
		if err != nil {
			m.logger.Warn("cannot inspect changed script", "script", name, "error", err)
			continue
		}
		switch loaded := m.IsLoaded(name); {
		case loaded && exists:
			add(name, actionReload)
		case loaded:
			add(name, actionUnload)
		case exists:
			add(name, actionLoad)
		}
	}
	return steps
}
