// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

var (
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("watcher already running")
	// ErrWatcherBroken wraps fsnotify errors the watcher cannot recover from.
	ErrWatcherBroken = errors.New("file watcher broken")
)

// Watcher coalesces filesystem events under a directory into debounced
// callbacks.
type Watcher struct {
	dir      string
	patterns []string
	ignores  []string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(ctx context.Context, changed []string) error

	fsw     *fsnotify.Watcher
	started atomic.Bool
}

// New validates cfg and registers every directory below cfg.Dir.
func New(cfg Config) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve watch directory: %w", err)
	}

	w := &Watcher{
		dir:      dir,
		patterns: cfg.Patterns,
		ignores:  append(BuiltinIgnores(), cfg.Ignore...),
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		onChange: cfg.OnChange,
	}
	if len(w.patterns) == 0 {
		w.patterns = DefaultPatterns
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}

	if w.fsw, err = fsnotify.NewWatcher(); err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := w.addTree(dir, nil); err != nil {
		if closeErr := w.fsw.Close(); closeErr != nil {
			w.logger.Warn("closing file watcher", "error", closeErr)
		}
		return nil, err
	}
	return w, nil
}

// Run delivers batches until ctx is done and returns nil then. A callback
// still running at cancellation is waited for. Run may be called once.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("closing file watcher", "error", err)
		}
	}()

	var (
		pending = make(map[string]struct{})
		quiet   = time.NewTimer(w.debounce)
		busy    bool
		done    = make(chan struct{})
	)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			if busy {
				<-done
			}
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("%w: event stream closed", ErrWatcherBroken)
			}
			if w.collect(evt, pending) {
				quiet.Reset(w.debounce)
			}

		case <-quiet.C:
			if len(pending) == 0 {
				continue
			}
			if busy {
				w.logger.Debug("previous change batch still running, deferring", "pending", len(pending))
				quiet.Reset(w.debounce)
				continue
			}
			changed := slices.Sorted(maps.Keys(pending))
			clear(pending)
			busy = true
			go func() {
				defer func() { done <- struct{}{} }()
				w.deliver(ctx, changed)
			}()

		case <-done:
			busy = false

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("%w: error stream closed", ErrWatcherBroken)
			}
			if isFatalWatchError(err) {
				if busy {
					<-done
				}
				return fmt.Errorf("%w: %w", ErrWatcherBroken, err)
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) deliver(ctx context.Context, changed []string) {
	if ctx.Err() != nil || w.onChange == nil {
		return
	}
	w.logger.Debug("scripts changed", "files", changed)
	if err := w.onChange(ctx, changed); err != nil {
		w.logger.Error("change handler failed", "error", err)
	}
}

// collect records evt in pending and reports whether anything was added.
// New directories are watched and their matching files recorded, since
// files created before the watch was added produce no events.
func (w *Watcher) collect(evt fsnotify.Event, pending map[string]struct{}) bool {
	if evt.Has(fsnotify.Chmod) && !evt.Has(fsnotify.Write) {
		return false
	}
	rel, ok := w.relative(evt.Name)
	if !ok || w.ignored(rel) {
		return false
	}

	added := false
	if evt.Has(fsnotify.Create) {
		if err := w.addTree(evt.Name, func(path string) {
			pending[path] = struct{}{}
			added = true
		}); err != nil {
			w.logger.Warn("cannot watch new directory", "path", evt.Name, "error", err)
		}
	}
	if w.matches(rel) {
		pending[evt.Name] = struct{}{}
		added = true
	}
	return added
}

// addTree watches root and every directory below it that is not ignored.
// When found is set it receives each matching file met on the way.
func (w *Watcher) addTree(root string, found func(path string)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && found == nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			w.logger.Debug("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		rel, ok := w.relative(path)
		if !ok {
			return nil
		}
		if !d.IsDir() {
			if found != nil && !w.ignored(rel) && w.matches(rel) {
				found(path)
			}
			return nil
		}
		if rel != "." && (w.ignored(rel) || w.ignored(rel+"/")) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || rel == ".." || (len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) ignored(rel string) bool {
	return matchAny(w.ignores, rel)
}

func (w *Watcher) matches(rel string) bool {
	return matchAny(w.patterns, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}
