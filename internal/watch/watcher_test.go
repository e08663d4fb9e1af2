// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]string
	notify  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 16)}
}

func (r *recorder) onChange(_ context.Context, changed []string) error {
	r.mu.Lock()
	r.batches = append(r.batches, changed)
	r.mu.Unlock()
	r.notify <- struct{}{}
	return nil
}

func (r *recorder) next(t *testing.T) []string {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch delivered")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[len(r.batches)-1]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWatcher(t *testing.T, cfg Config) {
	t.Helper()
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("echo hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr int
	}{
		{"minimal", Config{Dir: "scripts"}, 0},
		{"custom globs", Config{Dir: "scripts", Patterns: []string{"**/*.kite.sh"}, Ignore: []string{"vendor/**"}}, 0},
		{"missing dir", Config{}, 1},
		{"empty pattern", Config{Dir: "scripts", Patterns: []string{""}}, 1},
		{"malformed globs", Config{Dir: " ", Patterns: []string{"[oops"}, Ignore: []string{"[x"}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == 0 {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var cfgErr *InvalidConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want *InvalidConfigError", err)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Error("error does not wrap ErrInvalidConfig")
			}
			if len(cfgErr.FieldErrors) != tt.wantErr {
				t.Errorf("got %d field errors, want %d: %v", len(cfgErr.FieldErrors), tt.wantErr, err)
			}
		})
	}
}

func TestBuiltinIgnores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rel  string
		want bool
	}{
		{".git/HEAD", true},
		{"tool/.idea/workspace.xml", true},
		{"hello.kite.sh.swp", true},
		{"hello.kite.sh~", true},
		{"#hello.kite.sh#", true},
		{"hello.kite.sh", false},
		{"tool/lib/util.sh", false},
	}
	for _, tt := range tests {
		if got := matchAny(BuiltinIgnores(), tt.rel); got != tt.want {
			t.Errorf("ignored(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}

	mutated := BuiltinIgnores()
	mutated[0] = "changed"
	if BuiltinIgnores()[0] == "changed" {
		t.Error("BuiltinIgnores() exposes the package slice")
	}
}

func TestWatcher_CoalescesBurst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, Config{Dir: dir, Debounce: 100 * time.Millisecond, Logger: quietLogger(), OnChange: rec.onChange})

	a := filepath.Join(dir, "a.kite.sh")
	b := filepath.Join(dir, "b.kite.sh")
	for _, p := range []string{a, b, a} {
		writeFile(t, p)
		time.Sleep(10 * time.Millisecond)
	}

	if got := rec.next(t); !slices.Equal(got, []string{a, b}) {
		t.Errorf("batch = %v, want [%s %s]", got, a, b)
	}
}

func TestWatcher_FiltersPatternsAndIgnores(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, Config{
		Dir:      dir,
		Patterns: []string{"**/*.kite.sh"},
		Ignore:   []string{"drafts/**"},
		Debounce: 50 * time.Millisecond,
		Logger:   quietLogger(),
		OnChange: rec.onChange,
	})

	writeFile(t, filepath.Join(dir, "notes.txt"))
	writeFile(t, filepath.Join(dir, "hello.kite.sh.swp"))
	writeFile(t, filepath.Join(dir, "drafts", "wip.kite.sh"))
	time.Sleep(20 * time.Millisecond)
	want := filepath.Join(dir, "hello.kite.sh")
	writeFile(t, want)

	if got := rec.next(t); !slices.Equal(got, []string{want}) {
		t.Errorf("batch = %v, want [%s]", got, want)
	}
}

func TestWatcher_PicksUpNewDirectoryUnits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, Config{Dir: dir, Debounce: 100 * time.Millisecond, Logger: quietLogger(), OnChange: rec.onChange})

	entry := filepath.Join(dir, "tool", "main.kite.sh")
	writeFile(t, entry)

	got := rec.next(t)
	if !slices.Contains(got, entry) {
		t.Errorf("batch = %v, want it to contain %s", got, entry)
	}

	helper := filepath.Join(dir, "tool", "util.sh")
	writeFile(t, helper)
	if got := rec.next(t); !slices.Equal(got, []string{helper}) {
		t.Errorf("batch = %v, want [%s]", got, helper)
	}
}

func TestWatcher_DefersWhileBusy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	release := make(chan struct{})
	var (
		mu      sync.Mutex
		batches [][]string
		active  int
		overlap bool
	)
	seen := make(chan struct{}, 4)
	startWatcher(t, Config{
		Dir:      dir,
		Debounce: 50 * time.Millisecond,
		Logger:   quietLogger(),
		OnChange: func(_ context.Context, changed []string) error {
			mu.Lock()
			active++
			overlap = overlap || active > 1
			batches = append(batches, changed)
			first := len(batches) == 1
			mu.Unlock()
			seen <- struct{}{}
			if first {
				<-release
			}
			mu.Lock()
			active--
			mu.Unlock()
			return errors.New("handler failures are logged")
		},
	})

	first := filepath.Join(dir, "first.kite.sh")
	second := filepath.Join(dir, "second.kite.sh")
	writeFile(t, first)
	<-seen
	writeFile(t, second)
	time.Sleep(200 * time.Millisecond)
	close(release)

	select {
	case <-seen:
	case <-time.After(5 * time.Second):
		t.Fatal("deferred batch never delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("OnChange calls overlapped")
	}
	if !slices.Contains(batches[1], second) {
		t.Errorf("second batch = %v, want it to contain %s", batches[1], second)
	}
}

func TestWatcher_RunTwice(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Dir: t.TempDir(), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if err := w.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestNew_MissingDirectory(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Dir: filepath.Join(t.TempDir(), "absent"), Logger: quietLogger()}); err == nil {
		t.Error("New() succeeded for a missing directory")
	}
}
