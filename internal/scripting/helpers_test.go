// SPDX-License-Identifier: MPL-2.0

package scripting

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/echoninelabs/kite/internal/discovery"
	"github.com/echoninelabs/kite/internal/host"
	"github.com/echoninelabs/kite/pkg/artifactcache"
	"github.com/echoninelabs/kite/pkg/compiler"
	"github.com/echoninelabs/kite/pkg/importsindex"
	"github.com/echoninelabs/kite/pkg/mavenresolve"
	"github.com/echoninelabs/kite/pkg/module"
)

// fakeCompiler understands a tiny line format:
//
//	#import <path>   relative import
//	#dep <coord>     dependency
//	SYNTAX           compile error
//	PANIC            panic during evaluation
//	FAIL_LOAD        load hook error after registering a command
type fakeCompiler struct {
	compiles  atomic.Int32
	evaluates atomic.Int32
	// gate, when set, blocks Compile until closed
	gate chan struct{}

	mu   sync.Mutex
	last compiler.Source
}

type fakeScript struct {
	rt   module.Runtime
	fail bool
}

func (c *fakeCompiler) Scan(_ context.Context, path string) (compiler.Directives, []compiler.Diagnostic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return compiler.Directives{}, nil, err
	}
	var dirs compiler.Directives
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if rest, ok := strings.CutPrefix(line, "#import "); ok {
			dirs.Imports = append(dirs.Imports, filepath.Join(filepath.Dir(path), rest))
		}
		if rest, ok := strings.CutPrefix(line, "#dep "); ok {
			dirs.Dependencies = append(dirs.Dependencies, rest)
		}
	}
	return dirs, nil, nil
}

func (c *fakeCompiler) Compile(ctx context.Context, src compiler.Source) (compiler.Output, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return compiler.Output{}, ctx.Err()
		}
	}
	c.compiles.Add(1)
	c.mu.Lock()
	c.last = src
	c.mu.Unlock()

	var buf bytes.Buffer
	for _, p := range append(append([]string(nil), src.Imports...), src.EntryPath) {
		data, err := os.ReadFile(p)
		if err != nil {
			return compiler.Output{}, err
		}
		if bytes.Contains(data, []byte("SYNTAX")) {
			return compiler.Output{Diagnostics: []compiler.Diagnostic{{
				Severity: compiler.SeverityError,
				Message:  "unexpected token",
				Position: compiler.Position{File: p, Line: 1},
			}}}, nil
		}
		buf.Write(data)
	}
	return compiler.Output{
		Artifact:    buf.Bytes(),
		Diagnostics: []compiler.Diagnostic{{Severity: compiler.SeverityInfo, Message: "compiled"}},
	}, nil
}

func (c *fakeCompiler) Evaluate(_ context.Context, artifact []byte, _ compiler.Source, rt module.Runtime) (module.Script, error) {
	c.evaluates.Add(1)
	if bytes.Contains(artifact, []byte("PANIC")) {
		panic("evaluation exploded")
	}
	return &fakeScript{rt: rt, fail: bytes.Contains(artifact, []byte("FAIL_LOAD"))}, nil
}

func (c *fakeCompiler) lastSource() compiler.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (s *fakeScript) OnLoad(context.Context) error {
	name := s.rt.Name()
	if _, err := s.rt.RegisterCommand(name, func(context.Context, []string) (string, error) {
		return "hello from " + name, nil
	}); err != nil {
		return err
	}
	if _, err := s.rt.Every(time.Hour, func(context.Context) {}); err != nil {
		return err
	}
	if s.fail {
		return errors.New("load refused")
	}
	return nil
}

func (s *fakeScript) OnUnload(context.Context) error { return nil }

// fakeResolver resolves every coordinate except those starting with "bad".
type fakeResolver struct {
	calls atomic.Int32
}

func (r *fakeResolver) Resolve(_ context.Context, req mavenresolve.Request) (*mavenresolve.Result, error) {
	r.calls.Add(1)
	res := &mavenresolve.Result{}
	for _, dep := range req.Dependencies {
		if strings.HasPrefix(dep, "bad") {
			res.Warnings = append(res.Warnings, mavenresolve.Warning{Subject: dep, Err: errors.New("not found in any repository")})
			continue
		}
		res.Artifacts = append(res.Artifacts, mavenresolve.Artifact{Path: "/deps/" + dep + ".jar", Direct: true})
	}
	return res, nil
}

type testEnv struct {
	t        *testing.T
	root     string
	scripts  string
	libs     string
	host     *host.Host
	compiler *fakeCompiler
	resolver *fakeResolver
	cache    *artifactcache.Cache
	index    *importsindex.Index
	manager  *Manager
	blocks   chan Block
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, fc *fakeCompiler) *testEnv {
	t.Helper()
	if fc == nil {
		fc = &fakeCompiler{}
	}
	root := t.TempDir()
	env := &testEnv{
		t:        t,
		root:     root,
		scripts:  filepath.Join(root, "scripts"),
		libs:     filepath.Join(root, "libs"),
		host:     host.New(discardLogger()),
		compiler: fc,
		resolver: &fakeResolver{},
		cache:    artifactcache.New(filepath.Join(root, "cache")),
		blocks:   make(chan Block, 64),
	}
	env.index = importsindex.Open(filepath.Join(root, "cache", importsindex.FileName), discardLogger())
	if err := env.host.Start(context.Background()); err != nil {
		t.Fatalf("host Start() error = %v", err)
	}

	m, err := NewManager(Options{
		Host:       env.host,
		Compiler:   fc,
		Resolver:   env.resolver,
		Cache:      env.cache,
		Index:      env.index,
		Logger:     discardLogger(),
		Workers:    2,
		ScriptsDir: env.scripts,
		LibsDir:    env.libs,
		OnBlock:    func(b Block) { env.blocks <- b },
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	env.manager = m
	t.Cleanup(func() {
		m.Close(context.Background())
		env.host.Close()
	})
	return env
}

func (e *testEnv) write(rel, content string) string {
	e.t.Helper()
	path := filepath.Join(e.scripts, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatal(err)
	}
	return path
}

func (e *testEnv) wait(f *Future[bool]) (bool, error) {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return f.Wait(ctx)
}

// block returns the next diagnostic block emitted for script.
func (e *testEnv) block(script string) Block {
	e.t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case b := <-e.blocks:
			if b.Script == script {
				return b
			}
		case <-timeout:
			e.t.Fatalf("no diagnostic block for %s", script)
		}
	}
}

func names(ns []discovery.ScriptName) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = string(n)
	}
	return out
}
