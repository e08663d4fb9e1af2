// SPDX-License-Identifier: MPL-2.0

package shellscript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/echoninelabs/kite/pkg/compiler"
	"github.com/echoninelabs/kite/pkg/module"
)

const (
	funcOnLoad   = "on_load"
	funcOnUnload = "on_unload"

	builtinName = "kite"
)

var errUsage = errors.New("usage")

type script struct {
	name    string
	exec    Executor
	rt      module.Runtime
	variant syntax.LangVariant
	runner  *interp.Runner
	stdout  *switchWriter
	logOut  *logWriter
	logErr  *logWriter
	// depth counts nested invocations; it is only touched on the executor
	depth int
}

// Evaluate runs the artifact's top level and returns the script. Functions
// named on_load and on_unload become the script's own hooks.
func (c *Compiler) Evaluate(ctx context.Context, artifact []byte, src compiler.Source, rt module.Runtime) (module.Script, error) {
	variant, body, err := splitArtifact(artifact)
	if err != nil {
		return nil, err
	}
	file, err := syntax.NewParser(syntax.Variant(variant)).Parse(bytes.NewReader(body), src.EntryPath)
	if err != nil {
		return nil, fmt.Errorf("parse artifact of %s: %w", src.Name, err)
	}

	s := &script{
		name:    src.Name,
		exec:    c.exec,
		rt:      rt,
		variant: variant,
		logOut:  newLogWriter(rt.Logger(), slog.LevelInfo),
		logErr:  newLogWriter(rt.Logger(), slog.LevelWarn),
	}
	s.stdout = &switchWriter{target: s.logOut}

	env := append(append([]string(nil), c.environ...),
		"KITE_SCRIPT="+src.Name,
		"KITE_ENTRY="+src.EntryPath,
		"KITE_CLASSPATH="+strings.Join(src.Classpath, string(os.PathListSeparator)),
	)
	s.runner, err = interp.New(
		interp.Env(expand.ListEnviron(env...)),
		interp.Dir(filepath.Dir(src.EntryPath)),
		interp.StdIO(nil, s.stdout, s.logErr),
		interp.ExecHandlers(s.builtins),
	)
	if err != nil {
		return nil, fmt.Errorf("create interpreter for %s: %w", src.Name, err)
	}

	var runErr error
	if err := s.exec.Do(ctx, func() {
		s.depth++
		defer func() { s.depth-- }()
		runErr = s.runner.Run(s.exec.Bind(ctx), file)
	}); err != nil {
		return nil, err
	}
	s.flush()
	if runErr != nil {
		return nil, fmt.Errorf("evaluate %s: %w", src.Name, describeExit(runErr))
	}
	return s, nil
}

func (s *script) OnLoad(ctx context.Context) error {
	return s.hook(ctx, funcOnLoad)
}

func (s *script) OnUnload(ctx context.Context) error {
	return s.hook(ctx, funcOnUnload)
}

func (s *script) hook(ctx context.Context, fn string) error {
	ok, err := s.defined(ctx, fn)
	if err != nil {
		return fmt.Errorf("%s: %w", fn, err)
	}
	if !ok {
		return nil
	}
	return s.invoke(ctx, fn, nil, nil)
}

func (s *script) defined(ctx context.Context, fn string) (bool, error) {
	var ok bool
	err := s.exec.Do(ctx, func() { _, ok = s.runner.Funcs[fn] })
	return ok, err
}

// invoke calls a shell function on the executor. Nested calls run in a
// subshell so the outer invocation's interpreter state stays intact. When
// out is non-nil it receives the function's standard output.
func (s *script) invoke(ctx context.Context, fn string, args []string, out io.Writer) error {
	call, err := s.callFile(fn, args)
	if err != nil {
		return err
	}

	var runErr error
	if err := s.exec.Do(ctx, func() {
		if _, ok := s.runner.Funcs[fn]; !ok {
			runErr = fmt.Errorf("function %s is not defined", fn)
			return
		}
		r := s.runner
		if s.depth > 0 {
			r = s.runner.Subshell()
		}
		if out != nil {
			prev := s.stdout.swap(out)
			defer s.stdout.swap(prev)
		}
		s.depth++
		defer func() { s.depth-- }()
		runErr = r.Run(s.exec.Bind(ctx), call)
	}); err != nil {
		return err
	}
	s.flush()
	if runErr != nil {
		return fmt.Errorf("%s: %w", fn, describeExit(runErr))
	}
	return nil
}

func (s *script) callFile(fn string, args []string) (*syntax.File, error) {
	words := make([]string, 0, len(args)+1)
	words = append(words, fn)
	for _, a := range args {
		q, err := syntax.Quote(a, s.variant)
		if err != nil {
			return nil, fmt.Errorf("quote argument for %s: %w", fn, err)
		}
		words = append(words, q)
	}
	return syntax.NewParser(syntax.Variant(s.variant)).Parse(strings.NewReader(strings.Join(words, " ")), s.name)
}

func (s *script) flush() {
	s.logOut.Flush()
	s.logErr.Flush()
}

// builtins intercepts the kite command before external lookup.
func (s *script) builtins(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) == 0 || args[0] != builtinName {
			return next(ctx, args)
		}
		hc := interp.HandlerCtx(ctx)
		out, err := s.builtin(ctx, args[1:])
		if err != nil {
			fmt.Fprintf(hc.Stderr, "kite: %v\n", err)
			return interp.NewExitStatus(1)
		}
		if out != "" {
			fmt.Fprintln(hc.Stdout, out)
		}
		return nil
	}
}

func (s *script) builtin(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: kite <subcommand> [args...]", errUsage)
	}
	sub, args := args[0], args[1:]
	want := func(n int, usage string) error {
		if len(args) != n {
			return fmt.Errorf("%w: kite %s %s", errUsage, sub, usage)
		}
		return nil
	}

	switch sub {
	case "on-load", "on-unload":
		if err := want(1, "<function>"); err != nil {
			return "", err
		}
		fn := args[0]
		hook := func(ctx context.Context) error { return s.invoke(ctx, fn, nil, nil) }
		if sub == "on-load" {
			s.rt.OnLoad(hook)
		} else {
			s.rt.OnUnload(hook)
		}
		return "", nil

	case "on":
		if err := want(2, "<event> <function>"); err != nil {
			return "", err
		}
		fn := args[1]
		h, err := s.rt.Subscribe(args[0], func(ctx context.Context, ev module.Event) {
			if err := s.invoke(ctx, fn, ev.Args, nil); err != nil {
				s.rt.Logger().Warn("event handler failed", "event", ev.Topic, "error", err)
			}
		})
		return handleString(h, err)

	case "every", "after":
		if err := want(2, "<duration> <function>"); err != nil {
			return "", err
		}
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return "", err
		}
		fn := args[1]
		cb := func(ctx context.Context) {
			if err := s.invoke(ctx, fn, nil, nil); err != nil {
				s.rt.Logger().Warn("timer failed", "function", fn, "error", err)
			}
		}
		if sub == "every" {
			return handleString(s.rt.Every(d, cb))
		}
		return handleString(s.rt.After(d, cb))

	case "command":
		if err := want(2, "<name> <function>"); err != nil {
			return "", err
		}
		fn := args[1]
		return handleString(s.rt.RegisterCommand(args[0], func(ctx context.Context, cargs []string) (string, error) {
			var buf bytes.Buffer
			err := s.invoke(ctx, fn, cargs, &buf)
			return strings.TrimRight(buf.String(), "\n"), err
		}))

	case "emit":
		if len(args) == 0 {
			return "", fmt.Errorf("%w: kite emit <event> [args...]", errUsage)
		}
		s.rt.Emit(ctx, module.Event{Topic: args[0], Args: args[1:]})
		return "", nil

	case "release":
		if err := want(1, "<handle>"); err != nil {
			return "", err
		}
		n, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid handle %q", args[0])
		}
		ok, err := s.rt.Release(ctx, module.Handle(n))
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("no resource with handle %d", n)
		}
		return "", nil

	case "log":
		if len(args) < 2 {
			return "", fmt.Errorf("%w: kite log <level> <message...>", errUsage)
		}
		var level slog.Level
		if err := level.UnmarshalText([]byte(args[0])); err != nil {
			return "", err
		}
		s.rt.Logger().Log(ctx, level, strings.Join(args[1:], " "))
		return "", nil

	default:
		return "", fmt.Errorf("unknown subcommand %q", sub)
	}
}

func handleString(h module.Handle, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(uint64(h), 10), nil
}

func describeExit(err error) error {
	var status interp.ExitStatus
	if errors.As(err, &status) {
		return fmt.Errorf("exit status %d", uint8(status))
	}
	return err
}
