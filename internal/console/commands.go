// SPDX-License-Identifier: MPL-2.0

package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"

	"github.com/echoninelabs/kite/internal/discovery"
	"github.com/echoninelabs/kite/internal/host"
	"github.com/echoninelabs/kite/internal/scripting"
	"github.com/echoninelabs/kite/pkg/compiler"
)

const usage = `usage: <command> [args...]

  list               scripts, loaded ones marked with ●
  load <name>        compile and load a script
  unload <name>      unload a script
  reload <name>      unload then load a script
  reload-all         reload every loaded script
  commands           commands registered by scripts
  <command> [args]   run a script command
`

func (c *Console) commandMiddleware() wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			args := sess.Command()
			c.logger.Info("console command", "user", sess.User(), "command", strings.Join(args, " "))
			code := c.Execute(sess.Context(), args, sess, sess.Stderr())
			_ = sess.Exit(code)
			next(sess)
		}
	}
}

// Execute runs one console command and returns its exit status.
// Operations started here outlive ctx; only the wait for them is cut
// short when ctx ends.
func (c *Console) Execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(errOut, usage)
		return 2
	}
	opCtx := context.WithoutCancel(ctx)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "help":
		fmt.Fprint(out, usage)
		return 0
	case "list":
		return c.list(out, errOut)
	case "commands":
		for _, name := range c.dispatcher.Names() {
			fmt.Fprintln(out, name)
		}
		return 0
	case "reload-all":
		summary, err := c.manager.ReloadAll(opCtx).Wait(ctx)
		if err != nil {
			fmt.Fprintf(errOut, "reload-all: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "Reloaded scripts: %s\n", summary)
		if summary.Failed > 0 {
			return 1
		}
		return 0
	case "load", "unload", "reload":
		if len(rest) != 1 {
			fmt.Fprintf(errOut, "usage: %s <name>\n", cmd)
			return 2
		}
		return c.lifecycle(ctx, opCtx, cmd, discovery.ScriptName(rest[0]), out, errOut)
	default:
		return c.dispatch(ctx, cmd, rest, out, errOut)
	}
}

func (c *Console) list(out, errOut io.Writer) int {
	available, err := c.manager.ListAvailable()
	if err != nil {
		fmt.Fprintf(errOut, "list: %v\n", err)
		return 1
	}
	loaded := c.manager.ListLoaded()
	if len(available) == 0 {
		fmt.Fprintln(out, "No scripts found")
		return 0
	}
	for _, name := range available {
		mark := "○"
		if slices.Contains(loaded, name) {
			mark = "●"
		}
		fmt.Fprintf(out, "%s %s\n", mark, name)
	}
	return 0
}

func (c *Console) lifecycle(ctx, opCtx context.Context, cmd string, name discovery.ScriptName, out, errOut io.Writer) int {
	var f *scripting.Future[bool]
	switch cmd {
	case "load":
		f = c.manager.Load(opCtx, name)
	case "unload":
		f = c.manager.Unload(opCtx, name)
	default:
		f = c.manager.Reload(opCtx, name)
	}

	ok, err := f.Wait(ctx)
	if ok {
		fmt.Fprintf(out, "Script %s %sed\n", name, cmd)
		return 0
	}
	fmt.Fprintln(errOut, describe(name, cmd, err))
	var jobErr *scripting.JobError
	if errors.As(err, &jobErr) {
		for _, d := range jobErr.Diagnostics {
			if d.Severity >= compiler.SeverityWarning {
				fmt.Fprintf(errOut, "  %s\n", d)
			}
		}
	}
	return 1
}

func (c *Console) dispatch(ctx context.Context, name string, args []string, out, errOut io.Writer) int {
	reply, err := c.dispatcher.Dispatch(ctx, name, args)
	if errors.Is(err, host.ErrUnknownCommand) {
		fmt.Fprintf(errOut, "unknown command %q\n\n%s", name, usage)
		return 2
	}
	if reply != "" {
		fmt.Fprint(out, reply)
		if !strings.HasSuffix(reply, "\n") {
			fmt.Fprintln(out)
		}
	}
	if err != nil {
		fmt.Fprintf(errOut, "%s: %v\n", name, err)
		return 1
	}
	return 0
}

func describe(name discovery.ScriptName, cmd string, err error) string {
	switch {
	case errors.Is(err, scripting.ErrAlreadyLoaded):
		return fmt.Sprintf("Script %s is already loaded", name)
	case errors.Is(err, scripting.ErrNotLoaded):
		return fmt.Sprintf("Script %s is not loaded", name)
	case errors.Is(err, scripting.ErrInProgress):
		return fmt.Sprintf("Script %s is busy, try again shortly", name)
	case errors.Is(err, scripting.ErrNotFound):
		return fmt.Sprintf("No script named %s", name)
	case errors.Is(err, discovery.ErrInvalidScriptName):
		return fmt.Sprintf("Invalid script name %q", name)
	case errors.Is(err, scripting.ErrJobFailed):
		return fmt.Sprintf("Script %s failed to %s:", name, cmd)
	case err != nil:
		return fmt.Sprintf("Script %s: %v", name, err)
	default:
		return fmt.Sprintf("Script %s failed to %s", name, cmd)
	}
}
