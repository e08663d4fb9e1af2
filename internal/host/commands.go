// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/echoninelabs/kite/pkg/module"
)

var (
	// ErrCommandExists is returned when a name is already registered.
	ErrCommandExists = errors.New("command already registered")
	// ErrUnknownCommand is returned by Dispatch for unregistered names.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidCommandName is returned for empty or whitespace names.
	ErrInvalidCommandName = errors.New("invalid command name")
)

type (
	// CommandRegistry maps command names to script handlers.
	CommandRegistry struct {
		exec *Executor

		mu       sync.RWMutex
		nextID   uint64
		commands map[string]registeredCommand
	}

	registeredCommand struct {
		id uint64
		fn module.CommandFunc
	}
)

// NewCommandRegistry returns an empty registry dispatching on exec.
func NewCommandRegistry(exec *Executor) *CommandRegistry {
	return &CommandRegistry{exec: exec, commands: make(map[string]registeredCommand)}
}

// RegisterCommand adds name. The returned unregister removes exactly this
// registration, so it is harmless after the name was taken over.
func (r *CommandRegistry) RegisterCommand(name string, fn module.CommandFunc) (unregister func(), err error) {
	if name == "" || strings.ContainsFunc(name, isSpace) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommandName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrCommandExists, name)
	}
	r.nextID++
	id := r.nextID
	r.commands[name] = registeredCommand{id: id, fn: fn}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.commands[name]; ok && c.id == id {
			delete(r.commands, name)
		}
	}, nil
}

// Dispatch runs the named command on the executor and returns its output.
func (r *CommandRegistry) Dispatch(ctx context.Context, name string, args []string) (string, error) {
	r.mu.RLock()
	c, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	var (
		out    string
		runErr error
	)
	if err := r.exec.Do(ctx, func() {
		out, runErr = c.fn(r.exec.Bind(ctx), args)
	}); err != nil {
		return "", fmt.Errorf("dispatch %s: %w", name, err)
	}
	return out, runErr
}

// Names returns the registered command names in lexical order.
func (r *CommandRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
