// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const defaultDebounce = 300 * time.Millisecond

var (
	// DefaultPatterns select script entries and the shell files they import.
	DefaultPatterns = []string{"**/*.sh"}

	// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid watch configuration")

	// editor droppings, VCS metadata and hidden directories
	builtinIgnores = []string{
		"**/.git/**",
		"**/.*/**",
		"**/*.swp",
		"**/*.swx",
		"**/*~",
		"**/#*#",
		"**/.DS_Store",
	}
)

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Dir is the directory watched recursively.
		Dir string
		// Patterns are doublestar globs relative to Dir; empty means
		// DefaultPatterns.
		Patterns []string
		// Ignore extends the built-in ignore list.
		Ignore []string
		// Debounce is the quiet period before OnChange fires; zero or less
		// means 300ms.
		Debounce time.Duration
		Logger   *slog.Logger
		// OnChange receives the absolute paths changed since the last call,
		// sorted. Calls never overlap.
		OnChange func(ctx context.Context, changed []string) error
	}

	// InvalidConfigError lists every problem found by Config.Validate.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%s (%d errors): %s", ErrInvalidConfig, len(e.FieldErrors), strings.Join(msgs, "; "))
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate checks the directory and every glob.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Dir) == "" {
		errs = append(errs, errors.New("dir must not be empty"))
	}
	errs = append(errs, checkPatterns("watch", c.Patterns)...)
	errs = append(errs, checkPatterns("ignore", c.Ignore)...)
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

func checkPatterns(label string, patterns []string) []error {
	var errs []error
	for _, pat := range patterns {
		if strings.TrimSpace(pat) == "" {
			errs = append(errs, fmt.Errorf("%s pattern must not be empty", label))
			continue
		}
		if !doublestar.ValidatePattern(pat) {
			errs = append(errs, fmt.Errorf("%s pattern %q is malformed", label, pat))
		}
	}
	return errs
}

// BuiltinIgnores returns a copy of the patterns every Watcher ignores.
func BuiltinIgnores() []string {
	return append([]string(nil), builtinIgnores...)
}
