// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/echoninelabs/kite/internal/logging"
	"github.com/echoninelabs/kite/pkg/mavenresolve"
)

// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
var ErrInvalidConfig = errors.New("invalid config")

var logLevels = []string{"debug", "info", "warn", "error"}

type (
	// Config is the merged kite configuration.
	Config struct {
		DataDir         string   `mapstructure:"data_dir"`
		ScriptsDir      string   `mapstructure:"scripts_dir"`
		CacheDir        string   `mapstructure:"cache_dir"`
		DependenciesDir string   `mapstructure:"dependencies_dir"`
		LibsDir         string   `mapstructure:"libs_dir"`
		Workers         int      `mapstructure:"workers"`
		Repositories    []string `mapstructure:"repositories"`
		// Exclude lists group:artifact globs the host already provides.
		Exclude []string      `mapstructure:"exclude"`
		Watch   WatchConfig   `mapstructure:"watch"`
		Console ConsoleConfig `mapstructure:"console"`
		Log     LogConfig     `mapstructure:"log"`
		HTTP    HTTPConfig    `mapstructure:"http"`
	}

	// WatchConfig controls reloading scripts when their files change.
	WatchConfig struct {
		Enabled  bool          `mapstructure:"enabled"`
		Debounce time.Duration `mapstructure:"debounce"`
	}

	// ConsoleConfig controls the SSH management console.
	ConsoleConfig struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
		// HostKey defaults to console_host_key under the data directory.
		HostKey string `mapstructure:"host_key"`
		// AuthorizedKeys, when set, restricts logins to the listed keys.
		AuthorizedKeys string `mapstructure:"authorized_keys"`
	}

	// LogConfig selects level and encoding.
	LogConfig struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	}

	// HTTPConfig tunes repository downloads.
	HTTPConfig struct {
		Timeout time.Duration `mapstructure:"timeout"`
		Retries int           `mapstructure:"retries"`
	}

	// Paths are the absolute directories derived from a Config.
	Paths struct {
		Data         string
		Scripts      string
		Cache        string
		Dependencies string
		Libs         string
		HostKey      string
	}

	// InvalidConfigError lists every invalid field.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// DefaultConfig returns the built-in defaults. Directories are empty and
// derive from the data directory.
func DefaultConfig() *Config {
	return &Config{
		Workers:      4,
		Repositories: []string{string(mavenresolve.MavenCentral)},
		Exclude:      []string{},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 300 * time.Millisecond,
		},
		Console: ConsoleConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    2323,
		},
		Log: LogConfig{
			Level:  "info",
			Format: string(logging.FormatText),
		},
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
			Retries: 3,
		},
	}
}

func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate checks values the schema cannot see, such as those arriving
// through environment variables.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 || c.Workers > 64 {
		errs = append(errs, fmt.Errorf("workers: %d out of range 1..64", c.Workers))
	}
	for i, repo := range c.Repositories {
		if err := mavenresolve.Repository(repo).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("repositories[%d]: %w", i, err))
		}
	}
	for i, ex := range c.Exclude {
		if group, artifact, ok := strings.Cut(ex, ":"); !ok || group == "" || artifact == "" {
			errs = append(errs, fmt.Errorf("exclude[%d]: %q is not group:artifact", i, ex))
		}
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce: must not be negative"))
	}
	if c.Console.Port < 1 || c.Console.Port > 65535 {
		errs = append(errs, fmt.Errorf("console.port: %d out of range", c.Console.Port))
	}
	if !slices.Contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level: %q is not one of %s", c.Log.Level, strings.Join(logLevels, ", ")))
	}
	if err := logging.Format(c.Log.Format).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}
	if c.HTTP.Retries < 0 {
		errs = append(errs, fmt.Errorf("http.retries: must not be negative"))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// RepositoryList converts Repositories for the resolver.
func (c *Config) RepositoryList() []mavenresolve.Repository {
	out := make([]mavenresolve.Repository, len(c.Repositories))
	for i, r := range c.Repositories {
		out[i] = mavenresolve.Repository(r).Normalize()
	}
	return out
}

// Paths resolves every directory to an absolute path. Empty directories
// become subdirectories of the data directory.
func (c *Config) Paths() (Paths, error) {
	data := c.DataDir
	if data == "" {
		var err error
		if data, err = DataDir(); err != nil {
			return Paths{}, err
		}
	}
	data, err := absPath(data)
	if err != nil {
		return Paths{}, err
	}

	p := Paths{Data: data}
	for _, d := range []struct {
		dst   *string
		value string
		sub   string
	}{
		{&p.Scripts, c.ScriptsDir, "scripts"},
		{&p.Cache, c.CacheDir, "cache"},
		{&p.Dependencies, c.DependenciesDir, "dependencies"},
		{&p.Libs, c.LibsDir, "libs"},
		{&p.HostKey, c.Console.HostKey, "console_host_key"},
	} {
		if d.value == "" {
			*d.dst = filepath.Join(data, d.sub)
			continue
		}
		if *d.dst, err = absPath(d.value); err != nil {
			return Paths{}, err
		}
	}
	return p, nil
}

func absPath(p string) (string, error) {
	if rest, ok := strings.CutPrefix(p, "~"); ok && (rest == "" || rest[0] == '/' || rest[0] == filepath.Separator) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", p, err)
		}
		p = filepath.Join(home, rest)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	return abs, nil
}
