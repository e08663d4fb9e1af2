// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/echoninelabs/kite/internal/cueutil"
	"github.com/echoninelabs/kite/internal/issue"
)

const (
	// AppName names the config and data directories.
	AppName = "kite"
	// ConfigFileName is the config file name without extension.
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"

	envPrefix = "KITE"
)

//go:embed config_schema.cue
var configSchema string

// ErrConfigExists is returned by WriteDefault when the file exists and
// force is not set.
var ErrConfigExists = errors.New("config file already exists")

// LoadOptions selects the file Load reads.
type LoadOptions struct {
	// ConfigFilePath forces a specific file, which must exist.
	ConfigFilePath string
	// ConfigDirPath replaces the platform config directory.
	ConfigDirPath string
}

// Provider loads configuration.
type Provider interface {
	Load(ctx context.Context, opts LoadOptions) (*Config, error)
}

type fileProvider struct{}

// NewProvider returns the file and environment backed Provider.
func NewProvider() Provider {
	return fileProvider{}
}

func (fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg, _, err := Load(ctx, opts)
	return cfg, err
}

// ConfigDir returns the platform config directory for kite.
//
//nolint:revive // config.Dir would read ambiguously next to DataDir
func ConfigDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("determine home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("determine home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppName), nil
}

// DataDir returns the platform directory holding scripts, cache and
// dependencies when data_dir is unset.
func DataDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("determine home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_DATA_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("determine home directory: %w", err)
			}
			base = filepath.Join(home, ".local", "share")
		}
	}
	return filepath.Join(base, AppName), nil
}

// FilePath returns the config file Load reads by default from dir, or from
// ConfigDir when dir is empty.
func FilePath(dir string) (string, error) {
	if dir == "" {
		var err error
		if dir, err = ConfigDir(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

// Load merges defaults, the config file and KITE_* environment variables,
// then validates the result. It returns the file that was read, or "" when
// none exists.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := opts.ConfigFilePath
	if path == "" {
		var err error
		if path, err = FilePath(opts.ConfigDirPath); err != nil {
			return nil, "", err
		}
		if !fileExists(path) {
			path = ""
		}
	} else if !fileExists(path) {
		return nil, "", issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(path).
			WithSuggestion("Check the --config path").
			WithSuggestion("Create a default file with 'kite config init'").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(fmt.Errorf("config file not found: %s", path)).
			BuildError()
	}

	if path != "" {
		if err := mergeFile(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file is valid CUE").
				WithSuggestion("Compare it with 'kite config show --defaults'").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithSuggestion("Check KITE_* environment variables as well as the file").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}
	return &cfg, path, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("scripts_dir", d.ScriptsDir)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("dependencies_dir", d.DependenciesDir)
	v.SetDefault("libs_dir", d.LibsDir)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("repositories", d.Repositories)
	v.SetDefault("exclude", d.Exclude)
	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("console.enabled", d.Console.Enabled)
	v.SetDefault("console.host", d.Console.Host)
	v.SetDefault("console.port", d.Console.Port)
	v.SetDefault("console.host_key", d.Console.HostKey)
	v.SetDefault("console.authorized_keys", d.Console.AuthorizedKeys)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.retries", d.HTTP.Retries)
}

// mergeFile validates path against #Config and merges it over the defaults.
// Fields are optional, so the document is decoded without requiring
// concrete values.
func mergeFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	values, err := cueutil.Decode[map[string]any](configSchema, "#Config", data,
		cueutil.WithFilename(path), cueutil.WithConcrete(false))
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(values); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}
	return nil
}

// WriteDefault writes the default configuration to path. An existing file
// is kept unless force is set.
func WriteDefault(path string, force bool) error {
	if !force && fileExists(path) {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ConfigFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create config temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(GenerateCUE(DefaultConfig())); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}

// GenerateCUE renders cfg as a config file.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder
	sb.WriteString("// kite configuration. Empty directories derive from data_dir.\n\n")

	fmt.Fprintf(&sb, "data_dir:         %q\n", cfg.DataDir)
	fmt.Fprintf(&sb, "scripts_dir:      %q\n", cfg.ScriptsDir)
	fmt.Fprintf(&sb, "cache_dir:        %q\n", cfg.CacheDir)
	fmt.Fprintf(&sb, "dependencies_dir: %q\n", cfg.DependenciesDir)
	fmt.Fprintf(&sb, "libs_dir:         %q\n", cfg.LibsDir)
	fmt.Fprintf(&sb, "workers:          %d\n", cfg.Workers)

	writeList(&sb, "repositories", cfg.Repositories)
	writeList(&sb, "exclude", cfg.Exclude)

	sb.WriteString("\nwatch: {\n")
	fmt.Fprintf(&sb, "\tenabled:  %v\n", cfg.Watch.Enabled)
	fmt.Fprintf(&sb, "\tdebounce: %q\n", cfg.Watch.Debounce.String())
	sb.WriteString("}\n")

	sb.WriteString("\nconsole: {\n")
	fmt.Fprintf(&sb, "\tenabled: %v\n", cfg.Console.Enabled)
	fmt.Fprintf(&sb, "\thost:    %q\n", cfg.Console.Host)
	fmt.Fprintf(&sb, "\tport:    %d\n", cfg.Console.Port)
	if cfg.Console.HostKey != "" {
		fmt.Fprintf(&sb, "\thost_key: %q\n", cfg.Console.HostKey)
	}
	if cfg.Console.AuthorizedKeys != "" {
		fmt.Fprintf(&sb, "\tauthorized_keys: %q\n", cfg.Console.AuthorizedKeys)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel:  %q\n", cfg.Log.Level)
	fmt.Fprintf(&sb, "\tformat: %q\n", cfg.Log.Format)
	sb.WriteString("}\n")

	sb.WriteString("\nhttp: {\n")
	fmt.Fprintf(&sb, "\ttimeout: %q\n", cfg.HTTP.Timeout.String())
	fmt.Fprintf(&sb, "\tretries: %d\n", cfg.HTTP.Retries)
	sb.WriteString("}\n")
	return sb.String()
}

func writeList(sb *strings.Builder, key string, items []string) {
	if len(items) == 0 {
		fmt.Fprintf(sb, "\n%s: []\n", key)
		return
	}
	fmt.Fprintf(sb, "\n%s: [\n", key)
	for _, item := range items {
		fmt.Fprintf(sb, "\t%q,\n", item)
	}
	sb.WriteString("]\n")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
