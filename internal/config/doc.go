// SPDX-License-Identifier: MPL-2.0

// Package config handles kite configuration using Viper with CUE as the file
// format.
//
// The file is config.cue in the platform config directory
// ($XDG_CONFIG_HOME/kite on Linux, ~/Library/Application Support/kite on
// macOS, %APPDATA%\kite on Windows) or the path given with --config. It is
// validated against the embedded #Config schema before being merged over the
// defaults; KITE_* environment variables override both. Directories left
// empty are derived from data_dir.
package config
