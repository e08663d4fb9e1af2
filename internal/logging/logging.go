// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Log formats accepted by Options.Format.
const (
	FormatText   Format = "text"
	FormatJSON   Format = "json"
	FormatLogfmt Format = "logfmt"
)

// ErrInvalidFormat is returned for unknown Format values.
var ErrInvalidFormat = errors.New("invalid log format")

type (
	// Format selects the record encoding.
	Format string

	// Options configures a Factory.
	Options struct {
		// Level is one of debug, info, warn, error; empty means info.
		Level string
		// Format is empty or one of the Format constants.
		Format Format
		// Timestamps adds the time to each record.
		Timestamps bool
	}

	// Factory hands out component loggers sharing one output.
	Factory struct {
		base *log.Logger
	}
)

// Validate reports an unknown format.
func (f Format) Validate() error {
	switch f {
	case "", FormatText, FormatJSON, FormatLogfmt:
		return nil
	default:
		return fmt.Errorf("%w: %q (want text, json or logfmt)", ErrInvalidFormat, string(f))
	}
}

func (f Format) formatter() log.Formatter {
	switch f {
	case FormatJSON:
		return log.JSONFormatter
	case FormatLogfmt:
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

// NewFactory validates opts and builds a Factory writing to w.
func NewFactory(w io.Writer, opts Options) (*Factory, error) {
	level := log.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		parsed, err := log.ParseLevel(s)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	if err := opts.Format.Validate(); err != nil {
		return nil, err
	}
	return &Factory{base: log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       opts.Format.formatter(),
		ReportTimestamp: opts.Timestamps,
		TimeFormat:      time.DateTime,
	})}, nil
}

// For returns a logger whose records carry component as prefix.
func (f *Factory) For(component string) *slog.Logger {
	return slog.New(f.base.WithPrefix(component))
}

// Level reports the configured minimum level.
func (f *Factory) Level() slog.Level {
	return slog.Level(f.base.GetLevel())
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
