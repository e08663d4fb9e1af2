// SPDX-License-Identifier: MPL-2.0

// Package logging builds the slog loggers used across kite. Records are
// rendered by charmbracelet/log with one prefix per component.
package logging
