// SPDX-License-Identifier: MPL-2.0

// Package issue carries user-facing failures of the kite CLI.
//
// ActionableError wraps a cause with the operation that failed, the script or
// path involved, and remediation hints. The Issue catalog holds longer
// Markdown guidance that the CLI renders with glamour when an operation fails
// in a well-known way (missing scripts directory, unreachable repository,
// import cycle, and so on).
package issue
