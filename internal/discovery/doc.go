// SPDX-License-Identifier: MPL-2.0

// Package discovery enumerates the script units of a scripts directory.
//
// A unit is either a file "<name>.kite.sh" directly under the root, or a
// directory "<name>/" directly under the root that contains "main.kite.sh".
// Single-file units are enumerated before directory units; when two units
// share a name the first one wins and the others are reported as warning
// diagnostics. Discovery has no side effects beyond creating a missing root.
package discovery
