// SPDX-License-Identifier: MPL-2.0

// Package compiler defines the contract between the script orchestrator and
// a language front end.
//
// A Compiler scans a script for its directives, compiles it into an opaque
// artifact, and evaluates an artifact into a module.Script. The orchestrator
// never reads script source itself; it only consumes Directives and
// Diagnostics.
package compiler
