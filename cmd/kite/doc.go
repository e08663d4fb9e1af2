// SPDX-License-Identifier: MPL-2.0

// Package cmd implements the kite command line: the long-running serve
// command plus one-shot commands for listing, compiling and inspecting
// scripts, pruning the cache and managing configuration.
package cmd
