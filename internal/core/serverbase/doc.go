// SPDX-License-Identifier: MPL-2.0

// Package serverbase provides the lifecycle state machine shared by kite's
// long-running components: the host affinity executor and the management
// console.
//
// A Base is single-use. It moves created -> starting -> running ->
// stopping -> stopped, or to failed from any non-terminal state, and tracks
// the goroutines a component spawns so Stop can wait for them.
package serverbase
