// SPDX-License-Identifier: MPL-2.0

// Package console serves the kite management console over SSH.
//
// Each SSH session runs a single command and exits, for example
//
//	ssh -p 2323 kite@127.0.0.1 reload greet
//
// The built-in commands list, load, unload and reload scripts; any other
// command name is dispatched to the commands scripts have registered.
// Clients authenticate with a key from the authorized keys file or with an
// access token issued by the server.
package console
