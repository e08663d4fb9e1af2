// SPDX-License-Identifier: MPL-2.0

// Package scripting is the script manager: it discovers script units, runs
// bounded concurrent compile jobs, and keeps the registry of loaded modules.
//
// Every script name owns one state slot. A request claims the slot before
// doing any work and a request for a busy name is rejected at once with
// ErrInProgress, so load, unload and reload of one name never overlap while
// different names proceed in parallel. Load, Unload and Reload return
// futures resolved by the goroutine that performs the registry change.
package scripting
