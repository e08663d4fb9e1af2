// SPDX-License-Identifier: MPL-2.0

// Package module holds the live representation of a loaded script.
//
// A Module owns a Ledger: the ordered record of every external resource the
// script acquired from the host (timers, event subscriptions, commands).
// Unloading a module runs its unload hooks and then drains the ledger,
// revoking each resource exactly once. Kinds of resources that are not safe
// to revoke from arbitrary goroutines are revoked through the host's
// affinity executor.
package module
