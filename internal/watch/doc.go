// SPDX-License-Identifier: MPL-2.0

// Package watch reports changes under the scripts directory.
//
// A Watcher registers every directory below its root with fsnotify, keeps
// the events whose paths match its patterns, and hands the accumulated set
// to a callback once the directory has been quiet for the debounce period.
package watch
