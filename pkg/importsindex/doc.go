// SPDX-License-Identifier: MPL-2.0

// Package importsindex persists, per script name, the ordered list of files a
// script transitively imports.
//
// The index exists only to compute compilation cache keys: the key of a
// script covers its own bytes plus the bytes of every file recorded here.
// It is stored as a single CUE document and rewritten atomically, so a
// reader never observes a partially written file. A missing or corrupt file
// is treated as an empty index.
package importsindex
