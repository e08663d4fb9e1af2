// SPDX-License-Identifier: MPL-2.0

// Package artifactcache is the content-addressed store of compiled scripts.
//
// Each artifact is a file named "<name>.<key>.kite" in the cache directory,
// where key is the hex SHA-256 of the script source and of every file it
// imports. Artifact bytes are immutable once stored under a key. After a
// successful recompile, Prune removes the artifacts of the same script that
// were stored under other keys, so at most one file per name remains.
package artifactcache
