// SPDX-License-Identifier: MPL-2.0

// Package mavenresolve resolves Maven coordinates into local jar files.
//
// Given the dependency, repository and relocation directives of a script,
// a Resolver fetches each coordinate's POM from the first repository that
// has it, follows compile-scope dependencies transitively, installs jars
// into a shared directory and, when relocation rules are present, produces
// relocated copies with the configured package prefixes rewritten.
//
// Resolution is best effort: a declaration that cannot be resolved becomes
// a Warning in the Result and never fails the whole request. Installation
// into the shared directory is serialized process-wide and always goes
// through a temporary file and a rename.
package mavenresolve
