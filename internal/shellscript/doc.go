// SPDX-License-Identifier: MPL-2.0

// Package shellscript is kite's script front end. Scripts are shell files
// parsed and interpreted with mvdan.cc/sh.
//
// Directives live in the leading comment block of a file:
//
//	#!/bin/sh
//	# @repository https://repo.example.com/maven2
//	# @dependency com.google.code.gson:gson:2.11.0
//	# @relocate com.google.gson kite.libs.gson
//	# @import lib/util.kite.sh
//	# @compiler-options -Werror
//
// Compiling a script checks the entry file and its imports and produces a
// minified artifact holding all of them, imports first. Evaluating an
// artifact runs its top level on the host affinity executor; the script
// then talks to the host through the "kite" builtin.
package shellscript
