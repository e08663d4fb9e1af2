// SPDX-License-Identifier: MPL-2.0

// Package cueutil decodes CUE documents against an embedded schema.
//
// Every CUE file kite reads (the configuration file and the imports index)
// goes through Decode: the document is size-checked, compiled, unified with
// a schema definition, validated and decoded. Errors name the file and the
// offending field path, for example "config.cue: console.port: invalid value".
package cueutil
