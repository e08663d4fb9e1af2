// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// ErrTooLarge is returned for documents above the size limit.
var ErrTooLarge = errors.New("document too large")

// Decode validates data against the schema definition (for example
// "#Config") and decodes the result into T.
func Decode[T any](schema string, definition string, data []byte, opts ...Option) (T, error) {
	var zero T
	o := options{maxFileSize: DefaultMaxFileSize, concrete: true, filename: "<input>"}
	for _, opt := range opts {
		opt(&o)
	}

	if int64(len(data)) > o.maxFileSize {
		return zero, fmt.Errorf("%s: %w (%d bytes, limit %d)", o.filename, ErrTooLarge, len(data), o.maxFileSize)
	}

	ctx := cuecontext.New()
	schemaValue := ctx.CompileString(schema)
	if err := schemaValue.Err(); err != nil {
		return zero, fmt.Errorf("compile schema: %w", err)
	}
	root := schemaValue.LookupPath(cue.ParsePath(definition))
	if err := root.Err(); err != nil {
		return zero, fmt.Errorf("schema definition %s: %w", definition, err)
	}

	doc := ctx.CompileBytes(data, cue.Filename(o.filename))
	if err := doc.Err(); err != nil {
		return zero, FormatError(err, o.filename)
	}

	unified := root.Unify(doc)
	if err := unified.Validate(cue.Concrete(o.concrete)); err != nil {
		return zero, FormatError(err, o.filename)
	}

	var out T
	if err := unified.Decode(&out); err != nil {
		return zero, FormatError(err, o.filename)
	}
	return out, nil
}

// FormatError flattens a CUE error into one line per problem, each prefixed
// with the field path in dotted form ("repositories[1]").
func FormatError(err error, filename string) error {
	if err == nil {
		return nil
	}
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return fmt.Errorf("%s: %w", filename, err)
	}

	lines := make([]string, 0, len(list))
	for _, e := range list {
		msg := e.Error()
		path := fieldPath(cueerrors.Path(e))
		if path == "" {
			lines = append(lines, msg)
			continue
		}
		msg = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(msg, path), ":"))
		lines = append(lines, path+": "+msg)
	}
	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", filename, lines[0])
	}
	return fmt.Errorf("%s: %d problems:\n  %s", filename, len(lines), strings.Join(lines, "\n  "))
}

func fieldPath(selectors []string) string {
	var sb strings.Builder
	for i, sel := range selectors {
		if i > 0 && isIndex(sel) {
			sb.WriteString("[" + sel + "]")
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(sel)
	}
	return sb.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
