// SPDX-License-Identifier: MPL-2.0

package shellscript

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/echoninelabs/kite/pkg/compiler"
)

const (
	directiveRepository      = "repository"
	directiveDependency      = "dependency"
	directiveRelocate        = "relocate"
	directiveImport          = "import"
	directiveCompilerOptions = "compiler-options"
)

// Scan reads the directives of one file. Syntax errors and malformed
// directives are reported as diagnostics; only I/O failures are returned
// as errors.
func (c *Compiler) Scan(ctx context.Context, path string) (compiler.Directives, []compiler.Diagnostic, error) {
	if err := ctx.Err(); err != nil {
		return compiler.Directives{}, nil, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return compiler.Directives{}, nil, fmt.Errorf("read %s: %w", path, err)
	}

	comments, diag := leadingComments(src, path, c.variant(nil))
	if diag != nil {
		return compiler.Directives{}, []compiler.Diagnostic{*diag}, nil
	}

	var (
		dirs  compiler.Directives
		diags []compiler.Diagnostic
		base  = filepath.Dir(path)
	)
	for _, cm := range comments {
		name, args, ok := parseDirective(cm.Text)
		if !ok {
			continue
		}
		pos := compiler.Position{File: path, Line: int(cm.Hash.Line()), Column: int(cm.Hash.Col())}
		report := func(sev compiler.Severity, format string, a ...any) {
			diags = append(diags, compiler.Diagnostic{Severity: sev, Message: fmt.Sprintf(format, a...), Position: pos})
		}

		switch name {
		case directiveRepository:
			if len(args) == 0 {
				report(compiler.SeverityError, "@repository needs a URL")
			}
			dirs.Repositories = append(dirs.Repositories, args...)
		case directiveDependency:
			if len(args) == 0 {
				report(compiler.SeverityError, "@dependency needs a coordinate or a jar path")
			}
			dirs.Dependencies = append(dirs.Dependencies, args...)
		case directiveRelocate:
			if len(args) != 2 {
				report(compiler.SeverityError, "@relocate needs a pattern and a replacement, got %d arguments", len(args))
				continue
			}
			dirs.Relocations = append(dirs.Relocations, compiler.Relocation{Pattern: args[0], Replacement: args[1]})
		case directiveImport:
			if len(args) == 0 {
				report(compiler.SeverityError, "@import needs at least one path")
			}
			for _, a := range args {
				p := a
				if !filepath.IsAbs(p) {
					p = filepath.Join(base, p)
				}
				info, err := os.Stat(p)
				switch {
				case err != nil:
					report(compiler.SeverityError, "imported file %s not found", a)
				case info.IsDir():
					report(compiler.SeverityError, "imported path %s is a directory", a)
				default:
					dirs.Imports = append(dirs.Imports, filepath.Clean(p))
				}
			}
		case directiveCompilerOptions:
			dirs.CompilerOptions = append(dirs.CompilerOptions, args...)
		default:
			report(compiler.SeverityWarning, "unknown directive @%s", name)
		}
	}
	return dirs.Merge(compiler.Directives{}), diags, nil
}

// leadingComments returns the comments that precede the first statement.
func leadingComments(src []byte, path string, variant syntax.LangVariant) ([]syntax.Comment, *compiler.Diagnostic) {
	f, err := syntax.NewParser(syntax.KeepComments(true), syntax.Variant(variant)).Parse(bytes.NewReader(src), path)
	if err != nil {
		d := parseDiagnostic(path, err)
		return nil, &d
	}
	if len(f.Stmts) == 0 {
		return f.Last, nil
	}
	first := f.Stmts[0]
	var out []syntax.Comment
	for _, cm := range first.Comments {
		if cm.Hash.Line() < first.Pos().Line() {
			out = append(out, cm)
		}
	}
	return out, nil
}

// parseDirective splits " @name arg..." into its parts.
func parseDirective(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "@") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}
