// SPDX-License-Identifier: MPL-2.0

package shellscript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/echoninelabs/kite/pkg/compiler"
)

const (
	// OptionWerror turns warnings into errors.
	OptionWerror = "-Werror"
	// OptionPOSIX parses scripts as POSIX sh instead of bash.
	OptionPOSIX = "--posix"

	artifactMagic = "#!kite-artifact 1"
)

var errBadArtifact = errors.New("not a kite shell artifact")

type (
	// Executor serializes script code onto one goroutine. host.Executor
	// implements it.
	Executor interface {
		Do(ctx context.Context, fn func()) error
		Bind(ctx context.Context) context.Context
	}

	// Options configures a Compiler.
	Options struct {
		Logger *slog.Logger
		// Environ is the base environment of evaluated scripts. It defaults
		// to the process environment.
		Environ []string
	}

	// Compiler implements compiler.Compiler for shell scripts.
	Compiler struct {
		exec    Executor
		logger  *slog.Logger
		environ []string
	}

	parsedFile struct {
		path string
		file *syntax.File
	}
)

// New returns a compiler whose scripts run on exec.
func New(exec Executor, opts Options) *Compiler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ()
	}
	return &Compiler{exec: exec, logger: opts.Logger, environ: opts.Environ}
}

// Compile parses the import closure and the entry file and prints them,
// minified and in that order, into one artifact.
func (c *Compiler) Compile(ctx context.Context, src compiler.Source) (compiler.Output, error) {
	var diags []compiler.Diagnostic
	werror := false
	for _, opt := range src.Directives.CompilerOptions {
		switch opt {
		case OptionWerror:
			werror = true
		case OptionPOSIX:
		default:
			diags = append(diags, compiler.Diagnostic{
				Severity: compiler.SeverityWarning,
				Message:  fmt.Sprintf("unknown compiler option %q", opt),
				Position: compiler.Position{File: src.EntryPath},
			})
		}
	}
	variant := c.variant(src.Directives.CompilerOptions)
	parser := syntax.NewParser(syntax.Variant(variant))

	files := make([]parsedFile, 0, len(src.Imports)+1)
	for _, path := range append(append([]string(nil), src.Imports...), src.EntryPath) {
		if err := ctx.Err(); err != nil {
			return compiler.Output{}, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			diags = append(diags, compiler.Diagnostic{
				Severity: compiler.SeverityError,
				Message:  fmt.Sprintf("cannot read source: %v", err),
				Position: compiler.Position{File: path},
			})
			continue
		}
		f, err := parser.Parse(bytes.NewReader(data), path)
		if err != nil {
			diags = append(diags, parseDiagnostic(path, err))
			continue
		}
		files = append(files, parsedFile{path: path, file: f})
	}
	diags = append(diags, lint(files)...)

	if werror {
		for i := range diags {
			if diags[i].Severity == compiler.SeverityWarning {
				diags[i].Severity = compiler.SeverityError
			}
		}
	}
	if compiler.HasFailure(diags) {
		return compiler.Output{Diagnostics: diags}, nil
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s\n", artifactMagic, variant)
	printer := syntax.NewPrinter(syntax.Minify(true))
	for _, pf := range files {
		if err := printer.Print(&buf, pf.file); err != nil {
			return compiler.Output{}, fmt.Errorf("print %s: %w", pf.path, err)
		}
		buf.WriteByte('\n')
	}
	return compiler.Output{Artifact: buf.Bytes(), Diagnostics: diags}, nil
}

func (c *Compiler) variant(options []string) syntax.LangVariant {
	for _, opt := range options {
		if opt == OptionPOSIX {
			return syntax.LangPOSIX
		}
	}
	return syntax.LangBash
}

// lint reports functions that shadow a function of an earlier file.
func lint(files []parsedFile) []compiler.Diagnostic {
	var diags []compiler.Diagnostic
	definedIn := make(map[string]string)
	for _, pf := range files {
		for _, st := range pf.file.Stmts {
			fd, ok := st.Cmd.(*syntax.FuncDecl)
			if !ok || fd.Name == nil {
				continue
			}
			name := fd.Name.Value
			if prev, dup := definedIn[name]; dup && prev != pf.path {
				diags = append(diags, compiler.Diagnostic{
					Severity: compiler.SeverityWarning,
					Message:  fmt.Sprintf("function %s redefines the one imported from %s", name, prev),
					Position: position(pf.path, fd.Pos()),
				})
			}
			definedIn[name] = pf.path
		}
	}
	return diags
}

// splitArtifact checks the header and returns the variant and body.
func splitArtifact(artifact []byte) (syntax.LangVariant, []byte, error) {
	header, body, ok := bytes.Cut(artifact, []byte{'\n'})
	if !ok || !bytes.HasPrefix(header, []byte(artifactMagic+" ")) {
		return 0, nil, errBadArtifact
	}
	var variant syntax.LangVariant
	if err := variant.Set(strings.TrimPrefix(string(header), artifactMagic+" ")); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", errBadArtifact, err)
	}
	return variant, body, nil
}

func parseDiagnostic(path string, err error) compiler.Diagnostic {
	var pe syntax.ParseError
	if errors.As(err, &pe) {
		return compiler.Diagnostic{
			Severity: compiler.SeverityError,
			Message:  pe.Text,
			Position: position(path, pe.Pos),
		}
	}
	var le syntax.LangError
	if errors.As(err, &le) {
		return compiler.Diagnostic{
			Severity: compiler.SeverityError,
			Message:  le.Error(),
			Position: position(path, le.Pos),
		}
	}
	return compiler.Diagnostic{
		Severity: compiler.SeverityError,
		Message:  err.Error(),
		Position: compiler.Position{File: path},
	}
}

func position(path string, p syntax.Pos) compiler.Position {
	return compiler.Position{File: path, Line: int(p.Line()), Column: int(p.Col())}
}

var _ compiler.Compiler = (*Compiler)(nil)
