// SPDX-License-Identifier: MPL-2.0

package compiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/echoninelabs/kite/pkg/module"
)

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

type (
	// Severity orders diagnostics. Error and Fatal fail a compile job.
	Severity int

	// Position locates a diagnostic in a source file. Line and Column are
	// 1-based; zero means unknown.
	Position struct {
		File   string
		Line   int
		Column int
	}

	// Diagnostic is a message produced while scanning or compiling.
	Diagnostic struct {
		Severity Severity
		// Code is an optional machine-readable identifier such as
		// "import_cycle".
		Code     string
		Message  string
		Position Position
	}

	// Relocation renames a dotted package prefix inside a dependency.
	Relocation struct {
		Pattern     string
		Replacement string
	}

	// Directives is the structured metadata declared at the top of a script.
	Directives struct {
		// Imports are absolute paths of files the script pulls in directly.
		Imports         []string
		Dependencies    []string
		Repositories    []string
		Relocations     []Relocation
		CompilerOptions []string
	}

	// Source is what the compiler needs to build one script.
	Source struct {
		Name      string
		EntryPath string
		// Imports is the transitive, ordered import closure.
		Imports    []string
		Classpath  []string
		Directives Directives
	}

	// Output is the result of a compilation. Artifact is nil when any
	// diagnostic has error or fatal severity.
	Output struct {
		Artifact    []byte
		Diagnostics []Diagnostic
	}

	// Compiler is a language front end.
	Compiler interface {
		// Scan parses the directives of a single file. Imported files are
		// scanned with the same method.
		Scan(ctx context.Context, path string) (Directives, []Diagnostic, error)
		// Compile turns a script and its import closure into an artifact.
		Compile(ctx context.Context, src Source) (Output, error)
		// Evaluate instantiates an artifact. The script acquires host
		// resources only through rt, so they are released with its module.
		Evaluate(ctx context.Context, artifact []byte, src Source, rt module.Runtime) (module.Script, error)
	}
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Failing reports whether the severity fails a compile job.
func (s Severity) Failing() bool {
	return s >= SeverityError
}

func (p Position) String() string {
	switch {
	case p.File == "":
		return ""
	case p.Line == 0:
		return p.File
	case p.Column == 0:
		return fmt.Sprintf("%s:%d", p.File, p.Line)
	default:
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	}
}

func (d Diagnostic) String() string {
	var sb strings.Builder
	if pos := d.Position.String(); pos != "" {
		sb.WriteString(pos)
		sb.WriteString(": ")
	}
	sb.WriteString(d.Severity.String())
	if d.Code != "" {
		sb.WriteString(" [")
		sb.WriteString(d.Code)
		sb.WriteString("]")
	}
	sb.WriteString(": ")
	sb.WriteString(d.Message)
	return sb.String()
}

// HasFailure reports whether any diagnostic fails the job.
func HasFailure(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity.Failing() {
			return true
		}
	}
	return false
}

// Fatalf builds a fatal diagnostic without a position.
func Fatalf(format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityFatal, Message: fmt.Sprintf(format, args...)}
}

// Merge appends b to a, dropping duplicates of directives already present.
func (d Directives) Merge(b Directives) Directives {
	out := Directives{
		Imports:         appendUnique(d.Imports, b.Imports),
		Dependencies:    appendUnique(d.Dependencies, b.Dependencies),
		Repositories:    appendUnique(d.Repositories, b.Repositories),
		CompilerOptions: appendUnique(d.CompilerOptions, b.CompilerOptions),
		Relocations:     append([]Relocation(nil), d.Relocations...),
	}
	for _, r := range b.Relocations {
		dup := false
		for _, have := range out.Relocations {
			if have == r {
				dup = true
				break
			}
		}
		if !dup {
			out.Relocations = append(out.Relocations, r)
		}
	}
	return out
}

func appendUnique(a, b []string) []string {
	out := append([]string(nil), a...)
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
