// SPDX-License-Identifier: MPL-2.0

package scripting

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/echoninelabs/kite/internal/dag"
	"github.com/echoninelabs/kite/pkg/compiler"
)

// importClosure is the transitive import set of one entry file.
type importClosure struct {
	// Imports are ordered so every file comes after the files it imports;
	// the entry itself is excluded.
	Imports     []string
	Directives  compiler.Directives
	Diagnostics []compiler.Diagnostic
}

// resolveImports scans every file reachable through @import from entry.
// A cycle is reported as an import_cycle error diagnostic.
func resolveImports(ctx context.Context, c compiler.Compiler, entry string, entryDirs compiler.Directives) (importClosure, error) {
	entry = filepath.Clean(entry)
	var (
		out     importClosure
		graph   = dag.New()
		scanned = map[string]compiler.Directives{entry: entryDirs}
		order   = []string{entry}
	)
	graph.AddNode(entry)

	var visit func(path string) error
	visit = func(path string) error {
		for _, imp := range scanned[path].Imports {
			imp = filepath.Clean(imp)
			graph.AddEdge(imp, path)
			if _, seen := scanned[imp]; seen {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			dirs, diags, err := c.Scan(ctx, imp)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				out.Diagnostics = append(out.Diagnostics, compiler.Diagnostic{
					Severity: compiler.SeverityError,
					Code:     CodeSourceUnreadable,
					Message:  err.Error(),
					Position: compiler.Position{File: imp},
				})
			}
			out.Diagnostics = append(out.Diagnostics, diags...)
			scanned[imp] = dirs
			order = append(order, imp)
			if err := visit(imp); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(entry); err != nil {
		return importClosure{}, err
	}

	out.Directives = entryDirs
	for _, p := range order[1:] {
		out.Directives = out.Directives.Merge(scanned[p])
	}

	sorted, err := graph.TopologicalSort()
	if err != nil {
		var cycleErr *dag.CycleError
		if !errors.As(err, &cycleErr) {
			return importClosure{}, err
		}
		out.Diagnostics = append(out.Diagnostics, compiler.Diagnostic{
			Severity: compiler.SeverityError,
			Code:     CodeImportCycle,
			Message:  "import cycle: " + describeCycle(cycleErr.Cycle),
			Position: compiler.Position{File: entry},
		})
		return out, nil
	}
	for _, p := range sorted {
		if p != entry {
			out.Imports = append(out.Imports, p)
		}
	}
	return out, nil
}

// describeCycle renders a cycle of imported -> importer edges in import
// direction, using base names.
func describeCycle(cycle []string) string {
	names := make([]string, len(cycle))
	for i, p := range cycle {
		names[len(cycle)-1-i] = filepath.Base(p)
	}
	return strings.Join(names, " imports ")
}

// sharedLibraries lists the *.jar files of dir in lexical order. A missing
// directory has none.
func sharedLibraries(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(dir), "*.jar", doublestar.WithFilesOnly())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list shared libraries in %s: %w", dir, err)
	}
	slices.Sort(matches)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.Join(dir, filepath.FromSlash(m))
	}
	return out, nil
}
