// SPDX-License-Identifier: MPL-2.0

package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// UnitSuffix marks single-file units.
	UnitSuffix = ".kite.sh"
	// EntryFileName is the entry file of directory units.
	EntryFileName = "main" + UnitSuffix
)

const (
	KindFile Kind = "file"
	KindDir  Kind = "directory"
)

// ErrInvalidScriptName is the sentinel wrapped by InvalidScriptNameError.
var ErrInvalidScriptName = errors.New("invalid script name")

type (
	// Kind tells how a unit is laid out on disk.
	Kind string

	// ScriptName is the unique name of a script unit.
	ScriptName string

	// InvalidScriptNameError is returned by ScriptName.Validate.
	InvalidScriptNameError struct {
		Value  ScriptName
		Reason string
	}

	// Unit is one discovered script.
	Unit struct {
		Name ScriptName
		// EntryPath is the absolute path of the file to compile.
		EntryPath string
		Kind      Kind
	}

	// Result is the outcome of Discover.
	Result struct {
		Units       []Unit
		Diagnostics []Diagnostic
	}
)

func (e *InvalidScriptNameError) Error() string {
	return fmt.Sprintf("invalid script name %q: %s", string(e.Value), e.Reason)
}

func (e *InvalidScriptNameError) Unwrap() error { return ErrInvalidScriptName }

func (n ScriptName) String() string { return string(n) }

// Validate rejects names that cannot be mapped back to a unit on disk.
func (n ScriptName) Validate() error {
	s := string(n)
	switch {
	case s == "":
		return &InvalidScriptNameError{Value: n, Reason: "empty"}
	case strings.ContainsAny(s, `/\`):
		return &InvalidScriptNameError{Value: n, Reason: "contains a path separator"}
	case strings.HasPrefix(s, "."):
		return &InvalidScriptNameError{Value: n, Reason: "starts with a dot"}
	case strings.TrimSpace(s) != s:
		return &InvalidScriptNameError{Value: n, Reason: "has surrounding whitespace"}
	}
	return nil
}

// Dir returns the directory holding the unit's entry file.
func (u Unit) Dir() string { return filepath.Dir(u.EntryPath) }

// NameFromFile derives a unit name from a single-file unit's file name by
// dropping everything from the first dot.
func NameFromFile(file string) ScriptName {
	base := filepath.Base(file)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return ScriptName(base)
}

// Discover enumerates the units under root, creating root when absent.
func Discover(root string) (Result, error) {
	abs, err := ensureRoot(root)
	if err != nil {
		return Result{}, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return Result{}, fmt.Errorf("read scripts directory %s: %w", abs, err)
	}

	var (
		res  Result
		seen = make(map[ScriptName]string)
	)
	add := func(u Unit) {
		if err := u.Name.Validate(); err != nil {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeInvalidName,
				Message:  "script skipped",
				Path:     u.EntryPath,
				Cause:    err,
			})
			return
		}
		if first, dup := seen[u.Name]; dup {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeDuplicateName,
				Message:  fmt.Sprintf("script %q is already defined by %s; skipping", u.Name, first),
				Path:     u.EntryPath,
			})
			return
		}
		seen[u.Name] = u.EntryPath
		res.Units = append(res.Units, u)
	}

	// files first so a single-file unit shadows a directory of the same name
	for _, e := range entries {
		if isHidden(e.Name()) || e.IsDir() || !strings.HasSuffix(e.Name(), UnitSuffix) {
			continue
		}
		path := filepath.Join(abs, e.Name())
		if !isRegular(path) {
			continue
		}
		add(Unit{Name: NameFromFile(e.Name()), EntryPath: path, Kind: KindFile})
	}
	for _, e := range entries {
		if isHidden(e.Name()) {
			continue
		}
		dir := filepath.Join(abs, e.Name())
		info, err := os.Stat(dir)
		if err != nil {
			if e.Type()&fs.ModeSymlink == 0 {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{
					Severity: SeverityError,
					Code:     CodeUnreadableEntry,
					Message:  "cannot inspect scripts directory entry",
					Path:     dir,
					Cause:    err,
				})
			}
			continue
		}
		if !info.IsDir() {
			continue
		}
		entry := filepath.Join(dir, EntryFileName)
		if isRegular(entry) {
			add(Unit{Name: ScriptName(e.Name()), EntryPath: entry, Kind: KindDir})
		}
	}
	return res, nil
}

// Find locates a single unit by name with the same naming and precedence
// as Discover: the first single-file unit in lexical order whose derived
// name matches, then a directory unit. It returns false when neither exists.
func Find(root string, name ScriptName) (Unit, bool, error) {
	if err := name.Validate(); err != nil {
		return Unit{}, false, err
	}
	abs, err := ensureRoot(root)
	if err != nil {
		return Unit{}, false, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return Unit{}, false, fmt.Errorf("read scripts directory %s: %w", abs, err)
	}

	for _, e := range entries {
		if isHidden(e.Name()) || e.IsDir() || !strings.HasSuffix(e.Name(), UnitSuffix) {
			continue
		}
		if NameFromFile(e.Name()) != name {
			continue
		}
		if file := filepath.Join(abs, e.Name()); isRegular(file) {
			return Unit{Name: name, EntryPath: file, Kind: KindFile}, true, nil
		}
	}
	entry := filepath.Join(abs, string(name), EntryFileName)
	if isRegular(entry) {
		return Unit{Name: name, EntryPath: entry, Kind: KindDir}, true, nil
	}
	return Unit{}, false, nil
}

// UnitForPath maps a path under root to the name of the unit whose entry
// file or directory contains it.
func UnitForPath(root, path string) (ScriptName, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	first, rest, nested := strings.Cut(filepath.ToSlash(rel), "/")
	if isHidden(first) {
		return "", false
	}
	if !nested {
		if strings.HasSuffix(first, UnitSuffix) {
			return NameFromFile(first), true
		}
		return "", false
	}
	if rest == "" {
		return "", false
	}
	return ScriptName(first), true
}

func ensureRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve scripts directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create scripts directory %s: %w", abs, err)
	}
	return abs, nil
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
