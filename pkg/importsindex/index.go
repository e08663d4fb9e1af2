// SPDX-License-Identifier: MPL-2.0

package importsindex

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/echoninelabs/kite/internal/cueutil"
)

// FileName is the conventional name of the index inside the cache directory.
const FileName = ".imports.cue"

const schema = `#Index: imports?: [string]: [...string]`

// ErrEmptyName is returned when an entry is written without a script name.
var ErrEmptyName = errors.New("import index entry requires a script name")

// Index is the in-memory view of the persisted imports index. All methods
// are safe for concurrent use. Writes are serialized by a single lock that
// is held across the file replacement.
type Index struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string][]string
}

// Open reads the index at path. A missing file yields an empty index; a file
// that fails to parse is logged and also yields an empty index.
func Open(path string, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	idx := &Index{path: path, logger: logger, entries: make(map[string][]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("imports index unreadable, starting empty", "path", path, "error", err)
		}
		return idx
	}

	entries, err := parse(data)
	if err != nil {
		logger.Warn("imports index corrupt, starting empty", "path", path, "error", err)
		return idx
	}
	idx.entries = entries
	return idx
}

// Path returns the file backing the index.
func (i *Index) Path() string {
	return i.path
}

// Get returns a copy of the import list recorded for name.
func (i *Index) Get(name string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return slices.Clone(i.entries[name])
}

// Names returns the recorded script names in lexical order.
func (i *Index) Names() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return slices.Sorted(maps.Keys(i.entries))
}

// Put replaces the entry for name and persists the index. Duplicate paths
// are dropped, keeping the first occurrence. An empty list removes the entry.
func (i *Index) Put(name string, imports []string) error {
	if name == "" {
		return ErrEmptyName
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	prev, had := i.entries[name]
	deduped := dedupe(imports)
	if len(deduped) == 0 {
		delete(i.entries, name)
	} else {
		i.entries[name] = deduped
	}

	if err := i.save(); err != nil {
		if had {
			i.entries[name] = prev
		} else {
			delete(i.entries, name)
		}
		return err
	}
	return nil
}

// Delete removes the entry for name and persists the index.
func (i *Index) Delete(name string) error {
	return i.Put(name, nil)
}

// save must be called with mu held for writing.
func (i *Index) save() error {
	if err := os.MkdirAll(filepath.Dir(i.path), 0o755); err != nil {
		return fmt.Errorf("create imports index directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(i.path), FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create imports index temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(render(i.entries)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write imports index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close imports index: %w", err)
	}
	if err := os.Rename(tmpPath, i.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace imports index: %w", err)
	}
	return nil
}

func render(entries map[string][]string) string {
	var sb strings.Builder
	sb.WriteString("// Generated by kite. Maps each script to the files it imports.\n\n")
	if len(entries) == 0 {
		sb.WriteString("imports: {}\n")
		return sb.String()
	}

	sb.WriteString("imports: {\n")
	for _, name := range slices.Sorted(maps.Keys(entries)) {
		fmt.Fprintf(&sb, "\t%q: [\n", name)
		for _, p := range entries[name] {
			fmt.Fprintf(&sb, "\t\t%q,\n", p)
		}
		sb.WriteString("\t]\n")
	}
	sb.WriteString("}\n")
	return sb.String()
}

func parse(data []byte) (map[string][]string, error) {
	doc, err := cueutil.Decode[struct {
		Imports map[string][]string `json:"imports"`
	}](schema, "#Index", data, cueutil.WithFilename(FileName))
	if err != nil {
		return nil, err
	}

	entries := make(map[string][]string, len(doc.Imports))
	for name, paths := range doc.Imports {
		entries[name] = dedupe(paths)
	}
	return entries, nil
}

func dedupe(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
