// SPDX-License-Identifier: MPL-2.0

package artifactcache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Extension is the file extension of compiled artifacts.
const Extension = ".kite"

type (
	// Artifact is a compiled script stored in the cache.
	Artifact struct {
		Name      string
		Key       Key
		Path      string
		CreatedAt time.Time
	}

	// StorageError reports a failed read or write of the cache directory.
	// Callers treat it as a cache miss and recompile.
	StorageError struct {
		Op   string
		Path string
		Err  error
	}

	// Cache is a directory of compiled artifacts. Methods are safe for
	// concurrent use as long as a single script name is not stored and
	// pruned concurrently, which the orchestrator guarantees.
	Cache struct {
		dir string
	}
)

func (e *StorageError) Error() string {
	return fmt.Sprintf("artifact cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// New returns a cache rooted at dir. The directory is created on first store.
func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// PathFor returns the artifact path for name under key.
func (c *Cache) PathFor(name string, key Key) string {
	return filepath.Join(c.dir, name+"."+string(key)+Extension)
}

// Lookup returns the artifact for name under key. A miss returns
// (nil, false, nil); a storage failure returns a *StorageError.
func (c *Cache) Lookup(name string, key Key) (*Artifact, bool, error) {
	path := c.PathFor(name, key)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, &StorageError{Op: "stat", Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, false, &StorageError{Op: "stat", Path: path, Err: errors.New("not a regular file")}
	}
	return &Artifact{Name: name, Key: key, Path: path, CreatedAt: info.ModTime()}, true, nil
}

// Read returns the bytes of a stored artifact.
func (c *Cache) Read(a *Artifact) ([]byte, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, &StorageError{Op: "read", Path: a.Path, Err: err}
	}
	return data, nil
}

// Store writes data under (name, key). The write goes through a temporary
// file and a rename. If an artifact already exists for the key it is kept
// unchanged and returned.
func (c *Cache) Store(name string, key Key, data []byte) (*Artifact, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if existing, ok, err := c.Lookup(name, key); err == nil && ok {
		return existing, nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: c.dir, Err: err}
	}

	path := c.PathFor(name, key)
	tmp, err := os.CreateTemp(c.dir, "."+name+".*.tmp")
	if err != nil {
		return nil, &StorageError{Op: "create", Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, &StorageError{Op: "rename", Path: path, Err: err}
	}

	return &Artifact{Name: name, Key: key, Path: path, CreatedAt: time.Now()}, nil
}

// List returns every artifact stored for name, oldest first.
func (c *Cache) List(name string) ([]Artifact, error) {
	all, err := c.All()
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(a Artifact) bool { return a.Name != name }), nil
}

// All returns every artifact in the cache ordered by name then creation time.
func (c *Cache) All() ([]Artifact, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "list", Path: c.dir, Err: err}
	}

	var out []Artifact
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name, key, ok := ParseFileName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Artifact{
			Name:      name,
			Key:       key,
			Path:      filepath.Join(c.dir, e.Name()),
			CreatedAt: info.ModTime(),
		})
	}
	slices.SortFunc(out, func(a, b Artifact) int {
		if n := strings.Compare(a.Name, b.Name); n != 0 {
			return n
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// Prune deletes every artifact of name whose key differs from keep and
// returns the removed paths. Removal continues past individual failures;
// the first failure is returned.
func (c *Cache) Prune(name string, keep Key) ([]string, error) {
	artifacts, err := c.List(name)
	if err != nil {
		return nil, err
	}

	var (
		removed  []string
		firstErr error
	)
	for _, a := range artifacts {
		if a.Key == keep {
			continue
		}
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			if firstErr == nil {
				firstErr = &StorageError{Op: "remove", Path: a.Path, Err: err}
			}
			continue
		}
		removed = append(removed, a.Path)
	}
	return removed, firstErr
}

// PruneExcept removes artifacts of every script not listed in names.
func (c *Cache) PruneExcept(names []string) ([]string, error) {
	all, err := c.All()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, a := range all {
		if slices.Contains(names, a.Name) {
			continue
		}
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, &StorageError{Op: "remove", Path: a.Path, Err: err}
		}
		removed = append(removed, a.Path)
	}
	return removed, nil
}

// ParseFileName splits "<name>.<key>.kite" into its parts.
func ParseFileName(file string) (string, Key, bool) {
	base, ok := strings.CutSuffix(file, Extension)
	if !ok {
		return "", "", false
	}
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 {
		return "", "", false
	}
	key := Key(base[dot+1:])
	if key.Validate() != nil {
		return "", "", false
	}
	return base[:dot], key, true
}
