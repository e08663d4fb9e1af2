// SPDX-License-Identifier: MPL-2.0

package mavenresolve

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// ManifestFileName records where each installed artifact came from.
	ManifestFileName = "manifest.toml"
	pomDirName       = "poms"
)

// installMu is the process-wide critical section for writes to any
// dependency directory.
var installMu sync.Mutex

type (
	// Manifest is the persisted record of installed artifacts.
	Manifest struct {
		Artifacts map[string]ManifestEntry `toml:"artifacts"`
	}

	// ManifestEntry describes one installed file.
	ManifestEntry struct {
		Repository string    `toml:"repository"`
		File       string    `toml:"file"`
		SHA256     string    `toml:"sha256"`
		Size       int64     `toml:"size"`
		Installed  time.Time `toml:"installed"`
	}

	store struct {
		dir string
	}
)

func (s *store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *store) pomPath(c Coordinate) string {
	return filepath.Join(s.dir, pomDirName, c.Group+"."+c.Artifact+"-"+c.Version+".pom")
}

func (s *store) exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// install writes data to path through a temporary file in the same
// directory. The caller must hold installMu.
func (s *store) install(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("install %s: %w", path, err)
	}
	return nil
}

// LoadManifest reads the manifest in dir. A missing file yields an empty
// manifest.
func LoadManifest(dir string) (*Manifest, error) {
	m := &Manifest{Artifacts: make(map[string]ManifestEntry)}
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, nil
		}
		return nil, fmt.Errorf("read dependency manifest: %w", err)
	}
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse dependency manifest: %w", err)
	}
	if m.Artifacts == nil {
		m.Artifacts = make(map[string]ManifestEntry)
	}
	return m, nil
}

// record adds an entry to the manifest. The caller must hold installMu.
// A corrupt manifest is replaced rather than blocking installation.
func (s *store) record(key string, repo Repository, file string, data []byte) error {
	m, err := LoadManifest(s.dir)
	if err != nil {
		m = &Manifest{Artifacts: make(map[string]ManifestEntry)}
	}
	sum := sha256.Sum256(data)
	m.Artifacts[key] = ManifestEntry{
		Repository: repo.String(),
		File:       file,
		SHA256:     hex.EncodeToString(sum[:]),
		Size:       int64(len(data)),
		Installed:  time.Now().UTC().Truncate(time.Second),
	}
	out, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode dependency manifest: %w", err)
	}
	return s.install(s.path(ManifestFileName), out)
}

// sourceOf returns the repository an artifact was installed from, if known.
func (s *store) sourceOf(key string) Repository {
	m, err := LoadManifest(s.dir)
	if err != nil {
		return ""
	}
	return Repository(m.Artifacts[key].Repository)
}
