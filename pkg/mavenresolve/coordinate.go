// SPDX-License-Identifier: MPL-2.0

package mavenresolve

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidCoordinate is the sentinel wrapped by InvalidCoordinateError.
	ErrInvalidCoordinate = errors.New("invalid maven coordinate")
	// ErrInvalidRepository is the sentinel wrapped by InvalidRepositoryError.
	ErrInvalidRepository = errors.New("invalid repository url")
)

type (
	// Coordinate is "group:artifact:version" with an optional classifier.
	Coordinate struct {
		Group      string
		Artifact   string
		Version    string
		Classifier string
	}

	// InvalidCoordinateError is returned by ParseCoordinate.
	InvalidCoordinateError struct {
		Value  string
		Reason string
	}

	// Repository is the base URL of a Maven repository.
	Repository string

	// InvalidRepositoryError is returned by Repository.Validate.
	InvalidRepositoryError struct {
		Value Repository
	}

	// Declaration is one dependency directive: either a coordinate or a
	// path to a jar on disk.
	Declaration struct {
		Raw        string
		Coordinate Coordinate
		File       string
	}
)

// MavenCentral is the default repository.
const MavenCentral Repository = "https://repo.maven.apache.org/maven2"

func (e *InvalidCoordinateError) Error() string {
	return fmt.Sprintf("invalid maven coordinate %q: %s", e.Value, e.Reason)
}

func (e *InvalidCoordinateError) Unwrap() error { return ErrInvalidCoordinate }

func (e *InvalidRepositoryError) Error() string {
	return fmt.Sprintf("invalid repository url %q (must be http or https)", string(e.Value))
}

func (e *InvalidRepositoryError) Unwrap() error { return ErrInvalidRepository }

// ParseCoordinate parses "group:artifact:version[:classifier]".
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 3 || len(parts) > 4 {
		return Coordinate{}, &InvalidCoordinateError{Value: s, Reason: "want group:artifact:version[:classifier]"}
	}
	for i, p := range parts {
		if p == "" {
			return Coordinate{}, &InvalidCoordinateError{Value: s, Reason: fmt.Sprintf("part %d is empty", i+1)}
		}
		if strings.ContainsAny(p, `/\ `) {
			return Coordinate{}, &InvalidCoordinateError{Value: s, Reason: fmt.Sprintf("part %q contains a path separator or space", p)}
		}
	}
	c := Coordinate{Group: parts[0], Artifact: parts[1], Version: parts[2]}
	if len(parts) == 4 {
		c.Classifier = parts[3]
	}
	return c, nil
}

// Key is the normalized identity used for deduplication.
func (c Coordinate) Key() string {
	k := c.Group + ":" + c.Artifact + ":" + c.Version
	if c.Classifier != "" {
		k += ":" + c.Classifier
	}
	return k
}

func (c Coordinate) String() string { return c.Key() }

// FileName is the name of the installed jar, "<group>.<artifact>-<version>.jar".
func (c Coordinate) FileName() string {
	return c.baseName() + ".jar"
}

// RelocatedFileName names the relocated variant produced under the rule set
// identified by fingerprint.
func (c Coordinate) RelocatedFileName(fingerprint string) string {
	return c.baseName() + "-relocated-" + fingerprint + ".jar"
}

func (c Coordinate) baseName() string {
	n := c.Group + "." + c.Artifact + "-" + c.Version
	if c.Classifier != "" {
		n += "-" + c.Classifier
	}
	return n
}

func (c Coordinate) remoteDir() string {
	return path.Join(strings.ReplaceAll(c.Group, ".", "/"), c.Artifact, c.Version)
}

// POMPath is the repository-relative path of the POM.
func (c Coordinate) POMPath() string {
	return path.Join(c.remoteDir(), c.Artifact+"-"+c.Version+".pom")
}

// JarPath is the repository-relative path of the jar.
func (c Coordinate) JarPath() string {
	name := c.Artifact + "-" + c.Version
	if c.Classifier != "" {
		name += "-" + c.Classifier
	}
	return path.Join(c.remoteDir(), name+".jar")
}

// Normalize trims whitespace and trailing slashes.
func (r Repository) Normalize() Repository {
	return Repository(strings.TrimRight(strings.TrimSpace(string(r)), "/"))
}

// Validate requires an http or https URL.
func (r Repository) Validate() error {
	s := string(r.Normalize())
	if !strings.HasPrefix(s, "https://") && !strings.HasPrefix(s, "http://") {
		return &InvalidRepositoryError{Value: r}
	}
	if len(s) <= len("https://") {
		return &InvalidRepositoryError{Value: r}
	}
	return nil
}

func (r Repository) String() string { return string(r) }

// URL joins the repository with a repository-relative path.
func (r Repository) URL(rel string) string {
	return string(r.Normalize()) + "/" + rel
}

// ParseDeclaration classifies a dependency directive. Values ending in
// ".jar" are files, resolved against baseDir when relative; everything else
// must be a coordinate.
func ParseDeclaration(raw, baseDir string) (Declaration, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasSuffix(raw, ".jar") {
		file := raw
		if !filepath.IsAbs(file) && baseDir != "" {
			file = filepath.Join(baseDir, file)
		}
		return Declaration{Raw: raw, File: filepath.Clean(file)}, nil
	}
	c, err := ParseCoordinate(raw)
	if err != nil {
		return Declaration{}, err
	}
	return Declaration{Raw: raw, Coordinate: c}, nil
}

// IsFile reports whether the declaration names a jar on disk.
func (d Declaration) IsFile() bool { return d.File != "" }
