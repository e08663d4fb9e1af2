// SPDX-License-Identifier: MPL-2.0

package mavenresolve

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// HostProvided lists "group:artifact" globs never resolved transitively
// whatever Options.Exclude says. The host runtime ships these itself.
var HostProvided = []string{"org.jetbrains.kotlin:kotlin-stdlib*"}

type (
	pom struct {
		XMLName      xml.Name      `xml:"project"`
		GroupID      string        `xml:"groupId"`
		ArtifactID   string        `xml:"artifactId"`
		Version      string        `xml:"version"`
		Packaging    string        `xml:"packaging"`
		Parent       pomParent     `xml:"parent"`
		Properties   pomProperties `xml:"properties"`
		Dependencies []pomDep      `xml:"dependencies>dependency"`
		Repositories []pomRepo     `xml:"repositories>repository"`
	}

	pomParent struct {
		GroupID string `xml:"groupId"`
		Version string `xml:"version"`
	}

	pomProperties struct {
		Entries []pomProperty `xml:",any"`
	}

	pomProperty struct {
		XMLName xml.Name
		Value   string `xml:",chardata"`
	}

	pomDep struct {
		GroupID    string `xml:"groupId"`
		ArtifactID string `xml:"artifactId"`
		Version    string `xml:"version"`
		Classifier string `xml:"classifier"`
		Type       string `xml:"type"`
		Scope      string `xml:"scope"`
		Optional   string `xml:"optional"`
	}

	pomRepo struct {
		URL string `xml:"url"`
	}
)

func parsePOM(data []byte) (*pom, error) {
	var p pom
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse pom: %w", err)
	}
	return &p, nil
}

// hasJar reports whether the project publishes a jar. Aggregator and BOM
// projects use "pom" packaging and only contribute dependencies.
func (p *pom) hasJar() bool {
	switch strings.TrimSpace(p.Packaging) {
	case "", "jar", "bundle":
		return true
	default:
		return false
	}
}

// dependencies returns the compile-scope, non-optional dependencies of the
// project owned by owner. Placeholders for the project's group, version and
// declared properties are substituted; entries left without a version and
// entries matching HostProvided or an exclude pattern ("group:artifact"
// globs) are dropped.
func (p *pom) dependencies(owner Coordinate, exclude []string) []Coordinate {
	vars := map[string]string{
		"project.groupId":        owner.Group,
		"project.version":        owner.Version,
		"project.artifactId":     owner.Artifact,
		"pom.groupId":            owner.Group,
		"pom.version":            owner.Version,
		"project.parent.version": p.Parent.Version,
		"project.parent.groupId": p.Parent.GroupID,
	}
	for _, prop := range p.Properties.Entries {
		if _, builtin := vars[prop.XMLName.Local]; !builtin {
			vars[prop.XMLName.Local] = strings.TrimSpace(prop.Value)
		}
	}

	var out []Coordinate
	for _, d := range p.Dependencies {
		if strings.TrimSpace(d.Optional) == "true" {
			continue
		}
		if scope := strings.TrimSpace(d.Scope); scope != "" && scope != "compile" {
			continue
		}
		if t := strings.TrimSpace(d.Type); t != "" && t != "jar" {
			continue
		}
		c := Coordinate{
			Group:      expand(d.GroupID, vars),
			Artifact:   expand(d.ArtifactID, vars),
			Version:    expand(d.Version, vars),
			Classifier: expand(d.Classifier, vars),
		}
		if c.Group == "" || c.Artifact == "" || c.Version == "" || strings.Contains(c.Version, "${") {
			continue
		}
		if excluded(c, HostProvided) || excluded(c, exclude) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (p *pom) repositories() []Repository {
	var out []Repository
	for _, r := range p.Repositories {
		repo := Repository(r.URL).Normalize()
		if repo.Validate() == nil {
			out = append(out, repo)
		}
	}
	return out
}

func expand(s string, vars map[string]string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "${") {
		return s
	}
	var sb strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		end += start
		sb.WriteString(s[:start])
		name := s[start+2 : end]
		if v, ok := vars[name]; ok {
			sb.WriteString(v)
		} else {
			sb.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
}

func excluded(c Coordinate, patterns []string) bool {
	id := c.Group + ":" + c.Artifact
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, id); err == nil && ok {
			return true
		}
	}
	return false
}
