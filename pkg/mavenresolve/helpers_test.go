// SPDX-License-Identifier: MPL-2.0

package mavenresolve

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

type fakeRepo struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	requests map[string]int
	failures map[string]int
}

func newFakeRepo(t *testing.T) *fakeRepo {
	t.Helper()
	r := &fakeRepo{
		files:    make(map[string][]byte),
		requests: make(map[string]int),
		failures: make(map[string]int),
	}
	r.Server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Close)
	return r
}

func (r *fakeRepo) serve(w http.ResponseWriter, req *http.Request) {
	p := strings.TrimPrefix(req.URL.Path, "/")
	r.mu.Lock()
	r.requests[p]++
	if r.failures[p] > 0 {
		r.failures[p]--
		r.mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	data, ok := r.files[p]
	r.mu.Unlock()
	if !ok {
		http.NotFound(w, req)
		return
	}
	_, _ = w.Write(data)
}

func (r *fakeRepo) repo() Repository { return Repository(r.URL) }

// publish adds a POM and, unless packaging is "pom", a jar.
func (r *fakeRepo) publish(t *testing.T, coord string, pomBody string, jar []byte) {
	t.Helper()
	c, err := ParseCoordinate(coord)
	if err != nil {
		t.Fatal(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[c.POMPath()] = []byte(pomBody)
	if jar != nil {
		r.files[c.JarPath()] = jar
	}
}

func (r *fakeRepo) count(rel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[rel]
}

func (r *fakeRepo) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.requests {
		n += c
	}
	return n
}

func (r *fakeRepo) failNext(rel string, times int) {
	r.mu.Lock()
	r.failures[rel] = times
	r.mu.Unlock()
}

type dep struct {
	coord    string
	scope    string
	optional bool
}

func pomXML(coord string, deps []dep, repos ...string) string {
	parts := strings.Split(coord, ":")
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<project xmlns="http://maven.apache.org/POM/4.0.0">` + "\n")
	fmt.Fprintf(&sb, "<groupId>%s</groupId><artifactId>%s</artifactId><version>%s</version>\n", parts[0], parts[1], parts[2])
	if len(repos) > 0 {
		sb.WriteString("<repositories>")
		for _, r := range repos {
			fmt.Fprintf(&sb, "<repository><id>extra</id><url>%s</url></repository>", r)
		}
		sb.WriteString("</repositories>\n")
	}
	sb.WriteString("<dependencies>\n")
	for _, d := range deps {
		dp := strings.Split(d.coord, ":")
		fmt.Fprintf(&sb, "<dependency><groupId>%s</groupId><artifactId>%s</artifactId><version>%s</version>", dp[0], dp[1], dp[2])
		if d.scope != "" {
			fmt.Fprintf(&sb, "<scope>%s</scope>", d.scope)
		}
		if d.optional {
			sb.WriteString("<optional>true</optional>")
		}
		sb.WriteString("</dependency>\n")
	}
	sb.WriteString("</dependencies>\n</project>\n")
	return sb.String()
}

// classFile builds a minimal class whose this_class is name (internal form).
func classFile(name string) []byte {
	var b bytes.Buffer
	w := func(v any) { _ = binary.Write(&b, binary.BigEndian, v) }
	w(uint32(classMagic))
	w(uint16(0))
	w(uint16(52))
	w(uint16(5)) // constant_pool_count
	b.WriteByte(1)
	w(uint16(len(name)))
	b.WriteString(name)
	b.WriteByte(7)
	w(uint16(1))
	b.WriteByte(1)
	w(uint16(len("java/lang/Object")))
	b.WriteString("java/lang/Object")
	b.WriteByte(7)
	w(uint16(3))
	w(uint16(0x0021)) // access
	w(uint16(2))      // this
	w(uint16(4))      // super
	w(uint16(0))      // interfaces
	w(uint16(0))      // fields
	w(uint16(0))      // methods
	w(uint16(0))      // attributes
	return b.Bytes()
}

// firstUTF8 returns constant #1 of a class file built by classFile.
func firstUTF8(t *testing.T, class []byte) string {
	t.Helper()
	if len(class) < 13 || class[10] != 1 {
		t.Fatalf("class file has no leading utf8 constant")
	}
	n := int(binary.BigEndian.Uint16(class[11:13]))
	return string(class[13 : 13+n])
}

func buildJar(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Unix(0, 0)})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func readJar(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		out[f.Name] = content
	}
	return out
}

func newTestResolver(t *testing.T, repos ...Repository) *Resolver {
	t.Helper()
	r, err := New(Options{
		Dir:                 t.TempDir(),
		DefaultRepositories: repos,
		Timeout:             5 * time.Second,
		Retries:             2,
		RetryInterval:       time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}
