// SPDX-License-Identifier: MPL-2.0

package mavenresolve

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
)

const classMagic = 0xCAFEBABE

type (
	// Relocation rewrites the dotted package prefix Pattern to Replacement.
	Relocation struct {
		Pattern     string
		Replacement string
	}

	relocator struct {
		rules []relocationRule
	}

	relocationRule struct {
		from, to           string
		fromSlash, toSlash string
	}
)

// Fingerprint identifies a rule set. Relocated jars produced under
// different rule sets never share a file name.
func Fingerprint(rules []Relocation) string {
	h := sha256.New()
	for _, r := range rules {
		fmt.Fprintf(h, "%s\x00%s\x00", r.Pattern, r.Replacement)
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func newRelocator(rules []Relocation) *relocator {
	r := &relocator{}
	for _, rule := range rules {
		from := strings.Trim(strings.TrimSpace(rule.Pattern), ".")
		to := strings.Trim(strings.TrimSpace(rule.Replacement), ".")
		if from == "" || to == "" {
			continue
		}
		r.rules = append(r.rules, relocationRule{
			from:      from,
			to:        to,
			fromSlash: strings.ReplaceAll(from, ".", "/"),
			toSlash:   strings.ReplaceAll(to, ".", "/"),
		})
	}
	return r
}

// rewrite relocates every package prefix in a class name, descriptor,
// resource path or string constant, in dotted and internal (slashed) form.
// A prefix matches only at the start of s or after a character that cannot
// continue a Java identifier, or after the "L" opening an object type. Each
// position is rewritten by the first matching rule and replaced text is
// never matched again.
func (r *relocator) rewrite(s string) string {
	var (
		sb   strings.Builder
		last int
	)
	for i := 0; i < len(s); i++ {
		if !atBoundary(s, i) {
			continue
		}
		n, to, ok := r.match(s[i:])
		if !ok {
			continue
		}
		sb.WriteString(s[last:i])
		sb.WriteString(to)
		i += n - 1
		last = i + 1
	}
	if last == 0 {
		return s
	}
	sb.WriteString(s[last:])
	return sb.String()
}

// match reports the length of the rule prefix rest starts with and its
// replacement. The prefix must end rest or be followed by its separator.
func (r *relocator) match(rest string) (int, string, bool) {
	for _, rule := range r.rules {
		for _, f := range [...]struct {
			from, to string
			sep      byte
		}{
			{rule.fromSlash, rule.toSlash, '/'},
			{rule.from, rule.to, '.'},
		} {
			if !strings.HasPrefix(rest, f.from) {
				continue
			}
			if len(rest) == len(f.from) || rest[len(f.from)] == f.sep {
				return len(f.from), f.to, true
			}
		}
	}
	return 0, "", false
}

func atBoundary(s string, i int) bool {
	if i == 0 || !isIdentByte(s[i-1]) {
		return true
	}
	return s[i-1] == 'L' && (i == 1 || !isIdentByte(s[i-2]))
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' || b >= 0x80 ||
		'a' <= b && b <= 'z' || 'A' <= b && b <= 'Z' || '0' <= b && b <= '9'
}

// relocateJar returns a copy of the jar with entry names, class constant
// pools and service descriptors rewritten. Signature files are dropped
// since rewritten entries would no longer verify.
func (r *relocator) relocateJar(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open jar: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	seen := make(map[string]struct{}, len(zr.File))

	for _, f := range zr.File {
		if isSignatureFile(f.Name) {
			continue
		}
		name := r.entryName(f.Name)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		hdr := &zip.FileHeader{
			Name:     name,
			Method:   f.Method,
			Modified: f.Modified,
			Comment:  f.Comment,
		}
		hdr.SetMode(f.Mode())
		if f.FileInfo().IsDir() {
			hdr.Method = zip.Store
		}

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("write entry %s: %w", name, err)
		}
		if f.FileInfo().IsDir() {
			continue
		}

		content, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		content, err = r.entryContent(f.Name, content)
		if err != nil {
			return nil, fmt.Errorf("relocate %s: %w", f.Name, err)
		}
		if _, err := w.Write(content); err != nil {
			return nil, fmt.Errorf("write entry %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish jar: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *relocator) entryName(name string) string {
	if rest, ok := strings.CutPrefix(name, "META-INF/services/"); ok && rest != "" {
		return "META-INF/services/" + r.rewrite(rest)
	}
	if strings.HasPrefix(name, "META-INF/") {
		return name
	}
	return r.rewrite(name)
}

func (r *relocator) entryContent(name string, content []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(name, ".class"):
		return r.relocateClass(content)
	case strings.HasPrefix(name, "META-INF/services/"):
		lines := strings.Split(string(content), "\n")
		for i, line := range lines {
			lines[i] = r.rewrite(line)
		}
		return []byte(strings.Join(lines, "\n")), nil
	default:
		return content, nil
	}
}

// relocateClass rewrites the CONSTANT_Utf8 entries of a class file. Every
// other constant is index-addressed and copied unchanged, as is everything
// after the constant pool.
func (r *relocator) relocateClass(data []byte) ([]byte, error) {
	if len(data) < 10 || binary.BigEndian.Uint32(data) != classMagic {
		return data, nil
	}

	count := int(binary.BigEndian.Uint16(data[8:10]))
	out := bytes.NewBuffer(make([]byte, 0, len(data)+64))
	out.Write(data[:10])

	pos := 10
	for i := 1; i < count; i++ {
		if pos >= len(data) {
			return nil, errors.New("truncated constant pool")
		}
		tag := data[pos]
		var size int
		switch tag {
		case 1: // Utf8
			if pos+3 > len(data) {
				return nil, errors.New("truncated utf8 constant")
			}
			n := int(binary.BigEndian.Uint16(data[pos+1 : pos+3]))
			if pos+3+n > len(data) {
				return nil, errors.New("truncated utf8 constant")
			}
			s := r.rewrite(string(data[pos+3 : pos+3+n]))
			if len(s) > 0xFFFF {
				return nil, errors.New("relocated constant exceeds 65535 bytes")
			}
			out.WriteByte(tag)
			_ = binary.Write(out, binary.BigEndian, uint16(len(s)))
			out.WriteString(s)
			pos += 3 + n
			continue
		case 7, 8, 16, 19, 20: // Class, String, MethodType, Module, Package
			size = 3
		case 15: // MethodHandle
			size = 4
		case 3, 4, 9, 10, 11, 12, 17, 18: // Integer, Float, refs, NameAndType, Dynamic, InvokeDynamic
			size = 5
		case 5, 6: // Long, Double take two slots
			size = 9
			i++
		default:
			return nil, fmt.Errorf("unknown constant pool tag %d at offset %d", tag, pos)
		}
		if pos+size > len(data) {
			return nil, errors.New("truncated constant pool")
		}
		out.Write(data[pos : pos+size])
		pos += size
	}
	out.Write(data[pos:])
	return out.Bytes(), nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", f.Name, err)
	}
	return data, nil
}

func isSignatureFile(name string) bool {
	if !strings.HasPrefix(name, "META-INF/") || strings.Count(name, "/") != 1 {
		return false
	}
	upper := strings.ToUpper(name)
	for _, ext := range []string{".SF", ".RSA", ".DSA", ".EC"} {
		if strings.HasSuffix(upper, ext) {
			return true
		}
	}
	return false
}
