// SPDX-License-Identifier: MPL-2.0

package artifactcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// KeyLength is the length of a hex-encoded Key.
const KeyLength = sha256.Size * 2

type (
	// Key identifies compiled output by the content that produced it.
	Key string

	// InvalidKeyError is returned when a string is not a well-formed Key.
	InvalidKeyError struct {
		Value string
	}
)

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid cache key %q: want %d lowercase hex characters", e.Value, KeyLength)
}

// String returns the hex form of the key.
func (k Key) String() string { return string(k) }

// Validate reports whether k is a lowercase hex SHA-256 digest.
func (k Key) Validate() error {
	if len(k) != KeyLength {
		return &InvalidKeyError{Value: string(k)}
	}
	for _, c := range []byte(k) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return &InvalidKeyError{Value: string(k)}
		}
	}
	return nil
}

// ComputeKey derives the cache key of a script from its source and the
// contents of its imports, in import order. Each input is digested on its
// own before the digests are combined, so boundaries between inputs cannot
// shift without changing the key.
func ComputeKey(main []byte, imports ...[]byte) Key {
	h := sha256.New()
	sum := sha256.Sum256(main)
	h.Write(sum[:])
	for _, imp := range imports {
		sum = sha256.Sum256(imp)
		h.Write(sum[:])
	}
	return Key(hex.EncodeToString(h.Sum(nil)))
}

// KeyForFiles reads the entry file and every import from disk and returns
// their combined key.
func KeyForFiles(entryPath string, importPaths []string) (Key, error) {
	main, err := os.ReadFile(entryPath)
	if err != nil {
		return "", fmt.Errorf("read script source: %w", err)
	}
	imports := make([][]byte, 0, len(importPaths))
	for _, p := range importPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("read import %s: %w", p, err)
		}
		imports = append(imports, data)
	}
	return ComputeKey(main, imports...), nil
}
