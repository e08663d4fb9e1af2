// SPDX-License-Identifier: MPL-2.0

package importsindex

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
)

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	idx := Open(filepath.Join(t.TempDir(), FileName), nil)
	if names := idx.Names(); len(names) != 0 {
		t.Errorf("Names() = %v, want empty", names)
	}
}

func TestOpen_CorruptFileIsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("imports: {{{ not cue"), 0o644); err != nil {
		t.Fatal(err)
	}
	idx := Open(path, nil)
	if names := idx.Names(); len(names) != 0 {
		t.Errorf("Names() = %v, want empty", names)
	}
	if err := idx.Put("greet", []string{"/a.sh"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
}

func TestOpen_WrongShapeIsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("imports: greet: 42\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if names := Open(path, nil).Names(); len(names) != 0 {
		t.Errorf("Names() = %v, want empty", names)
	}
}

func TestPut_RoundTripsThroughDisk(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache", FileName)
	idx := Open(path, nil)

	if err := idx.Put("greet", []string{"/s/b.sh", "/s/a.sh", "/s/b.sh"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := idx.Put("tool", []string{`/s/with "quote".sh`}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	reopened := Open(path, nil)
	if got, want := reopened.Get("greet"), []string{"/s/b.sh", "/s/a.sh"}; !slices.Equal(got, want) {
		t.Errorf("Get(greet) = %v, want %v", got, want)
	}
	if got, want := reopened.Get("tool"), []string{`/s/with "quote".sh`}; !slices.Equal(got, want) {
		t.Errorf("Get(tool) = %v, want %v", got, want)
	}
	if got, want := reopened.Names(), []string{"greet", "tool"}; !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestPut_EmptyListRemovesEntry(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), FileName)
	idx := Open(path, nil)
	if err := idx.Put("greet", []string{"/a.sh"}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Delete("greet"); err != nil {
		t.Fatal(err)
	}
	if got := Open(path, nil).Get("greet"); got != nil {
		t.Errorf("Get(greet) after Delete = %v, want nil", got)
	}
}

func TestPut_RejectsEmptyName(t *testing.T) {
	t.Parallel()

	idx := Open(filepath.Join(t.TempDir(), FileName), nil)
	if err := idx.Put("", []string{"/a.sh"}); err != ErrEmptyName {
		t.Errorf("Put(\"\") error = %v, want ErrEmptyName", err)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	t.Parallel()

	idx := Open(filepath.Join(t.TempDir(), FileName), nil)
	if err := idx.Put("greet", []string{"/a.sh"}); err != nil {
		t.Fatal(err)
	}
	got := idx.Get("greet")
	got[0] = "/mutated"
	if idx.Get("greet")[0] != "/a.sh" {
		t.Error("Get() exposed internal slice")
	}
}

func TestPut_ConcurrentWriters(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), FileName)
	idx := Open(path, nil)

	var wg sync.WaitGroup
	for n := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("script-%02d", n)
			if err := idx.Put(name, []string{"/" + name + ".sh"}); err != nil {
				t.Errorf("Put(%s) error = %v", name, err)
			}
		}()
	}
	wg.Wait()

	if got := len(Open(path, nil).Names()); got != 16 {
		t.Errorf("persisted %d entries, want 16", got)
	}
}
