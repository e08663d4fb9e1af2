// SPDX-License-Identifier: MPL-2.0

package compiler

import (
	"slices"
	"testing"
)

func TestDiagnostic_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		diag Diagnostic
		want string
	}{
		{"no position", Diagnostic{Severity: SeverityWarning, Message: "unused"}, "warning: unused"},
		{"file only", Diagnostic{Severity: SeverityInfo, Message: "m", Position: Position{File: "a.sh"}}, "a.sh: info: m"},
		{"line", Diagnostic{Severity: SeverityError, Message: "m", Position: Position{File: "a.sh", Line: 3}}, "a.sh:3: error: m"},
		{"line and column", Diagnostic{Severity: SeverityFatal, Message: "m", Position: Position{File: "a.sh", Line: 3, Column: 7}}, "a.sh:3:7: fatal: m"},
		{"code", Diagnostic{Severity: SeverityError, Code: "import_cycle", Message: "a -> a"}, "error [import_cycle]: a -> a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.diag.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasFailure(t *testing.T) {
	t.Parallel()

	ok := []Diagnostic{{Severity: SeverityInfo}, {Severity: SeverityWarning}}
	if HasFailure(ok) {
		t.Error("HasFailure(info, warning) = true")
	}
	if !HasFailure(append(ok, Fatalf("panic: %s", "x"))) {
		t.Error("HasFailure(fatal) = false")
	}
	if Severity(9).String() != "severity(9)" {
		t.Errorf("unknown severity String() = %q", Severity(9).String())
	}
}

func TestDirectives_Merge(t *testing.T) {
	t.Parallel()

	a := Directives{
		Dependencies: []string{"g:a:1"},
		Relocations:  []Relocation{{"com.google", "kite.libs.google"}},
	}
	b := Directives{
		Dependencies: []string{"g:a:1", "g:b:2"},
		Repositories: []string{"https://repo"},
		Relocations:  []Relocation{{"com.google", "kite.libs.google"}, {"org.x", "kite.libs.x"}},
	}

	got := a.Merge(b)
	if want := []string{"g:a:1", "g:b:2"}; !slices.Equal(got.Dependencies, want) {
		t.Errorf("Dependencies = %v, want %v", got.Dependencies, want)
	}
	if len(got.Relocations) != 2 {
		t.Errorf("Relocations = %v, want 2 entries", got.Relocations)
	}
	if len(a.Dependencies) != 1 {
		t.Error("Merge mutated its receiver")
	}
}
