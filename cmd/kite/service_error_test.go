// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/echoninelabs/kite/internal/issue"
	"github.com/echoninelabs/kite/internal/scripting"
	"github.com/echoninelabs/kite/pkg/artifactcache"
	"github.com/echoninelabs/kite/pkg/compiler"
	"github.com/echoninelabs/kite/pkg/mavenresolve"
)

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cycle := &scripting.JobError{Name: "loop", Diagnostics: []compiler.Diagnostic{
		{Severity: compiler.SeverityError, Code: scripting.CodeImportCycle, Message: "import cycle"},
	}}
	syntax := &scripting.JobError{Name: "bad", Diagnostics: []compiler.Diagnostic{
		{Severity: compiler.SeverityError, Message: "unexpected token"},
	}}

	tests := []struct {
		name string
		err  error
		want issue.Id
	}{
		{"not found", fmt.Errorf("%w: greet", scripting.ErrNotFound), issue.ScriptNotFoundId},
		{"already loaded", scripting.ErrAlreadyLoaded, issue.ScriptAlreadyLoadedId},
		{"not loaded", scripting.ErrNotLoaded, issue.ScriptNotLoadedId},
		{"in progress", scripting.ErrInProgress, issue.OperationInProgressId},
		{"import cycle", cycle, issue.ImportCycleId},
		{"compile failure", &ExitError{Code: 1, Err: syntax}, issue.CompilationFailedId},
		{"unresolved", &mavenresolve.UnresolvedError{Path: "a.pom"}, issue.DependencyUnresolvedId},
		{"cache", &artifactcache.StorageError{Op: "list", Path: "/c", Err: errors.New("denied")}, issue.CacheUnavailableId},
		{
			"actionable issue wins",
			issue.NewErrorContext().WithOperation("load configuration").WithIssue(issue.ConfigLoadFailedId).Wrap(scripting.ErrNotFound).BuildError(),
			issue.ConfigLoadFailedId,
		},
		{"unknown", errors.New("boom"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := classifyError(tt.err); got != tt.want {
				t.Errorf("classifyError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapServiceError(t *testing.T) {
	t.Parallel()

	if wrapServiceError(nil, false) != nil {
		t.Error("nil error wrapped")
	}

	err := wrapServiceError(&ExitError{Code: 3, Err: scripting.ErrNotLoaded}, false)
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.IssueID != issue.ScriptNotLoadedId {
		t.Fatalf("wrapServiceError() = %#v", err)
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 3 {
		t.Error("exit code lost")
	}
	if again := wrapServiceError(err, false); again != err {
		t.Error("ServiceError wrapped twice")
	}

	var buf bytes.Buffer
	renderServiceError(&buf, svcErr)
	if out := buf.String(); !strings.Contains(out, "Error:") || !strings.Contains(out, "not loaded") {
		t.Errorf("rendered = %q", out)
	}
}

func TestNewServiceError_NilPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("newServiceError(nil) did not panic")
		}
	}()
	_ = newServiceError(nil, 0, "")
}
