// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/echoninelabs/kite/internal/issue"
	"github.com/echoninelabs/kite/internal/scripting"
	"github.com/echoninelabs/kite/pkg/artifactcache"
	"github.com/echoninelabs/kite/pkg/mavenresolve"
)

// ServiceError is an error the CLI renders with a styled message and,
// when IssueID is set, the matching catalog entry.
type ServiceError struct {
	Err           error
	IssueID       issue.Id
	StyledMessage string
}

// newServiceError panics on a nil err.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{Err: err, IssueID: issueID, StyledMessage: styledMessage}
}

func (e *ServiceError) Error() string { return e.Err.Error() }

func (e *ServiceError) Unwrap() error { return e.Err }

// classifyError maps a failure to its catalog entry, or 0 when none fits.
func classifyError(err error) issue.Id {
	var (
		jobErr *scripting.JobError
		ae     *issue.ActionableError
		se     *artifactcache.StorageError
	)
	switch {
	case errors.As(err, &ae) && ae.Issue != 0:
		return ae.Issue
	case errors.Is(err, scripting.ErrNotFound):
		return issue.ScriptNotFoundId
	case errors.Is(err, scripting.ErrAlreadyLoaded):
		return issue.ScriptAlreadyLoadedId
	case errors.Is(err, scripting.ErrNotLoaded):
		return issue.ScriptNotLoadedId
	case errors.Is(err, scripting.ErrInProgress):
		return issue.OperationInProgressId
	case errors.As(err, &jobErr) && jobErr.HasCode(scripting.CodeImportCycle):
		return issue.ImportCycleId
	case errors.As(err, &jobErr):
		return issue.CompilationFailedId
	case errors.Is(err, mavenresolve.ErrNotFound):
		return issue.DependencyUnresolvedId
	case errors.As(err, &se):
		return issue.CacheUnavailableId
	default:
		return 0
	}
}

// wrapServiceError classifies err and pre-renders its message.
func wrapServiceError(err error, verbose bool) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	msg := fmt.Sprintf("\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))
	return newServiceError(err, classifyError(err), msg)
}

// renderServiceError prints the styled message, then the catalog entry.
func renderServiceError(stderr io.Writer, svcErr *ServiceError) {
	if svcErr == nil {
		return
	}
	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}
	if svcErr.IssueID == 0 {
		return
	}
	if entry := issue.Get(svcErr.IssueID); entry != nil {
		rendered, err := entry.Render("dark")
		if err != nil {
			slog.Warn("failed to render issue catalog entry", "issue", svcErr.IssueID, "error", err)
			return
		}
		fmt.Fprint(stderr, rendered)
	}
}

func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}
