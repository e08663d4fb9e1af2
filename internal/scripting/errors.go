// SPDX-License-Identifier: MPL-2.0

package scripting

import (
	"errors"
	"fmt"
	"strings"

	"github.com/echoninelabs/kite/pkg/compiler"
)

// Diagnostic codes produced by the compile pipeline.
const (
	CodeImportCycle      = "import_cycle"
	CodeDependency       = "dependency_unresolved"
	CodeCache            = "cache_unavailable"
	CodeJobPanicked      = "job_panicked"
	CodeEvaluation       = "evaluation_failed"
	CodeLoadHook         = "load_failed"
	CodeScanFailed       = "scan_failed"
	CodeSourceUnreadable = "source_unreadable"
)

var (
	// ErrAlreadyLoaded is returned by Load for a registered name.
	ErrAlreadyLoaded = errors.New("script already loaded")
	// ErrNotLoaded is returned by Unload and Reload for an unregistered name.
	ErrNotLoaded = errors.New("script not loaded")
	// ErrInProgress is returned when another operation holds the name.
	ErrInProgress = errors.New("operation already in progress for script")
	// ErrNotFound is returned by Load when no unit has the name.
	ErrNotFound = errors.New("script not found")
	// ErrJobFailed is the sentinel wrapped by JobError.
	ErrJobFailed = errors.New("compile job failed")
	// ErrInvalidOptions is the sentinel wrapped by InvalidOptionsError.
	ErrInvalidOptions = errors.New("invalid script manager options")
)

type (
	// JobError reports a compile job that ended with a failing diagnostic.
	JobError struct {
		Name        string
		Diagnostics []compiler.Diagnostic
	}

	// InvalidOptionsError collects the problems found by Options.Validate.
	InvalidOptionsError struct {
		FieldErrors []error
	}
)

func (e *JobError) Error() string {
	for _, d := range e.Diagnostics {
		if d.Severity.Failing() {
			return fmt.Sprintf("script %s failed: %s", e.Name, d)
		}
	}
	return fmt.Sprintf("script %s failed", e.Name)
}

func (e *JobError) Unwrap() error { return ErrJobFailed }

// HasCode reports whether a failing diagnostic carries code.
func (e *JobError) HasCode(code string) bool {
	for _, d := range e.Diagnostics {
		if d.Severity.Failing() && d.Code == code {
			return true
		}
	}
	return false
}

func (e *InvalidOptionsError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidOptions, strings.Join(msgs, "; "))
}

func (e *InvalidOptionsError) Unwrap() error { return ErrInvalidOptions }
