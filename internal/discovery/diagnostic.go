// SPDX-License-Identifier: MPL-2.0

package discovery

import "fmt"

const (
	// SeverityWarning indicates a unit was skipped but discovery went on.
	SeverityWarning Severity = "warning"
	// SeverityError indicates an entry could not be inspected at all.
	SeverityError Severity = "error"
)

const (
	// CodeDuplicateName is reported for every unit shadowed by an earlier
	// unit of the same name.
	CodeDuplicateName = "duplicate_script_name"
	// CodeUnreadableEntry is reported when a root entry cannot be stat'ed.
	CodeUnreadableEntry = "unreadable_entry"
	// CodeInvalidName is reported for units whose derived name is unusable.
	CodeInvalidName = "invalid_script_name"
)

type (
	// Severity is the level of a discovery diagnostic.
	Severity string

	// Diagnostic is a non-fatal discovery finding returned to the caller
	// for rendering.
	Diagnostic struct {
		Severity Severity
		// Code is a machine-readable identifier such as "duplicate_script_name".
		Code    string
		Message string
		Path    string
		Cause   error
	}
)

func (d Diagnostic) String() string {
	s := fmt.Sprintf("%s [%s] %s", d.Severity, d.Code, d.Message)
	if d.Path != "" {
		s += " (" + d.Path + ")"
	}
	if d.Cause != nil {
		s += ": " + d.Cause.Error()
	}
	return s
}
