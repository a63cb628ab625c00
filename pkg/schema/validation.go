package schema

import (
	"fmt"
	"strings"
)

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// IssueScope separates field-scoped problems from form-wide ones.
type IssueScope string

const (
	ScopeField  IssueScope = "field"
	ScopeGlobal IssueScope = "global"
)

// ValidationIssue is a single validation problem with location context.
// Instance is the zero-based repeat index, or -1 for non-repeating data.
type ValidationIssue struct {
	Scope    IssueScope         `json:"scope"`
	Section  string             `json:"section,omitempty"`
	Instance int                `json:"instance"`
	Field    string             `json:"field,omitempty"`
	Path     string             `json:"path,omitempty"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// FieldLocation pins a field-scoped issue to a question inside a section instance.
type FieldLocation struct {
	Section  string
	Instance int
	Field    string
}

// NoInstance marks a location outside any repeated section instance.
const NoInstance = -1

// Path renders the location as section[instance].field.
func (l FieldLocation) Path() string {
	var b strings.Builder
	b.WriteString(l.Section)
	if l.Instance >= 0 {
		fmt.Fprintf(&b, "[%d]", l.Instance)
	}
	if l.Field != "" {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(l.Field)
	}
	return b.String()
}

// ValidationReport aggregates every issue found for one submission or one
// definition. It never short-circuits; callers get the complete set.
type ValidationReport struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationReport) Valid() bool {
	return r == nil || len(r.Errors) == 0
}

// AddFieldError appends a field-scoped error.
func (r *ValidationReport) AddFieldError(loc FieldLocation, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Scope: ScopeField, Section: loc.Section, Instance: loc.Instance, Field: loc.Field,
		Path: loc.Path(), Code: code, Message: message, Severity: SeverityError,
	})
}

// AddGlobalError appends a form-wide error.
func (r *ValidationReport) AddGlobalError(code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Scope: ScopeGlobal, Instance: NoInstance, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddError appends a path-addressed error, used by definition checks.
func (r *ValidationReport) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Scope: ScopeGlobal, Instance: NoInstance, Path: path, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddWarning appends a warning-severity issue.
func (r *ValidationReport) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Scope: ScopeGlobal, Instance: NoInstance, Path: path, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge combines another ValidationReport into this one.
func (r *ValidationReport) Merge(other *ValidationReport) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// FieldErrors returns the field-scoped errors in insertion order.
func (r *ValidationReport) FieldErrors() []ValidationIssue {
	return r.filter(ScopeField)
}

// GlobalErrors returns the form-wide errors in insertion order.
func (r *ValidationReport) GlobalErrors() []ValidationIssue {
	return r.filter(ScopeGlobal)
}

func (r *ValidationReport) filter(scope IssueScope) []ValidationIssue {
	if r == nil {
		return nil
	}
	var out []ValidationIssue
	for _, issue := range r.Errors {
		if issue.Scope == scope {
			out = append(out, issue)
		}
	}
	return out
}

// HasFieldError reports whether any field error targets the question ID.
func (r *ValidationReport) HasFieldError(questionID string) bool {
	for _, issue := range r.FieldErrors() {
		if issue.Field == questionID {
			return true
		}
	}
	return false
}

// Error makes a failed report usable as an error value.
func (r *ValidationReport) Error() string {
	if r.Valid() {
		return "validation passed"
	}
	if len(r.Errors) == 1 {
		issue := r.Errors[0]
		if issue.Path != "" {
			return fmt.Sprintf("[%s] %s: %s", ErrCodeValidation, issue.Path, issue.Message)
		}
		return fmt.Sprintf("[%s] %s", ErrCodeValidation, issue.Message)
	}
	return fmt.Sprintf("[%s] validation failed with %d errors", ErrCodeValidation, len(r.Errors))
}

// Err returns the report as an error when invalid, nil when valid.
func (r *ValidationReport) Err() error {
	if r.Valid() {
		return nil
	}
	return r
}

// ToError converts the report to a FormError if invalid, nil if valid.
func (r *ValidationReport) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"field_errors":  r.FieldErrors(),
			"global_errors": r.GlobalErrors(),
			"warnings":      r.Warnings,
		})
}
