package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeSyntax            = "SYNTAX_ERROR"
	ErrCodeSecurityViolation = "SECURITY_VIOLATION"
	ErrCodeTimeout           = "EVALUATION_TIMEOUT"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeTriggerWarning    = "TRIGGER_WARNING"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeStore             = "STORE_ERROR"
)

// MsgEvaluationFailed is the only message callers ever see for security
// violations and timeouts.
const MsgEvaluationFailed = "evaluation failed"

// FormError is the structured error type for all formflow operations.
type FormError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Field   string         `json:"field,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FormError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] field %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FormError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FormError.
func NewError(code, message string) *FormError {
	return &FormError{Code: code, Message: message}
}

// NewErrorf creates a new FormError with a formatted message.
func NewErrorf(code, format string, args ...any) *FormError {
	return &FormError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithField attaches a question or section ID to the error.
func (e *FormError) WithField(id string) *FormError {
	e.Field = id
	return e
}

// WithCause attaches an underlying cause.
func (e *FormError) WithCause(err error) *FormError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FormError) WithDetails(details map[string]any) *FormError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first FormError in err's chain, or "".
func CodeOf(err error) string {
	var fe *FormError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
