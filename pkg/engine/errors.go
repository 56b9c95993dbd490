package engine

import (
	"errors"
	"fmt"
)

// ErrorClass decides how far a failure propagates.
type ErrorClass string

const (
	// ErrorClassFatal aborts the whole batch before any mutation.
	// Examples: dependency cycle, unknown component, no disk space.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassUnit fails a single unit; the batch continues.
	ErrorClassUnit ErrorClass = "unit"

	// ErrorClassSoft is logged as a warning and does not fail anything.
	ErrorClassSoft ErrorClass = "soft"
)

// Error codes.
const (
	ErrCodeValidation       = "validation"
	ErrCodeDependencyCycle  = "dependency_cycle"
	ErrCodeUnknownComponent = "unknown_component"
	ErrCodeDiskSpace        = "disk_space"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodePathDenied       = "path_denied"
	ErrCodeBackupFailed     = "backup_failed"
	ErrCodeInternal         = "internal"
)

// InstallError is a classified installer error.
type InstallError struct {
	// Class is the propagation class.
	Class ErrorClass `json:"class"`

	// Code identifies the failure for programmatic handling.
	Code string `json:"code,omitempty"`

	// Unit is the component involved, if any.
	Unit string `json:"unit,omitempty"`

	// Op is the operation being performed when the error occurred.
	Op string `json:"op,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	msg := e.Message
	if e.Unit != "" {
		msg = fmt.Sprintf("%s (unit=%s)", msg, e.Unit)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *InstallError) Unwrap() error {
	return e.Err
}

// Is matches another InstallError with the same class and code.
func (e *InstallError) Is(target error) bool {
	t, ok := target.(*InstallError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewFatalError creates a batch-level error.
func NewFatalError(code, message string, err error) *InstallError {
	return &InstallError{Class: ErrorClassFatal, Code: code, Message: message, Err: err}
}

// NewUnitError creates a per-unit error.
func NewUnitError(unit, message string, err error) *InstallError {
	return &InstallError{Class: ErrorClassUnit, Unit: unit, Message: message, Err: err}
}

// NewSoftError creates a best-effort error.
func NewSoftError(message string, err error) *InstallError {
	return &InstallError{Class: ErrorClassSoft, Message: message, Err: err}
}

// WithUnit adds unit context to an error.
func (e *InstallError) WithUnit(unit string) *InstallError {
	e.Unit = unit
	return e
}

// WithOp adds operation context to an error.
func (e *InstallError) WithOp(op string) *InstallError {
	e.Op = op
	return e
}

// WithCode sets the error code.
func (e *InstallError) WithCode(code string) *InstallError {
	e.Code = code
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *InstallError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsFatal reports whether err aborts the batch.
func IsFatal(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassFatal
}

// IsUnitFailure reports whether err is confined to one unit.
func IsUnitFailure(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassUnit
}

// IsSoft reports whether err is best-effort only.
func IsSoft(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassSoft
}

// HasCode reports whether err is an InstallError with the given code.
func HasCode(err error, code string) bool {
	var e *InstallError
	return errors.As(err, &e) && e.Code == code
}
