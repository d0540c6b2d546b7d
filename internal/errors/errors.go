// Package errors provides structured error handling for portsweep operations.
// It defines error codes, a typed scan error carrying target and context
// information, and helpers that map errors to process exit codes.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"

	// Network and scanning errors.
	CodeResolution        ErrorCode = "RESOLUTION"
	CodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	CodeScanFailed        ErrorCode = "SCAN_FAILED"
)

// Process exit codes returned by the command-line tools.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitValidation = 2
	ExitResolution = 3
	ExitCanceled   = 130
)

// ScanError represents an error that occurred while preparing or running a scan.
type ScanError struct {
	Code    ErrorCode
	Message string
	Target  string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Target != "" {
		msg = fmt.Sprintf("%s (target: %s)", msg, e.Target)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	var se *ScanError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return CodeUnknown
}

// IsFatal determines if an error aborts a job before any probing starts.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeValidation, CodeResolution, CodeConfiguration:
		return true
	default:
		return false
	}
}

// ExitCode maps an error to the process exit code used by the CLI.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch GetCode(err) {
	case CodeValidation, CodeConfiguration:
		return ExitValidation
	case CodeResolution:
		return ExitResolution
	case CodeCanceled:
		return ExitCanceled
	default:
		return ExitFailure
	}
}

// Common error creation functions

// ErrInvalidJob creates an error for a job that failed validation.
func ErrInvalidJob(message string, err error) *ScanError {
	return WrapScanError(CodeValidation, message, err)
}

// ErrResolution creates an error for a host that could not be resolved.
func ErrResolution(host string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeResolution, "Failed to resolve host", host, err)
}

// ErrCanceled creates an error for a scan stopped before completion.
func ErrCanceled(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeCanceled, "Scan canceled before completion", target, err)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ScanError {
	return NewScanError(CodeConfiguration, "Invalid configuration value").
		WithContext("field", field).
		WithContext("value", value)
}
