// Package errors provides structured error types for fuseg.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the library, CLI and HTTP API
//   - Machine-readable error codes for programmatic handling
//   - A clear split between fatal invariant violations and recoverable input errors
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Input and configuration problems use INVALID_* codes. Segmentation
// invariant violations (CYCLE, EDGE_NOT_FOUND, PROTECTED_GROUP,
// UNSCHEDULABLE, INVARIANT_VIOLATION) indicate an algorithmic bug or a
// malformed upstream graph; [IsFatal] reports them.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeCycle, "group %d is its own producer", id)
//	if errors.IsFatal(err) {
//	    // abort the pipeline
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeInvalidFormat, origErr, "read %s", path)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidGraph  Code = "INVALID_GRAPH"
	ErrCodeInvalidFormat Code = "INVALID_FORMAT"
	ErrCodeInvalidConfig Code = "INVALID_CONFIG"
	ErrCodeInvalidPath   Code = "INVALID_PATH"

	// Resource not found errors
	ErrCodeNotFound Code = "NOT_FOUND"

	// Segmentation invariant violations
	ErrCodeCycle              Code = "CYCLE"
	ErrCodeEdgeNotFound       Code = "EDGE_NOT_FOUND"
	ErrCodeProtectedGroup     Code = "PROTECTED_GROUP"
	ErrCodeUnschedulable      Code = "UNSCHEDULABLE"
	ErrCodeInvariantViolation Code = "INVARIANT_VIOLATION"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsFatal reports whether err is a segmentation invariant violation.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case ErrCodeCycle, ErrCodeEdgeNotFound, ErrCodeProtectedGroup,
		ErrCodeUnschedulable, ErrCodeInvariantViolation:
		return true
	}
	return false
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
