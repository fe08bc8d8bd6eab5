// Package shellerr defines the error kinds surfaced by the web shell.
//
// Every failure in the shell is caught at an operation boundary and rendered
// as status text; none of them is fatal to the page. Errors carry a Code so
// callers can match a kind with errors.Is regardless of message or cause.
package shellerr

import (
	"context"
	"errors"
	"fmt"
)

// Code is a machine-readable error kind.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	// Transfer errors
	CodeEmptyNamespace   Code = "EMPTY_NAMESPACE"
	CodeMalformedArchive Code = "MALFORMED_ARCHIVE"
	CodeStorageWrite     Code = "STORAGE_WRITE"
	CodeFileNotFound     Code = "FILE_NOT_FOUND"

	// Access errors
	CodeBusy     Code = "BUSY"
	CodeCanceled Code = "CANCELED"

	// Offline cache errors
	CodeWorkerRegistrationFailed Code = "WORKER_REGISTRATION_FAILED"
)

// Sentinels for matching with errors.Is. Matching is by code, so an error
// built with Wrap(CodeMalformedArchive, ...) matches ErrMalformedArchive.
var (
	ErrEmptyNamespace           = New(CodeEmptyNamespace, "no save files in storage")
	ErrMalformedArchive         = New(CodeMalformedArchive, "save archive is malformed")
	ErrStorageWrite             = New(CodeStorageWrite, "could not write save storage")
	ErrFileNotFound             = New(CodeFileNotFound, "file not found")
	ErrBusy                     = New(CodeBusy, "save storage is busy")
	ErrCanceled                 = New(CodeCanceled, "operation canceled")
	ErrWorkerRegistrationFailed = New(CodeWorkerRegistrationFailed, "offline cache unavailable")
)

// Error is the shell's domain error type.
type Error struct {
	Code    Code   // Machine-readable error kind
	Message string // Human-readable summary, shown as status text
	Cause   error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an error with a code and message wrapping cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain. Context
// cancellation maps to CodeCanceled.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCanceled
	}
	return CodeUnknown
}

// Message renders err as status text for the page.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if CodeOf(err) == CodeCanceled {
		return ErrCanceled.Message
	}
	return err.Error()
}

// FromContext converts a context error into a CodeCanceled error. It returns
// nil when ctx is still live.
func FromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Wrap(CodeCanceled, ErrCanceled.Message, err)
	}
	return nil
}
