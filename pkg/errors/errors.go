// Package errors provides structured error types for the gerbershot conversion
// pipeline.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the CLI, the upload server and the pipeline
//   - Machine-readable error codes for programmatic handling
//   - A distinct user-facing message per failure kind
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Every pipeline stage fails with exactly one code:
//   - STORAGE: the scratch or output directory is unusable
//   - EXTRACTION, EMPTY_ARCHIVE: the uploaded archive is corrupt, oversized or empty
//   - MISSING_LAYER: a required gerber layer is absent from the archive
//   - COMPOSITION: the stackup composer rejected the layers
//   - RENDER: the rasterizer failed to produce a PNG
//
// # Usage
//
//	err := errors.New(errors.ErrCodeEmptyArchive, "no files extracted from %s", name)
//	if errors.Is(err, errors.ErrCodeEmptyArchive) {
//	    // Handle empty upload
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeRender, origErr, "rasterize %s", name)
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input errors: the uploaded archive is at fault.
	ErrCodeExtraction   Code = "EXTRACTION"
	ErrCodeEmptyArchive Code = "EMPTY_ARCHIVE"
	ErrCodeMissingLayer Code = "MISSING_LAYER"
	ErrCodeComposition  Code = "COMPOSITION"
	ErrCodeInvalidInput Code = "INVALID_INPUT"
	ErrCodeInvalidPath  Code = "INVALID_PATH"

	// Server errors: the environment or a backend is at fault.
	ErrCodeStorage       Code = "STORAGE"
	ErrCodeRender        Code = "RENDER"
	ErrCodeInvalidConfig Code = "INVALID_CONFIG"
	ErrCodeNotFound      Code = "NOT_FOUND"
	ErrCodeCanceled      Code = "CANCELED"
	ErrCodeInternal      Code = "INTERNAL_ERROR"

	// ErrCodeCleanup only ever appears on warnings, never on a returned error.
	ErrCodeCleanup Code = "CLEANUP"
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

// coder is implemented by typed errors that carry their own code.
type coder interface {
	ErrorCode() Code
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error or a typed error with a
// matching code. The outermost coded error wins.
func Is(err error, code Code) bool {
	return GetCode(err) == code && code != ""
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if no error in the chain carries a code.
func GetCode(err error) Code {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Code
		case coder:
			return e.ErrorCode()
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	var m *MissingLayerError
	if errors.As(err, &m) {
		return m.Error()
	}
	return err.Error()
}

// MissingLayerError reports a required gerber layer that is absent from an
// extracted archive.
type MissingLayerError struct {
	Role         string // Logical layer role, e.g. "silkscreen_top"
	ExpectedPath string // Path relative to the extraction root
}

// Error implements the error interface.
func (e *MissingLayerError) Error() string {
	return fmt.Sprintf("missing %s layer: expected %s", e.Role, e.ExpectedPath)
}

// ErrorCode returns ErrCodeMissingLayer.
func (e *MissingLayerError) ErrorCode() Code {
	return ErrCodeMissingLayer
}

// Warning is a non-fatal problem attached to an otherwise complete result.
// It is deliberately not an error so it can never replace a primary result.
type Warning struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// String formats the warning like an error.
func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Code, w.Message)
}

// CleanupWarning builds a warning for a failed scratch directory removal.
func CleanupWarning(dir string, cause error) Warning {
	return Warning{
		Code:    ErrCodeCleanup,
		Message: fmt.Sprintf("remove scratch directory %s: %v", dir, cause),
	}
}

// HTTPStatus maps an error code to the status the upload server responds with.
// Problems with the uploaded archive are client errors, everything else is a
// server error.
func HTTPStatus(code Code) int {
	switch code {
	case ErrCodeExtraction, ErrCodeEmptyArchive, ErrCodeMissingLayer,
		ErrCodeComposition, ErrCodeInvalidInput, ErrCodeInvalidPath:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Describe returns the headline shown to users for each failure kind.
func Describe(code Code) string {
	switch code {
	case ErrCodeExtraction:
		return "The uploaded file could not be read as a zip archive."
	case ErrCodeEmptyArchive:
		return "The uploaded archive does not contain any files."
	case ErrCodeMissingLayer:
		return "The uploaded archive is missing a required gerber layer."
	case ErrCodeComposition:
		return "The gerber files in the archive could not be combined into a board."
	case ErrCodeRender:
		return "The board image could not be rendered."
	case ErrCodeStorage, ErrCodeInvalidConfig:
		return "The server is misconfigured and cannot store conversions."
	case ErrCodeInvalidInput, ErrCodeInvalidPath:
		return "The request was invalid."
	case ErrCodeNotFound:
		return "Not found."
	case ErrCodeCanceled:
		return "The conversion was cancelled before it finished."
	default:
		return "An unexpected error occurred."
	}
}
