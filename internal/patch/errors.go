package patch

import (
	"fmt"

	errors "github.com/Laisky/errors/v2"
)

// ErrorCode identifies a machine-stable pipeline error code.
type ErrorCode string

const (
	ErrCodeParseFailed      ErrorCode = "PARSE_FAILED"
	ErrCodeMissingField     ErrorCode = "MISSING_FIELD"
	ErrCodeInvalidField     ErrorCode = "INVALID_FIELD"
	ErrCodeOutOfRange       ErrorCode = "OUT_OF_RANGE"
	ErrCodeFileNotFound     ErrorCode = "FILE_NOT_FOUND"
	ErrCodeOverlappingEdits ErrorCode = "OVERLAPPING_EDITS"
	ErrCodeUnbalanced       ErrorCode = "UNBALANCED_BRACKETS"
	ErrCodePlaceholder      ErrorCode = "PLACEHOLDER"
	ErrCodeApplyFailed      ErrorCode = "APPLY_FAILED"
	ErrCodeStaleSnapshot    ErrorCode = "STALE_SNAPSHOT"
	ErrCodeResourceBusy     ErrorCode = "RESOURCE_BUSY"
	ErrCodeBackupNotFound   ErrorCode = "BACKUP_NOT_FOUND"
	ErrCodeRollbackFailed   ErrorCode = "ROLLBACK_FAILED"
	ErrCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrCodeUnavailable      ErrorCode = "UPSTREAM_UNAVAILABLE"
)

// ErrNotFound is wrapped by stores when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ParseError reports that raw text could not be turned into any structured shape.
type ParseError struct {
	InputLength int
	DirectErr   error
	SanitizeErr error
}

// Error returns the error message.
func (e *ParseError) Error() string {
	if e == nil {
		return "parse error: <nil>"
	}
	return fmt.Sprintf("parse ai response (%d bytes): direct: %v; sanitized: %v",
		e.InputLength, e.DirectErr, e.SanitizeErr)
}

// ValidationError reports a structurally parsed but schema-invalid request.
// Field names the edit index, field or file at fault.
type ValidationError struct {
	Code    ErrorCode
	Field   string
	Message string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	if e == nil {
		return "validation error: <nil>"
	}
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError constructs a ValidationError.
func NewValidationError(code ErrorCode, field, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// PlaceholderError reports generated content that contains a truncation marker.
type PlaceholderError struct {
	File   string
	Marker string
}

// Error returns the error message.
func (e *PlaceholderError) Error() string {
	if e == nil {
		return "placeholder error: <nil>"
	}
	return fmt.Sprintf("file %q contains placeholder %q instead of complete code", e.File, e.Marker)
}

// Unwrap exposes the placeholder failure as a validation failure.
func (e *PlaceholderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return &ValidationError{Code: ErrCodePlaceholder, Field: e.File, Message: "truncated content"}
}

// ApplyError reports a failed write after validation passed.
type ApplyError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error returns the error message.
func (e *ApplyError) Error() string {
	if e == nil {
		return "apply error: <nil>"
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *ApplyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewApplyError constructs an ApplyError.
func NewApplyError(code ErrorCode, message string, retryable bool, cause error) *ApplyError {
	return &ApplyError{Code: code, Message: message, Retryable: retryable, Cause: cause}
}

// RollbackError reports a failed rollback. It is logged, never returned to callers of Rollback.
type RollbackError struct {
	Code     ErrorCode
	BackupID string
	Cause    error
}

// Error returns the error message.
func (e *RollbackError) Error() string {
	if e == nil {
		return "rollback error: <nil>"
	}
	msg := fmt.Sprintf("rollback to backup %s: %s", e.BackupID, e.Code)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RollbackError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// CodeOf extracts the most specific error code in the chain, or "" when none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var placeholderErr *PlaceholderError
	if errors.As(err, &placeholderErr) {
		return ErrCodePlaceholder
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Code
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return ErrCodeParseFailed
	}
	var applyErr *ApplyError
	if errors.As(err, &applyErr) {
		return applyErr.Code
	}
	var rollbackErr *RollbackError
	if errors.As(err, &rollbackErr) {
		return rollbackErr.Code
	}

	return ""
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the failure may succeed on a later attempt.
func IsRetryable(err error) bool {
	var applyErr *ApplyError
	if errors.As(err, &applyErr) {
		return applyErr.Retryable
	}
	return false
}
