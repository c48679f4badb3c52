// Package errors provides structured error handling for the application.
// It defines AppError type with error codes for consistent API responses.
package errors

import (
	"errors"
	"fmt"
)

// Error codes organized by category
const (
	// General errors (1000-1099)
	CodeSuccess       = 0
	CodeUnknown       = 1000
	CodeInvalidParams = 1001
	CodeNotFound      = 1002
	CodeUnauthorized  = 1003

	// Agent API errors (1100-1199)
	CodeRunNotFound     = 1100
	CodeAgentTransient  = 1101
	CodeRunCreateFailed = 1102
	CodeRunResumeFailed = 1103
	CodeRunStopFailed   = 1104

	// Cache errors (1200-1299)
	CodeCacheCorrupted = 1200
	CodeCacheRead      = 1201
	CodeCacheWrite     = 1202

	// Monitoring / sync errors (1300-1399)
	CodeRetriesExhausted = 1300
	CodeSyncFailed       = 1301

	// Search errors (1400-1499)
	CodeGithubSearch = 1400
	CodeNpmSearch    = 1401

	// Storage errors (1500-1599)
	CodeDBError = 1500
)

// AppError represents a structured application error
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Cause   error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code int, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithDetail wraps an error with additional detail
func WrapWithDetail(code int, message string, detail string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Detail:  detail,
		Cause:   cause,
	}
}

// Is checks if the target error is an AppError with the specified code
func Is(err error, code int) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetCode extracts error code from error, returns CodeUnknown if not AppError
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetMessage extracts message from error
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// Predefined common errors
var (
	ErrInvalidParams = New(CodeInvalidParams, "Invalid parameters")
	ErrNotFound      = New(CodeNotFound, "Resource not found")
	ErrUnauthorized  = New(CodeUnauthorized, "Unauthorized")

	// Agent API
	ErrRunNotFound    = New(CodeRunNotFound, "Run not found")
	ErrAgentTransient = New(CodeAgentTransient, "Agent API request failed")

	// Cache
	ErrCacheCorrupted = New(CodeCacheCorrupted, "Cached record is corrupted")

	// Monitoring / sync
	ErrRetriesExhausted = New(CodeRetriesExhausted, "Retry budget exhausted")
	ErrSyncFailed       = New(CodeSyncFailed, "Organization sync failed")

	// Storage
	ErrDBError = New(CodeDBError, "Database error")
)

// IsRunNotFound reports whether err carries the authoritative
// upstream-deletion signal (HTTP 404 in the agent API).
func IsRunNotFound(err error) bool {
	return Is(err, CodeRunNotFound)
}
