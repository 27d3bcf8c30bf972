// Package errors provides structured error handling for hrsync
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents an application error code
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Feed errors
	ErrStructuralFile ErrorCode = "STRUCTURAL_FILE_ERROR"
	ErrRowValidation  ErrorCode = "ROW_VALIDATION_ERROR"

	// Directory errors
	ErrDirectoryConflict  ErrorCode = "DIRECTORY_CONFLICT"
	ErrDirectoryNotFound  ErrorCode = "DIRECTORY_NOT_FOUND"
	ErrDirectoryTransport ErrorCode = "DIRECTORY_TRANSPORT_ERROR"

	// Storage errors
	ErrStore ErrorCode = "STORE_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Details  string                 `json:"details,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Err      error                  `json:"-"` // Original error for logging
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the original error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithMetadata adds metadata to the error
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Internal creates an internal error
func Internal(message string, err error) *AppError {
	return Wrap(err, ErrInternal, message)
}

// Validation creates a validation error raised while preparing a directory write
func Validation(message string) *AppError {
	return New(ErrValidation, message)
}

// StructuralFile reports a missing required column; the rest of the file is skipped
func StructuralFile(file, header string) *AppError {
	return New(ErrStructuralFile, fmt.Sprintf("missing column %q", header)).
		WithMetadata("file", file).
		WithMetadata("header", header)
}

// RowValidation reports a row that cannot become an event
func RowValidation(message string) *AppError {
	return New(ErrRowValidation, message)
}

// AlreadyExists reports a directory entry conflict
func AlreadyExists(what string, err error) *AppError {
	return Wrap(err, ErrDirectoryConflict, fmt.Sprintf("%s already exists", what))
}

// NotFound reports a missing directory account
func NotFound(userID string) *AppError {
	return New(ErrDirectoryNotFound, fmt.Sprintf("user %s not found", userID)).
		WithMetadata("user_id", userID)
}

// Transport reports a connection level directory failure. Runs abort on it.
func Transport(message string, err error) *AppError {
	return Wrap(err, ErrDirectoryTransport, message)
}

// StoreError wraps a pending-operation store failure
func StoreError(operation string, err error) *AppError {
	return Wrap(err, ErrStore, fmt.Sprintf("store %s failed", operation))
}

// IsErrorCode checks if an error (or anything it wraps) has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// IsAlreadyExists reports whether err is a directory conflict
func IsAlreadyExists(err error) bool { return IsErrorCode(err, ErrDirectoryConflict) }

// IsNotFound reports whether err is a missing directory account
func IsNotFound(err error) bool { return IsErrorCode(err, ErrDirectoryNotFound) }

// IsTransport reports whether err is fatal to the run
func IsTransport(err error) bool { return IsErrorCode(err, ErrDirectoryTransport) }

// IsValidation reports whether err is a validation failure (row or directory side)
func IsValidation(err error) bool {
	return IsErrorCode(err, ErrValidation) || IsErrorCode(err, ErrRowValidation)
}
