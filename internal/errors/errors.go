package errors

import (
	"errors"
	"fmt"
)

// VaultError is the structured error type for ThreatVault.
// It provides rich context for error handling, logging, and user presentation.
type VaultError struct {
	// Code is the unique error code (e.g., "ERR_301_FEED_FETCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *VaultError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *VaultError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with VaultError.
func (e *VaultError) Is(target error) bool {
	if t, ok := target.(*VaultError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *VaultError) WithDetail(key, value string) *VaultError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new VaultError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *VaultError {
	return &VaultError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a VaultError from an existing error.
// The error's message becomes the VaultError message.
func Wrap(code string, err error) *VaultError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ValidationError creates a validation error for store writes.
func ValidationError(message string, cause error) *VaultError {
	return New(ErrCodeInvalidIndicator, message, cause)
}

// NotFound creates a missing-row error for store reads.
func NotFound(message string) *VaultError {
	return New(ErrCodeNotFound, message, nil)
}

// TransientFeed creates a retryable feed fault (network or parse).
func TransientFeed(code string, message string, cause error) *VaultError {
	return New(code, message, cause)
}

// PermanentFeed creates an auth/config feed fault that forces DISABLED.
func PermanentFeed(code string, message string, cause error) *VaultError {
	return New(code, message, cause)
}

// DependencyUnavailable creates an error for a down external service
// (embedding or classification). Triggers fallback or per-item skip.
func DependencyUnavailable(message string, cause error) *VaultError {
	return New(ErrCodeDependencyUnavailable, message, cause)
}

// InsufficientData creates the curator's non-fatal underflow signal.
func InsufficientData(message string) *VaultError {
	return New(ErrCodeInsufficientData, message, nil)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a VaultError with the Retryable flag set.
func IsRetryable(err error) bool {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Retryable
	}
	return false
}

// IsNotFound checks for the store's missing-row error.
func IsNotFound(err error) bool {
	return GetCode(err) == ErrCodeNotFound
}

// IsPermanentFeed checks for auth/config feed faults.
func IsPermanentFeed(err error) bool {
	switch GetCode(err) {
	case ErrCodeFeedAuth, ErrCodeFeedConfig:
		return true
	}
	return false
}

// IsInsufficientData checks for the curator underflow signal.
func IsInsufficientData(err error) bool {
	return GetCode(err) == ErrCodeInsufficientData
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a VaultError anywhere in the chain.
// Returns empty string if none is found.
func GetCode(err error) string {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// GetCategory extracts the category from a VaultError.
// Returns empty string if not a VaultError.
func GetCategory(err error) Category {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Category
	}
	return ""
}
