// Package errors provides structured error handling for ThreatVault.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Feed configuration errors (permanent, force DISABLED)
//   - 2XX: Storage errors
//   - 3XX: Network and dependency errors (retryable)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Data-quality signals (non-fatal)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates feed/application configuration errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates indicator store errors.
	CategoryStorage Category = "STORAGE"
	// CategoryNetwork indicates network and external-dependency errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryData indicates data-quality signals such as curator underflow.
	CategoryData Category = "DATA"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Feed configuration errors (100-199). Permanent: the source is disabled
	// rather than retried.
	ErrCodeFeedAuth      = "ERR_101_FEED_AUTH"
	ErrCodeFeedConfig    = "ERR_102_FEED_CONFIG"
	ErrCodeConfigInvalid = "ERR_103_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeNotFound     = "ERR_201_NOT_FOUND"
	ErrCodeStoreOpen    = "ERR_202_STORE_OPEN"
	ErrCodeStoreLocked  = "ERR_203_STORE_LOCKED"
	ErrCodeStoreCorrupt = "ERR_204_STORE_CORRUPT"

	// Network errors (300-399). Retryable.
	ErrCodeFeedFetch             = "ERR_301_FEED_FETCH"
	ErrCodeFeedParse             = "ERR_302_FEED_PARSE"
	ErrCodeDependencyUnavailable = "ERR_303_DEPENDENCY_UNAVAILABLE"
	ErrCodeClassifyTimeout       = "ERR_304_CLASSIFY_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidConfidence = "ERR_401_INVALID_CONFIDENCE"
	ErrCodeInvalidType       = "ERR_402_INVALID_TYPE"
	ErrCodeInvalidIndicator  = "ERR_403_INVALID_INDICATOR"
	ErrCodeInvalidTechnique  = "ERR_404_INVALID_TECHNIQUE"
	ErrCodeInvalidPolicy     = "ERR_405_INVALID_POLICY"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"

	// Data-quality signals (600-699). Non-fatal.
	ErrCodeInsufficientData = "ERR_601_INSUFFICIENT_DATA"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract leading digit of the numeric portion (e.g. "101" from
	// "ERR_101_FEED_AUTH").
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	case '6':
		return CategoryData
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreCorrupt, ErrCodeStoreLocked:
		return SeverityFatal
	case ErrCodeInsufficientData:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeFeedFetch, ErrCodeFeedParse, ErrCodeDependencyUnavailable, ErrCodeClassifyTimeout:
		return true
	default:
		return false
	}
}
