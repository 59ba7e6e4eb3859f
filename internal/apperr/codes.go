// Package apperr provides structured error handling for searchbridge.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage and index errors
//   - 3XX: Upstream service errors
//   - 4XX: Validation and auth errors
//   - 5XX: Internal errors
package apperr

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index and database errors.
	CategoryStorage Category = "STORAGE"
	// CategoryUpstream indicates errors from external services.
	CategoryUpstream Category = "UPSTREAM"
	// CategoryValidation indicates input validation and auth errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	CodeConfigInvalid = "ERR_101_CONFIG_INVALID"

	// Storage and index errors (200-299)
	CodeLockTimeout      = "ERR_201_LOCK_TIMEOUT"
	CodeSnapshotCorrupt  = "ERR_202_SNAPSHOT_CORRUPT"
	CodeIndexing         = "ERR_203_INDEXING_FAILED"
	CodeConflictResolved = "ERR_204_CONFLICT_RESOLVED"
	CodeNotFound         = "ERR_205_NOT_FOUND"

	// Upstream errors (300-399)
	CodeUpstreamUnavailable = "ERR_301_UPSTREAM_UNAVAILABLE"
	CodeUpstreamEmpty       = "ERR_302_UPSTREAM_EMPTY"

	// Validation and auth errors (400-499)
	CodeInvalidInput      = "ERR_401_INVALID_INPUT"
	CodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	CodeAuthFailure       = "ERR_403_AUTH_FAILURE"
	CodeSignatureFailure  = "ERR_404_SIGNATURE_FAILURE"
	CodeValidationFailure = "ERR_405_VALIDATION_FAILURE"
	CodeInvalidMode       = "ERR_406_INVALID_MODE"

	// Internal errors (500-599)
	CodeInternal = "ERR_501_INTERNAL"
	CodeChunking = "ERR_502_CHUNKING_FAILED"
)

// categoryFromCode extracts the category from an error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryUpstream
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// isRetryableCode checks if an error code represents a retryable condition.
// Upstream failures and lock timeouts clear on their own; validation errors never do.
func isRetryableCode(code string) bool {
	switch code {
	case CodeUpstreamUnavailable, CodeLockTimeout:
		return true
	}
	return false
}
