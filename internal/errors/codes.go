// Package errors provides structured errors for fusesearch.
//
// Codes follow the pattern ERR_NNN_NAME where the leading digit selects the
// category:
//   - 1XX: configuration
//   - 2XX: file and index I/O
//   - 3XX: backend availability and transport
//   - 4XX: query and input validation
//   - 5XX: internal failures
package errors

// Category groups error codes.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryBackend    Category = "BACKEND"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity tells callers whether an operation can continue.
type Severity string

const (
	// SeverityFatal aborts the current operation.
	SeverityFatal Severity = "FATAL"
	// SeverityError fails the operation but not the process.
	SeverityError Severity = "ERROR"
	// SeverityWarning means the operation continued in degraded form.
	SeverityWarning Severity = "WARNING"
)

const (
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	ErrCodeFileNotFound  = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFileTooLarge  = "ERR_204_FILE_TOO_LARGE"
	ErrCodeCorruptIndex  = "ERR_205_CORRUPT_INDEX"
	ErrCodeIndexLocked   = "ERR_207_INDEX_LOCKED"
	ErrCodeIndexNotFound = "ERR_208_INDEX_NOT_FOUND"

	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeBackendUnavailable = "ERR_304_BACKEND_UNAVAILABLE"

	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidFilter     = "ERR_407_INVALID_FILTER"

	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"
	ErrCodeDispatchFailed  = "ERR_506_DISPATCH_FAILED"
)

func categoryFromCode(code string) Category {
	// "ERR_" prefix, then three digits.
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDispatchFailed:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeBackendUnavailable, ErrCodeEmbeddingFailed:
		return true
	default:
		return false
	}
}
