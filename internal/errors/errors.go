package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError is the structured error carried across fusesearch packages.
// Backends return it so the fusion dispatcher can classify failures
// without string matching.
type AppError struct {
	Code       string
	Message    string
	Category   Category
	Severity   Severity
	Details    map[string]string
	Cause      error
	Retryable  bool
	Suggestion string
}

func (e *AppError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another *AppError by code, so errors.Is(err, New(code, "", nil))
// works for any wrapped AppError.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && e.Code == t.Code
}

// WithDetail attaches a key/value pair and returns e for chaining.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets the hint shown to CLI users.
func (e *AppError) WithSuggestion(s string) *AppError {
	e.Suggestion = s
	return e
}

// New creates an AppError. Category, severity and retryability derive from code.
func New(code, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap turns err into an AppError with the given code. Wrap(code, nil) is nil.
func Wrap(code string, err error) *AppError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidQuery reports a query the backend cannot parse or accept.
func InvalidQuery(message string, cause error) *AppError {
	return New(ErrCodeInvalidQuery, message, cause)
}

// Unavailable reports a backend that cannot serve requests right now.
func Unavailable(message string, cause error) *AppError {
	return New(ErrCodeBackendUnavailable, message, cause)
}

// ConfigError reports an invalid configuration value.
func ConfigError(message string, cause error) *AppError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// As returns the first *AppError in err's chain.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsRetryable reports whether any AppError in err's chain is retryable.
func IsRetryable(err error) bool {
	ae, ok := As(err)
	return ok && ae.Retryable
}

// GetCode returns the code of the first AppError in err's chain, or "".
func GetCode(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

// HasCode reports whether err's chain contains an AppError with code.
func HasCode(err error, code string) bool {
	return stderrors.Is(err, &AppError{Code: code})
}
