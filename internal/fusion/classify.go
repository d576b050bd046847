package fusion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
)

// FailureClass classifies a failed backend call.
type FailureClass string

const (
	FailureNone               FailureClass = ""
	FailureTimeout            FailureClass = "timeout"
	FailureBackendUnavailable FailureClass = "backend_unavailable"
	FailureInvalidQuery       FailureClass = "invalid_query"
	FailureUnknown            FailureClass = "unknown"
)

// Sentinel errors returned by FuseSearch before any backend is called.
var (
	ErrEmptyQuery     = errors.New("query text is empty")
	ErrInvalidQuery   = errors.New("invalid search query")
	ErrNilDependency  = errors.New("required dependency is nil")
	ErrBackendsFailed = errors.New("both search backends failed")
)

// Classify maps a backend error onto the failure taxonomy.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}

	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInvalidQuery, apperrors.ErrCodeInvalidFilter, apperrors.ErrCodeQueryEmpty:
		return FailureInvalidQuery
	case apperrors.ErrCodeNetworkTimeout:
		return FailureTimeout
	case apperrors.ErrCodeBackendUnavailable, apperrors.ErrCodeNetworkUnavailable, apperrors.ErrCodeIndexNotFound:
		return FailureBackendUnavailable
	}

	if errors.Is(err, apperrors.ErrCircuitOpen) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, net.ErrClosed) {
		return FailureBackendUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureBackendUnavailable
	}
	return FailureUnknown
}

// DispatchError is returned when both backends fail. It names both
// classifications and unwraps to both causes.
type DispatchError struct {
	Lexical  BackendOutcome
	Semantic BackendOutcome
}

func (e *DispatchError) Error() string {
	var sb strings.Builder
	sb.WriteString(ErrBackendsFailed.Error())
	fmt.Fprintf(&sb, ": lexical=%s", e.Lexical.Failure)
	if e.Lexical.Err != nil {
		fmt.Fprintf(&sb, " (%v)", e.Lexical.Err)
	}
	fmt.Fprintf(&sb, ", semantic=%s", e.Semantic.Failure)
	if e.Semantic.Err != nil {
		fmt.Fprintf(&sb, " (%v)", e.Semantic.Err)
	}
	return sb.String()
}

func (e *DispatchError) Unwrap() []error {
	errs := []error{ErrBackendsFailed}
	if e.Lexical.Err != nil {
		errs = append(errs, e.Lexical.Err)
	}
	if e.Semantic.Err != nil {
		errs = append(errs, e.Semantic.Err)
	}
	return errs
}
