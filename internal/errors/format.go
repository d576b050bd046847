package errors

import (
	"fmt"
	"strings"
)

// FormatForCLI renders err for terminal output with its hint and code.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	ae, ok := As(err)
	if !ok {
		ae = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ae.Message)
	if ae.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ae.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ae.Code)
	return sb.String()
}

// LogAttrs flattens err into key/value pairs for slog.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	ae, ok := As(err)
	if !ok {
		return []any{"error", err.Error()}
	}
	attrs := []any{
		"error_code", ae.Code,
		"error", ae.Message,
		"category", string(ae.Category),
		"retryable", ae.Retryable,
	}
	if ae.Cause != nil {
		attrs = append(attrs, "cause", ae.Cause.Error())
	}
	for k, v := range ae.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
