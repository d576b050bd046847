package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"nil", nil, 0, ""},
		{"passes MCPError through", fmt.Errorf("wrap: %w", NewInvalidParamsError("bad")), ErrCodeInvalidParams, "bad"},
		{"dimension mismatch", apperrors.New(apperrors.ErrCodeDimensionMismatch, "wrong model", nil).
			WithSuggestion("Run 'fusesearch index --force'."), ErrCodeIndexNotFound, "wrong model Run 'fusesearch index --force'."},
		{"dispatch failure", apperrors.New(apperrors.ErrCodeDispatchFailed, "hybrid search failed", nil), ErrCodeSearchFailed, "hybrid search failed"},
		{"invalid filter", apperrors.New(apperrors.ErrCodeInvalidFilter, "unknown filter", nil), ErrCodeInvalidParams, "unknown filter"},
		{"backend unavailable", apperrors.Unavailable("embedder down", nil), ErrCodeBackendUnavailable, "embedder down"},
		{"config", apperrors.New(apperrors.ErrCodeConfigInvalid, "bad config", nil), ErrCodeInternalError, "bad config"},
		{"canceled", context.Canceled, ErrCodeTimeout, "Request was canceled."},
		{"tool not found", ErrToolNotFound, ErrCodeMethodNotFound, "Tool not found."},
		{"plain error", errors.New("secret detail"), ErrCodeInternalError, "Internal server error."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if tt.err == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.message, got.Message)
		})
	}
}

func TestMCPError_Error(t *testing.T) {
	err := NewMethodNotFoundError("nope")
	assert.Equal(t, "MCP error -32601: Tool 'nope' not found.", err.Error())
}
