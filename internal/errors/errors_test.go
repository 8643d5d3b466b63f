package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppErrorClassification(t *testing.T) {
	base := stderrors.New("connection refused")

	tests := []struct {
		name   string
		err    *AppError
		check  func(error) bool
		code   string
		status int
	}{
		{"validation", NewValidationError("empty message", nil), IsValidationError, "VALIDATION_ERROR", http.StatusBadRequest},
		{"not found", NewNotFoundError("unknown character", nil), IsNotFoundError, "NOT_FOUND", http.StatusNotFound},
		{"transport", NewTransportError("endpoint unreachable", base), IsTransportError, "TRANSPORT_ERROR", http.StatusBadGateway},
		{"malformed", NewMalformedOutputError("no choices", nil), IsMalformedOutputError, "MALFORMED_OUTPUT", http.StatusBadGateway},
		{"state", NewInvalidStateError("turn pending", nil), IsInvalidStateError, "INVALID_STATE", http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			require.True(t, tt.check(wrapped))
			require.Equal(t, tt.code, tt.err.Code)
			require.Equal(t, tt.status, tt.err.HTTPStatus())
		})
	}
}

func TestWrapErrorKeepsType(t *testing.T) {
	inner := NewNotFoundError("character missing", nil)
	err := WrapError(inner, "open conversation", ErrorTypeError)

	require.True(t, IsNotFoundError(err))
	require.Equal(t, "open conversation: character missing: character missing", err.Error())
	require.Nil(t, WrapError(nil, "x", ErrorTypeError))

	plain := WrapError(stderrors.New("disk full"), "save", ErrorTypeError)
	require.Equal(t, "save: disk full", plain.Error())
}
