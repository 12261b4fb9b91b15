package client

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		apiError *APIError
		expected string
	}{
		{
			name: "error with wrapped error",
			apiError: &APIError{
				StatusCode: 500,
				ErrorClass: ErrorClassServer,
				Message:    "Internal Server Error",
				Err:        errors.New("upstream failed"),
			},
			expected: "API server error (status 500): Internal Server Error: upstream failed",
		},
		{
			name: "error without wrapped error",
			apiError: &APIError{
				StatusCode: 429,
				ErrorClass: ErrorClassRateLimit,
				Message:    "Too Many Requests",
			},
			expected: "API rate_limit error (status 429): Too Many Requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.apiError.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	err := &APIError{ErrorClass: ErrorClassPayload, Err: ErrMalformedPayload}
	wrapped := fmt.Errorf("chunk: %w", err)

	if !errors.Is(wrapped, ErrMalformedPayload) {
		t.Error("errors.Is should find ErrMalformedPayload through APIError")
	}

	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) {
		t.Fatal("errors.As should find APIError")
	}
	if apiErr.ErrorClass != ErrorClassPayload {
		t.Errorf("ErrorClass = %s, want %s", apiErr.ErrorClass, ErrorClassPayload)
	}
}

func TestClassOf(t *testing.T) {
	if got := ClassOf(fmt.Errorf("x: %w", &APIError{ErrorClass: ErrorClassNetwork})); got != ErrorClassNetwork {
		t.Errorf("ClassOf() = %q, want %q", got, ErrorClassNetwork)
	}
	if got := ClassOf(errors.New("plain")); got != "" {
		t.Errorf("ClassOf(plain) = %q, want empty", got)
	}
}
