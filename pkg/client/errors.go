package client

import (
	"errors"
	"fmt"
)

// Common errors returned by request functions and the requester.
var (
	// ErrMalformedPayload is returned by request functions when a response
	// could not be decoded. It is never retried as a transport failure.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrRequestPanic marks an outcome produced by a panicking request function.
	ErrRequestPanic = errors.New("request function panicked")
)

// ErrorClass represents a classification of failed calls, used for
// observability and logging.
type ErrorClass string

const (
	// ErrorClassClient represents non-retryable 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 403/429 responses and application-level
	// rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassPayload represents undecodable responses.
	ErrorClassPayload ErrorClass = "payload"

	// ErrorClassApplication represents errors reported in the response body.
	ErrorClassApplication ErrorClass = "application"
)

// APIError represents a failed call with its status and classification.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("API %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// ClassOf returns the error class carried by err, or "" if err carries none.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ""
}
