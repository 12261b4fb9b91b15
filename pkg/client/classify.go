package client

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
)

// classify maps a request function's return values onto an Outcome.
// Quota feedback and the credential are filled in by the requester.
func classify(resp *Response, err error) Outcome {
	if err != nil {
		return classifyError(err)
	}
	if resp == nil {
		return Outcome{Kind: OutcomeFatal, Err: &APIError{
			ErrorClass: ErrorClassPayload,
			Message:    "request function returned no response",
			Err:        ErrMalformedPayload,
		}}
	}

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return Outcome{Kind: OutcomeRateLimited, Err: &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassRateLimit,
			Message:    http.StatusText(resp.StatusCode),
		}}
	case resp.StatusCode >= 500:
		return Outcome{Kind: OutcomeRetryable, Err: &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassServer,
			Message:    http.StatusText(resp.StatusCode),
		}}
	}

	if resp.AppError != nil {
		return classifyAppError(resp)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{Kind: OutcomeFatal, Err: &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassClient,
			Message:    http.StatusText(resp.StatusCode),
		}}
	}

	return Outcome{Kind: OutcomeSuccess, Items: resp.Items}
}

func classifyAppError(resp *Response) Outcome {
	app := resp.AppError
	switch app.Code {
	case AppNotFound:
		return Outcome{Kind: OutcomeNotFound}
	case AppRateLimited:
		return Outcome{Kind: OutcomeRateLimited, Err: &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassRateLimit,
			Message:    app.Message,
		}}
	default:
		return Outcome{Kind: OutcomeFatal, Err: &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassApplication,
			Message:    app.Message,
		}}
	}
}

func classifyError(err error) Outcome {
	if errors.Is(err, ErrMalformedPayload) {
		return Outcome{Kind: OutcomeFatal, Err: &APIError{
			ErrorClass: ErrorClassPayload,
			Message:    "decode response",
			Err:        err,
		}}
	}

	// Anything else a request function returns is a failure to get a
	// response at all, and gets another chance.
	msg := "request failed"
	if isTransportError(err) {
		msg = "transport error"
	}
	return Outcome{Kind: OutcomeRetryable, Err: &APIError{
		ErrorClass: ErrorClassNetwork,
		Message:    msg,
		Err:        err,
	}}
}

// isTransportError reports whether err is a timeout, DNS failure, refused or
// reset connection, or a truncated read.
func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
