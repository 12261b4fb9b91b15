package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		resp      *Response
		err       error
		wantKind  OutcomeKind
		wantClass ErrorClass
	}{
		{"200 ok", &Response{StatusCode: 200, Items: []string{"a"}}, nil, OutcomeSuccess, ""},
		{"204 ok", &Response{StatusCode: 204}, nil, OutcomeSuccess, ""},
		{"403 rate limited", &Response{StatusCode: 403}, nil, OutcomeRateLimited, ErrorClassRateLimit},
		{"429 rate limited", &Response{StatusCode: 429}, nil, OutcomeRateLimited, ErrorClassRateLimit},
		{"500 retryable", &Response{StatusCode: 500}, nil, OutcomeRetryable, ErrorClassServer},
		{"502 retryable", &Response{StatusCode: 502}, nil, OutcomeRetryable, ErrorClassServer},
		{"503 retryable", &Response{StatusCode: 503}, nil, OutcomeRetryable, ErrorClassServer},
		{"504 retryable", &Response{StatusCode: 504}, nil, OutcomeRetryable, ErrorClassServer},
		{"400 fatal", &Response{StatusCode: 400}, nil, OutcomeFatal, ErrorClassClient},
		{"404 without app error is fatal", &Response{StatusCode: 404}, nil, OutcomeFatal, ErrorClassClient},
		{
			"app not found",
			&Response{StatusCode: 200, AppError: &AppError{Code: AppNotFound, Message: "Could not resolve to a User"}},
			nil, OutcomeNotFound, "",
		},
		{
			"adapter 404 not found",
			&Response{StatusCode: 404, AppError: &AppError{Code: AppNotFound}},
			nil, OutcomeNotFound, "",
		},
		{
			"app rate limited",
			&Response{StatusCode: 200, AppError: &AppError{Code: AppRateLimited, Message: "API rate limit exceeded"}},
			nil, OutcomeRateLimited, ErrorClassRateLimit,
		},
		{
			"app other",
			&Response{StatusCode: 200, AppError: &AppError{Code: AppOther, Message: "Something went wrong"}},
			nil, OutcomeFatal, ErrorClassApplication,
		},
		{"nil response", nil, nil, OutcomeFatal, ErrorClassPayload},
		{"malformed payload", nil, fmt.Errorf("decode: %w", ErrMalformedPayload), OutcomeFatal, ErrorClassPayload},
		{"timeout", nil, context.DeadlineExceeded, OutcomeRetryable, ErrorClassNetwork},
		{"eof", nil, io.EOF, OutcomeRetryable, ErrorClassNetwork},
		{"connection refused", nil, &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, OutcomeRetryable, ErrorClassNetwork},
		{"dns", nil, &net.DNSError{Err: "no such host", Name: "api.invalid"}, OutcomeRetryable, ErrorClassNetwork},
		{"unknown error", nil, errors.New("boom"), OutcomeRetryable, ErrorClassNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := classify(tt.resp, tt.err)
			if out.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", out.Kind, tt.wantKind)
			}
			if got := ClassOf(out.Err); got != tt.wantClass {
				t.Errorf("class = %q, want %q", got, tt.wantClass)
			}
		})
	}
}

func TestClassify_SuccessItems(t *testing.T) {
	out := classify(&Response{StatusCode: 200, Items: []string{"a/b", "c/d"}}, nil)
	if len(out.Items) != 2 || out.Items[0] != "a/b" {
		t.Errorf("Items = %v, want [a/b c/d]", out.Items)
	}
	if out.Err != nil {
		t.Errorf("Err = %v, want nil", out.Err)
	}
}

func TestIsTransportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransportError(tt.err); got != tt.want {
				t.Errorf("isTransportError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestOutcomeKind_String(t *testing.T) {
	tests := map[OutcomeKind]string{
		OutcomeSuccess:     "success",
		OutcomeRateLimited: "rate_limited",
		OutcomeRetryable:   "retryable",
		OutcomeFatal:       "fatal",
		OutcomeNotFound:    "not_found",
		OutcomeKind(99):    "unknown",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", k, got, want)
		}
	}
}
