package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Rate limit response headers.
const (
	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
	HeaderRetryAfter    = "Retry-After"
)

// Feedback is the quota information observed on one response.
// Zero values mean "not reported".
type Feedback struct {
	// Remaining is the authoritative remaining count, valid if HasRemaining.
	Remaining    int
	HasRemaining bool

	// ResetAt is the reported reset time; zero if absent.
	ResetAt time.Time

	// RetryAt is when Retry-After allows the next call; zero if absent.
	RetryAt time.Time
}

// Throttled returns a copy of f for a rate-limited response: no calls
// remain until the later of ResetAt and RetryAt.
func (f Feedback) Throttled() Feedback {
	f = f.WithRemaining(0)
	if f.RetryAt.After(f.ResetAt) {
		f.ResetAt = f.RetryAt
	}
	return f
}

// WithRemaining returns a copy of f reporting n remaining calls.
func (f Feedback) WithRemaining(n int) Feedback {
	f.Remaining = n
	f.HasRemaining = true
	return f
}

// FeedbackFromHeaders extracts quota feedback from rate limit headers.
// X-RateLimit-Reset is read as unix seconds (fractions allowed);
// Retry-After fills RetryAt, and ResetAt when no reset header is present.
// Malformed values are treated as absent.
func FeedbackFromHeaders(h http.Header) Feedback {
	return feedbackFromHeaders(h, time.Now())
}

func feedbackFromHeaders(h http.Header, now time.Time) Feedback {
	var fb Feedback
	if h == nil {
		return fb
	}

	if v := strings.TrimSpace(h.Get(HeaderRateRemaining)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			fb = fb.WithRemaining(n)
		}
	}

	if v := strings.TrimSpace(h.Get(HeaderRateReset)); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			fb.ResetAt = time.Unix(0, int64(secs*float64(time.Second)))
		}
	}

	if v := strings.TrimSpace(h.Get(HeaderRetryAfter)); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			fb.RetryAt = now.Add(time.Duration(secs) * time.Second)
		}
	}
	if fb.ResetAt.IsZero() {
		fb.ResetAt = fb.RetryAt
	}

	return fb
}
