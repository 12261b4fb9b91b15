// Package client turns pluggable request functions into classified outcomes.
// A Requester runs one call under a credential lease; a RetryPolicy repeats
// calls until a definitive outcome or the attempt budget runs out.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/contrib-harvester/pkg/ratelimit"
	"github.com/Sternrassler/contrib-harvester/pkg/window"
	"github.com/rs/zerolog"
)

// AppErrorCode classifies errors reported inside a response body.
type AppErrorCode int

const (
	// AppOther is any application error without a dedicated code.
	AppOther AppErrorCode = iota

	// AppNotFound means the entity does not exist.
	AppNotFound

	// AppRateLimited means the API refused the call for quota reasons.
	AppRateLimited
)

// AppError is an application-level error carried by an otherwise successful
// response, such as a GraphQL errors array.
type AppError struct {
	Code    AppErrorCode
	Message string
}

// Response is what a request function hands back to the requester.
type Response struct {
	StatusCode int
	Header     http.Header
	Items      []string
	AppError   *AppError
}

// RequestFunc performs one call for one entity and window with the given
// credential. It must honour ctx and must not retry on its own.
type RequestFunc func(ctx context.Context, entityID string, w window.Interval, cred ratelimit.Credential) (*Response, error)

// FeedbackFunc extracts quota feedback from a response.
type FeedbackFunc func(resp *Response) ratelimit.Feedback

// HeaderFeedback reads quota feedback from the response headers.
func HeaderFeedback(resp *Response) ratelimit.Feedback {
	if resp == nil {
		return ratelimit.Feedback{}
	}
	return ratelimit.FeedbackFromHeaders(resp.Header)
}

// Caller performs one classified call.
type Caller interface {
	Call(ctx context.Context, task FetchTask) Outcome
}

// RequesterOptions configures a Requester.
type RequesterOptions struct {
	// Timeout bounds each call, excluding the wait for a credential.
	Timeout time.Duration

	// Feedback extracts quota feedback. Defaults to HeaderFeedback.
	Feedback FeedbackFunc

	Logger zerolog.Logger
}

// DefaultRequesterOptions returns the defaults used by the collectors.
func DefaultRequesterOptions() RequesterOptions {
	return RequesterOptions{
		Timeout:  120 * time.Second,
		Feedback: HeaderFeedback,
		Logger:   zerolog.Nop(),
	}
}

// Requester acquires a credential, runs a request function and classifies
// what came back.
type Requester struct {
	limiter *ratelimit.Limiter
	fn      RequestFunc
	opts    RequesterOptions
	logger  zerolog.Logger
}

// NewRequester creates a requester. Zero options take their defaults.
func NewRequester(limiter *ratelimit.Limiter, fn RequestFunc, opts RequesterOptions) (*Requester, error) {
	if limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("request function is required")
	}

	def := DefaultRequesterOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Feedback == nil {
		opts.Feedback = def.Feedback
	}

	return &Requester{
		limiter: limiter,
		fn:      fn,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "requester").Logger(),
	}, nil
}

// Call performs one call. The credential is released exactly once with the
// response's feedback, including when the request function panics.
// When ctx is cancelled while waiting for a credential the outcome is
// Retryable and carries ctx.Err().
func (r *Requester) Call(ctx context.Context, task FetchTask) (out Outcome) {
	lease, err := r.limiter.Acquire(ctx)
	if err != nil {
		return Outcome{Kind: OutcomeRetryable, Err: err}
	}

	start := time.Now()
	var resp *Response

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Str("entity", task.EntityID).
				Str("credential", lease.ID()).
				Interface("panic", p).
				Msg("Request function panicked")
			resp = nil
			out = Outcome{Kind: OutcomeFatal, Err: fmt.Errorf("%w: %v", ErrRequestPanic, p)}
		}

		fb := r.feedback(resp, out)
		r.limiter.Release(lease, fb)

		out.Credential = lease.ID()
		out.Remaining = fb.Remaining
		out.HasRemaining = fb.HasRemaining
		out.ResetAt = fb.ResetAt

		requestsTotal.WithLabelValues(out.Kind.String()).Inc()
		requestDuration.Observe(time.Since(start).Seconds())

		r.logger.Debug().
			Str("entity", task.EntityID).
			Str("kind", string(task.Kind)).
			Str("credential", out.Credential).
			Int("attempt", task.Attempt).
			Str("outcome", out.Kind.String()).
			Dur("duration", time.Since(start)).
			Msg("Call completed")
	}()

	callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	resp, err = r.fn(callCtx, task.EntityID, task.Window, lease.Credential())
	return classify(resp, err)
}

// feedback computes what is released to the pool. A rate-limited
// credential is exhausted whatever remaining count the response reports,
// so secondary limits take it out of rotation until Retry-After passes.
func (r *Requester) feedback(resp *Response, out Outcome) ratelimit.Feedback {
	var fb ratelimit.Feedback
	if resp != nil {
		fb = r.opts.Feedback(resp)
	}
	if out.Kind == OutcomeRateLimited {
		fb = fb.Throttled()
	}
	return fb
}
