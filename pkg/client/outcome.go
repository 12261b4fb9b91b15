package client

import (
	"time"

	"github.com/Sternrassler/contrib-harvester/pkg/window"
)

// FetchTask is one call's worth of work: an entity, the window to query and
// the kind of window. Attempt is 1 for the first call and is incremented by
// the retry policy.
type FetchTask struct {
	EntityID string
	Kind     window.Kind
	Window   window.Interval
	Attempt  int
}

// OutcomeKind discriminates Outcome variants.
type OutcomeKind int

const (
	// OutcomeSuccess carries the returned items.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeRateLimited means the credential's quota ran out on this call.
	OutcomeRateLimited

	// OutcomeRetryable covers transport errors and 5xx responses.
	OutcomeRetryable

	// OutcomeFatal covers malformed payloads and unexpected responses.
	OutcomeFatal

	// OutcomeNotFound means the entity does not exist. It is definitive.
	OutcomeNotFound
)

// String implements fmt.Stringer. The values double as metric labels.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one call.
type Outcome struct {
	Kind  OutcomeKind
	Items []string

	// Quota feedback observed on the response, as released to the pool.
	Remaining    int
	HasRemaining bool
	ResetAt      time.Time

	// Credential is the ID of the credential that served the call.
	Credential string

	// Err is the failure reason for every kind except Success and NotFound.
	Err error
}

// Reason returns a printable failure reason.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return o.Kind.String()
	}
	return o.Err.Error()
}

// Terminal reports whether the outcome ends a chunk without retrying.
func (o Outcome) Terminal() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeNotFound
}
