package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LimiterOptions configures a Limiter.
type LimiterOptions struct {
	// PerCredentialConcurrency multiplies the number of credentials to give
	// the global in-flight permit count.
	PerCredentialConcurrency int

	// BusyWait bounds the wait when credentials have quota but are all held.
	BusyWait time.Duration

	// ResetMargin is added to the earliest reset time when all credentials
	// are exhausted.
	ResetMargin time.Duration

	// MinWait is the shortest sleep while all credentials are exhausted.
	MinWait time.Duration

	Logger zerolog.Logger
}

// DefaultLimiterOptions returns the defaults used by the collectors.
func DefaultLimiterOptions() LimiterOptions {
	return LimiterOptions{
		PerCredentialConcurrency: 5,
		BusyWait:                 5 * time.Second,
		ResetMargin:              5 * time.Second,
		MinWait:                  5 * time.Second,
		Logger:                   zerolog.Nop(),
	}
}

// Limiter hands out credential leases. A counting permit bounds how many
// calls may be in flight at once; the pool decides which credential each
// call uses.
type Limiter struct {
	pool    *Pool
	permits chan struct{}
	opts    LimiterOptions
	logger  zerolog.Logger

	mu   sync.Mutex
	wake chan struct{}
}

// NewLimiter wraps pool with a global permit of
// pool.Len() × PerCredentialConcurrency.
func NewLimiter(pool *Pool, opts LimiterOptions) *Limiter {
	def := DefaultLimiterOptions()
	if opts.PerCredentialConcurrency <= 0 {
		opts.PerCredentialConcurrency = def.PerCredentialConcurrency
	}
	if opts.BusyWait <= 0 {
		opts.BusyWait = def.BusyWait
	}
	if opts.ResetMargin < 0 {
		opts.ResetMargin = 0
	}
	if opts.MinWait <= 0 {
		opts.MinWait = def.MinWait
	}

	return &Limiter{
		pool:    pool,
		permits: make(chan struct{}, pool.Len()*opts.PerCredentialConcurrency),
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "limiter").Logger(),
		wake:    make(chan struct{}),
	}
}

// Pool returns the underlying credential pool.
func (l *Limiter) Pool() *Pool {
	return l.pool
}

// Capacity returns the number of calls that may be in flight at once.
func (l *Limiter) Capacity() int {
	return cap(l.permits)
}

// Acquire blocks until a credential is available and returns a lease on it.
// Quota exhaustion never produces an error: the call waits for the next
// reset instead. The only error is ctx.Err() when the run is aborted.
func (l *Limiter) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case l.permits <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		// Grab the wake channel before scanning so a release that lands
		// between the scan and the wait is not missed.
		wake := l.waitChan()
		res := l.pool.scan()

		if res.lease != nil {
			if err := l.pool.pace(ctx, res.lease); err != nil {
				l.pool.abandon(res.lease)
				<-l.permits
				l.broadcast()
				return nil, err
			}
			permitsInUse.Inc()
			return res.lease, nil
		}

		wait, reason := l.waitFor(res)
		limiterWaitsTotal.WithLabelValues(reason).Inc()

		evt := l.logger.Debug()
		if reason == waitExhausted {
			evt = l.logger.Warn()
		}
		evt.Str("reason", reason).Dur("wait", wait).Msg("No credential available, waiting")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			<-l.permits
			return nil, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Release hands a lease back with the quota feedback observed on the
// response. It never blocks and never fails; releasing the same lease twice
// is a no-op.
func (l *Limiter) Release(lease *Lease, fb Feedback) {
	if lease == nil || !lease.released.CompareAndSwap(false, true) {
		return
	}

	l.pool.release(lease, fb)
	<-l.permits
	permitsInUse.Dec()
	l.broadcast()
}

const (
	waitBusy      = "busy"
	waitExhausted = "exhausted"
)

// waitFor computes how long to sleep after an unsuccessful scan.
func (l *Limiter) waitFor(res scanResult) (time.Duration, string) {
	if res.busy {
		return l.opts.BusyWait, waitBusy
	}

	wait := res.earliestReset.Add(l.opts.ResetMargin).Sub(l.pool.now())
	if wait < l.opts.MinWait {
		wait = l.opts.MinWait
	}
	return wait, waitExhausted
}

func (l *Limiter) waitChan() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wake
}

// broadcast wakes every goroutine waiting in Acquire.
func (l *Limiter) broadcast() {
	l.mu.Lock()
	defer l.mu.Unlock()
	close(l.wake)
	l.wake = make(chan struct{})
}
