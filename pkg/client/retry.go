package client

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of calls per chunk (including the first).
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt; it doubles after
	// every further failure.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff.
	MaxDelay time.Duration

	// Jitter adds a uniform random delay in [0, Jitter) to every backoff.
	Jitter time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
		Jitter:      1 * time.Second,
	}
}

// ChunkStatus is the terminal state of one chunk.
type ChunkStatus int

const (
	// ChunkOK means a call succeeded.
	ChunkOK ChunkStatus = iota

	// ChunkFailed means the attempt budget ran out or the run was aborted.
	ChunkFailed

	// ChunkNotFound means the entity does not exist.
	ChunkNotFound
)

// String implements fmt.Stringer.
func (s ChunkStatus) String() string {
	switch s {
	case ChunkOK:
		return "ok"
	case ChunkFailed:
		return "failed"
	case ChunkNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// ChunkResult is the terminal result of one chunk.
type ChunkResult struct {
	Task     FetchTask
	Status   ChunkStatus
	Items    []string
	Attempts int

	// Err is the last failure reason of a failed chunk.
	Err error

	// Aborted is set when the chunk failed because ctx was cancelled.
	Aborted bool
}

// RetryPolicy repeats calls until a definitive outcome.
type RetryPolicy struct {
	caller Caller
	cfg    RetryConfig
	logger zerolog.Logger
	jitter func(time.Duration) time.Duration
}

// NewRetryPolicy creates a retry policy around caller.
func NewRetryPolicy(caller Caller, cfg RetryConfig, logger zerolog.Logger) *RetryPolicy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &RetryPolicy{
		caller: caller,
		cfg:    cfg,
		logger: logger.With().Str("component", "retry").Logger(),
		jitter: randomJitter,
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(limit)))
}

// Execute runs task until it succeeds, is not found, or exhausts its
// attempts. It never returns an error: failures become ChunkFailed.
func (p *RetryPolicy) Execute(ctx context.Context, task FetchTask) ChunkResult {
	var last Outcome

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		task.Attempt = attempt

		if err := ctx.Err(); err != nil {
			return p.aborted(task, attempt-1, err)
		}

		out := p.caller.Call(ctx, task)
		switch out.Kind {
		case OutcomeSuccess:
			if attempt > 1 {
				p.logger.Info().
					Str("entity", task.EntityID).
					Str("kind", string(task.Kind)).
					Int("attempt", attempt).
					Msg("Call succeeded after retry")
			}
			return ChunkResult{Task: task, Status: ChunkOK, Items: out.Items, Attempts: attempt}
		case OutcomeNotFound:
			return ChunkResult{Task: task, Status: ChunkNotFound, Attempts: attempt}
		}

		if err := ctx.Err(); err != nil {
			return p.aborted(task, attempt, err)
		}
		last = out

		evt := p.logger.Warn()
		if out.Kind == OutcomeFatal {
			evt = p.logger.Error()
		}
		evt.Str("entity", task.EntityID).
			Str("kind", string(task.Kind)).
			Str("window", task.Window.String()).
			Str("credential", out.Credential).
			Int("attempt", attempt).
			Str("outcome", out.Kind.String())
		if class := ClassOf(out.Err); class != "" {
			evt = evt.Str("class", string(class))
		}
		evt.Err(out.Err).Msg("Call failed")

		if attempt >= p.cfg.MaxAttempts {
			break
		}

		backoff := p.backoff(attempt)
		retriesTotal.WithLabelValues(out.Kind.String()).Inc()
		retryBackoffSeconds.WithLabelValues(out.Kind.String()).Observe(backoff.Seconds())

		p.logger.Debug().
			Str("entity", task.EntityID).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Retrying call after backoff")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return p.aborted(task, attempt, ctx.Err())
		case <-timer.C:
		}
	}

	retryExhaustedTotal.WithLabelValues(last.Kind.String()).Inc()
	p.logger.Warn().
		Str("entity", task.EntityID).
		Str("kind", string(task.Kind)).
		Str("window", task.Window.String()).
		Int("max_attempts", p.cfg.MaxAttempts).
		Str("reason", last.Reason()).
		Msg("Retry attempts exhausted")

	return ChunkResult{
		Task:     task,
		Status:   ChunkFailed,
		Attempts: p.cfg.MaxAttempts,
		Err:      last.Err,
	}
}

// backoff returns BaseDelay × 2^(attempt-1) plus jitter, capped at MaxDelay.
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	d := p.cfg.BaseDelay
	for i := 1; i < attempt && d < p.cfg.MaxDelay; i++ {
		d *= 2
	}
	d += p.jitter(p.cfg.Jitter)
	if d > p.cfg.MaxDelay {
		d = p.cfg.MaxDelay
	}
	return d
}

func (p *RetryPolicy) aborted(task FetchTask, attempts int, err error) ChunkResult {
	p.logger.Debug().
		Str("entity", task.EntityID).
		Str("kind", string(task.Kind)).
		Int("attempt", attempts).
		Msg("Chunk aborted")
	return ChunkResult{
		Task:     task,
		Status:   ChunkFailed,
		Attempts: attempts,
		Err:      err,
		Aborted:  true,
	}
}
