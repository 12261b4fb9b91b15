package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrNoCredentials is returned when a pool is built without any token.
var ErrNoCredentials = errors.New("no credentials configured")

// Strategy selects among the credentials that can serve a call.
type Strategy int

const (
	// SelectFirst picks the first free credential with quota left.
	SelectFirst Strategy = iota

	// SelectMostRemaining picks the free credential with the most quota
	// left, spreading load evenly across tokens for batch checks.
	SelectMostRemaining
)

// String implements fmt.Stringer.
func (s Strategy) String() string {
	switch s {
	case SelectMostRemaining:
		return "most-remaining"
	default:
		return "first"
	}
}

// ParseStrategy converts a configuration value into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return SelectFirst, nil
	case "most-remaining", "most_remaining":
		return SelectMostRemaining, nil
	default:
		return SelectFirst, fmt.Errorf("unknown credential strategy %q", s)
	}
}

// Snapshotter receives quota snapshots after every release.
// Save must not block.
type Snapshotter interface {
	Save(state QuotaState)
}

// SnapshotLoader returns the stored snapshots for the given credential IDs.
type SnapshotLoader interface {
	Load(ctx context.Context, ids []string) (map[string]QuotaState, error)
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Ceiling is the quota restored when a credential's reset time passes.
	Ceiling int

	// Strategy picks among eligible credentials.
	Strategy Strategy

	// FallbackCooldown is the reset horizon used when a response carried
	// no reset time, or one already in the past.
	FallbackCooldown time.Duration

	// PacePerSecond, when positive, throttles every credential to this
	// many calls per second on top of the quota accounting.
	PacePerSecond float64

	// Snapshots receives quota snapshots after every release (optional).
	Snapshots Snapshotter

	// Now overrides the clock (tests).
	Now func() time.Time

	Logger zerolog.Logger
}

// DefaultPoolOptions returns the defaults used by the collectors.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		Ceiling:          DefaultCeiling,
		Strategy:         SelectFirst,
		FallbackCooldown: DefaultFallbackCooldown,
		Logger:           zerolog.Nop(),
	}
}

type credential struct {
	id        string
	token     string
	remaining int
	resetAt   time.Time
	inUse     bool
	pace      *rate.Limiter
}

func (c *credential) view() Credential {
	return Credential{
		ID:        c.id,
		Token:     c.token,
		Remaining: c.remaining,
		ResetAt:   c.resetAt,
		InUse:     c.inUse,
	}
}

// Lease is the exclusive right to use one credential for one call.
// It must be handed back through Limiter.Release exactly once.
type Lease struct {
	cred     *credential
	snapshot Credential
	released atomic.Bool
}

// Credential returns the leased credential as it was when acquired.
func (l *Lease) Credential() Credential {
	return l.snapshot
}

// ID returns the leased credential's ID.
func (l *Lease) ID() string {
	return l.snapshot.ID
}

// Pool owns the credentials and their quota bookkeeping. All state changes
// happen under one mutex that is never held across a network call.
type Pool struct {
	mu    sync.Mutex
	creds []*credential
	opts  PoolOptions
	now   func() time.Time
}

// NewPool creates a pool from raw tokens. Blank and duplicate tokens are
// ignored; a pool without any token is a configuration error.
func NewPool(tokens []string, opts PoolOptions) (*Pool, error) {
	if opts.Ceiling <= 0 {
		opts.Ceiling = DefaultCeiling
	}
	if opts.FallbackCooldown <= 0 {
		opts.FallbackCooldown = DefaultFallbackCooldown
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	seen := make(map[string]bool, len(tokens))
	creds := make([]*credential, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		id := Fingerprint(tok)
		if seen[id] {
			opts.Logger.Warn().Str("credential", id).Msg("Duplicate token ignored")
			continue
		}
		seen[id] = true

		c := &credential{
			id:        id,
			token:     tok,
			remaining: opts.Ceiling,
		}
		if opts.PacePerSecond > 0 {
			c.pace = rate.NewLimiter(rate.Limit(opts.PacePerSecond), 1)
		}
		creds = append(creds, c)
		credentialRemaining.WithLabelValues(id).Set(float64(c.remaining))
	}

	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}

	return &Pool{creds: creds, opts: opts, now: now}, nil
}

// Len returns the number of credentials.
func (p *Pool) Len() int {
	return len(p.creds)
}

// Snapshot returns the current state of every credential.
func (p *Pool) Snapshot() []Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Credential, len(p.creds))
	for i, c := range p.creds {
		out[i] = c.view()
	}
	return out
}

// Restore adopts stored snapshots whose quota window is still open.
func (p *Pool) Restore(ctx context.Context, loader SnapshotLoader) error {
	ids := make([]string, len(p.creds))
	for i, c := range p.creds {
		ids[i] = c.id
	}

	states, err := loader.Load(ctx, ids)
	if err != nil {
		return fmt.Errorf("load quota snapshots: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, c := range p.creds {
		st, ok := states[c.id]
		if !ok || !st.Active(now) {
			continue
		}
		c.remaining = min(max(st.Remaining, 0), p.opts.Ceiling)
		c.resetAt = st.ResetAt
		credentialRemaining.WithLabelValues(c.id).Set(float64(c.remaining))

		p.opts.Logger.Info().
			Str("credential", c.id).
			Int("remaining", c.remaining).
			Time("reset_at", c.resetAt).
			Msg("Restored quota snapshot")
	}
	return nil
}

// scanResult describes the outcome of one selection pass.
type scanResult struct {
	lease *Lease
	// busy is true when some credential still has quota but all of those
	// are held by other callers.
	busy bool
	// earliestReset is the soonest reset among exhausted credentials.
	earliestReset time.Time
}

// scan refills credentials whose reset passed, then selects one.
func (p *Pool) scan() scanResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var (
		chosen   *credential
		withLeft bool
		earliest time.Time
	)

	for _, c := range p.creds {
		if c.remaining <= 0 && !now.Before(c.resetAt) {
			c.remaining = p.opts.Ceiling
			credentialRefillsTotal.Inc()
			credentialRemaining.WithLabelValues(c.id).Set(float64(c.remaining))
		}

		if c.remaining > 0 {
			withLeft = true
		} else if earliest.IsZero() || c.resetAt.Before(earliest) {
			earliest = c.resetAt
		}

		if c.remaining <= 0 || c.inUse {
			continue
		}
		switch p.opts.Strategy {
		case SelectMostRemaining:
			if chosen == nil || c.remaining > chosen.remaining {
				chosen = c
			}
		default:
			if chosen == nil {
				chosen = c
			}
		}
	}

	if chosen == nil {
		return scanResult{busy: withLeft, earliestReset: earliest}
	}

	chosen.inUse = true
	chosen.remaining--
	credentialRemaining.WithLabelValues(chosen.id).Set(float64(chosen.remaining))

	return scanResult{lease: &Lease{cred: chosen, snapshot: chosen.view()}}
}

// pace waits on the credential's proactive throttle, if any.
func (p *Pool) pace(ctx context.Context, l *Lease) error {
	if l.cred.pace == nil {
		return nil
	}
	return l.cred.pace.Wait(ctx)
}

// release returns the credential and applies the observed feedback.
func (p *Pool) release(l *Lease, fb Feedback) {
	p.mu.Lock()
	c := l.cred
	now := p.now()

	c.inUse = false
	if fb.HasRemaining {
		c.remaining = max(fb.Remaining, 0)
	}
	if fb.ResetAt.After(now) {
		c.resetAt = fb.ResetAt
	} else {
		c.resetAt = now.Add(p.opts.FallbackCooldown)
	}

	state := QuotaState{
		CredentialID: c.id,
		Remaining:    c.remaining,
		ResetAt:      c.resetAt,
		LastUpdate:   now,
	}
	p.mu.Unlock()

	credentialRemaining.WithLabelValues(state.CredentialID).Set(float64(state.Remaining))
	if p.opts.Snapshots != nil {
		p.opts.Snapshots.Save(state)
	}
}

// abandon returns a credential that was selected but never used.
func (p *Pool) abandon(l *Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()

	l.cred.inUse = false
	l.cred.remaining++
	credentialRemaining.WithLabelValues(l.cred.id).Set(float64(l.cred.remaining))
}
