package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, tokens []string, ceiling, perCred int) *Limiter {
	t.Helper()
	popts := DefaultPoolOptions()
	popts.Ceiling = ceiling
	p, err := NewPool(tokens, popts)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	lopts := DefaultLimiterOptions()
	lopts.PerCredentialConcurrency = perCred
	lopts.BusyWait = 20 * time.Millisecond
	lopts.ResetMargin = 0
	lopts.MinWait = 10 * time.Millisecond
	return NewLimiter(p, lopts)
}

func TestLimiter_Capacity(t *testing.T) {
	l := newTestLimiter(t, []string{"tok-a", "tok-b", "tok-c"}, 100, 5)
	if l.Capacity() != 15 {
		t.Errorf("Capacity() = %d, want 15", l.Capacity())
	}
}

func TestLimiter_AcquireRelease(t *testing.T) {
	l := newTestLimiter(t, []string{"tok-a"}, 100, 1)
	ctx := context.Background()

	lease, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if lease.ID() != Fingerprint("tok-a") {
		t.Errorf("lease ID = %s, want %s", lease.ID(), Fingerprint("tok-a"))
	}

	l.Release(lease, Feedback{Remaining: 50, HasRemaining: true, ResetAt: time.Now().Add(time.Hour)})

	c := l.Pool().Snapshot()[0]
	if c.InUse {
		t.Error("credential still in use after Release")
	}
	if c.Remaining != 50 {
		t.Errorf("Remaining = %d, want 50", c.Remaining)
	}
}

func TestLimiter_DoubleReleaseIsNoop(t *testing.T) {
	l := newTestLimiter(t, []string{"tok-a"}, 100, 1)
	ctx := context.Background()

	lease, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	l.Release(lease, Feedback{Remaining: 50, HasRemaining: true, ResetAt: time.Now().Add(time.Hour)})
	l.Release(lease, Feedback{Remaining: 1, HasRemaining: true, ResetAt: time.Now().Add(time.Hour)})
	l.Release(nil, Feedback{})

	if got := l.Pool().Snapshot()[0].Remaining; got != 50 {
		t.Errorf("Remaining = %d, want 50 (second release must be ignored)", got)
	}
	if len(l.permits) != 0 {
		t.Errorf("permits held = %d, want 0", len(l.permits))
	}
}

func TestLimiter_BoundsInFlight(t *testing.T) {
	l := newTestLimiter(t, []string{"tok-a", "tok-b"}, 1000, 1)
	ctx := context.Background()

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		wg       sync.WaitGroup
	)

	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := l.Acquire(ctx)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			l.Release(lease, Feedback{ResetAt: time.Now().Add(time.Hour)})
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", peak.Load())
	}
	if peak.Load() == 0 {
		t.Error("no call ever ran")
	}
}

func TestLimiter_ReleaseWakesWaiter(t *testing.T) {
	l := newTestLimiter(t, []string{"tok-a"}, 100, 2)
	// Make the busy wait long enough that only a wake-up can satisfy the test.
	l.opts.BusyWait = 10 * time.Second
	ctx := context.Background()

	first, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	got := make(chan *Lease, 1)
	go func() {
		lease, err := l.Acquire(ctx)
		if err != nil {
			t.Errorf("Acquire() error = %v", err)
			return
		}
		got <- lease
	}()

	time.Sleep(20 * time.Millisecond)
	l.Release(first, Feedback{ResetAt: time.Now().Add(time.Hour)})

	select {
	case lease := <-got:
		l.Release(lease, Feedback{ResetAt: time.Now().Add(time.Hour)})
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by Release")
	}
}

func TestLimiter_WaitsForReset(t *testing.T) {
	l := newTestLimiter(t, []string{"tok-a"}, 100, 1)
	ctx := context.Background()

	lease, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	resetAt := time.Now().Add(150 * time.Millisecond)
	l.Release(lease, Feedback{Remaining: 0, HasRemaining: true, ResetAt: resetAt})

	lease, err = l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer l.Release(lease, Feedback{})

	if time.Now().Before(resetAt) {
		t.Error("Acquire() returned an exhausted credential before its reset")
	}
	if got := lease.Credential().Remaining; got != 99 {
		t.Errorf("Remaining after refill = %d, want 99", got)
	}
}

func TestLimiter_ContextCancelFreesPermit(t *testing.T) {
	l := newTestLimiter(t, []string{"tok-a"}, 100, 1)
	ctx := context.Background()

	lease, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	l.Release(lease, Feedback{Remaining: 0, HasRemaining: true, ResetAt: time.Now().Add(time.Hour)})

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(cctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if len(l.permits) != 0 {
		t.Errorf("permits held = %d, want 0 after cancellation", len(l.permits))
	}
}

func TestLimiter_CancelledBeforePermit(t *testing.T) {
	l := newTestLimiter(t, []string{"tok-a"}, 100, 1)
	ctx := context.Background()

	held, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer l.Release(held, Feedback{})

	cctx, cancel := context.WithCancel(ctx)
	cancel()

	if _, err := l.Acquire(cctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want %v", err, context.Canceled)
	}
	if len(l.permits) != 1 {
		t.Errorf("permits held = %d, want 1", len(l.permits))
	}
}

func TestLimiter_Pacing(t *testing.T) {
	popts := DefaultPoolOptions()
	popts.PacePerSecond = 20
	p, err := NewPool([]string{"tok-a"}, popts)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	l := NewLimiter(p, DefaultLimiterOptions())
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		lease, err := l.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		l.Release(lease, Feedback{ResetAt: time.Now().Add(time.Hour)})
	}

	// Burst of one, then 50ms per call.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 paced calls took %v, want >= 90ms", elapsed)
	}
}
