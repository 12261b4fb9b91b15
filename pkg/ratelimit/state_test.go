package ratelimit

import (
	"strings"
	"testing"
	"time"
)

func TestQuotaState_IsStale(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		state    *QuotaState
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			state:    &QuotaState{LastUpdate: now},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			state:    &QuotaState{LastUpdate: now.Add(-10 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: true,
		},
		{
			name:     "just under max age",
			state:    &QuotaState{LastUpdate: now.Add(-4 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.state.IsStale(now, tt.maxAge); result != tt.expected {
				t.Errorf("IsStale() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestQuotaState_Active(t *testing.T) {
	now := time.Now()

	if !(&QuotaState{ResetAt: now.Add(time.Minute)}).Active(now) {
		t.Error("state resetting in the future should be active")
	}
	if (&QuotaState{ResetAt: now.Add(-time.Minute)}).Active(now) {
		t.Error("state whose reset passed should not be active")
	}
}

func TestQuotaState_TimeUntilReset(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		resetAt  time.Time
		expected time.Duration
	}{
		{"future reset", now.Add(30 * time.Second), 30 * time.Second},
		{"past reset", now.Add(-30 * time.Second), 0},
		{"zero reset", time.Time{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &QuotaState{ResetAt: tt.resetAt}
			if got := st.TimeUntilReset(now); got != tt.expected {
				t.Errorf("TimeUntilReset() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestQuotaState_Exhausted(t *testing.T) {
	if (&QuotaState{Remaining: 1}).Exhausted() {
		t.Error("snapshot with quota should not be exhausted")
	}
	if !(&QuotaState{Remaining: 0}).Exhausted() {
		t.Error("snapshot without quota should be exhausted")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("ghp_aaaaaaaaaaaaaaaa")
	b := Fingerprint("ghp_bbbbbbbbbbbbbbbb")

	if a != Fingerprint("ghp_aaaaaaaaaaaaaaaa") {
		t.Error("Fingerprint should be deterministic")
	}
	if a == b {
		t.Error("different tokens should have different fingerprints")
	}
	if !strings.HasPrefix(a, "cred-") {
		t.Errorf("Fingerprint() = %q, want cred- prefix", a)
	}
	if strings.Contains(a, "ghp_") {
		t.Errorf("Fingerprint() = %q leaks the token", a)
	}
}
