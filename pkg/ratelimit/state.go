// Package ratelimit shares a fixed set of API credentials between concurrent
// callers without exceeding any credential's quota.
//
// A Pool tracks each credential's remaining quota and reset time as reported
// by the API (X-RateLimit-Remaining / X-RateLimit-Reset). A Limiter wraps the
// pool with a global permit that bounds in-flight calls, and blocks callers
// until some credential can serve them. Quota state can be snapshotted to
// Redis through a Tracker so a restarted run does not reuse exhausted tokens.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Redis key layout for quota snapshots.
const (
	// RedisKeyPrefix prefixes the per-credential quota hash.
	RedisKeyPrefix = "harvest:quota:"

	redisFieldRemaining = "remaining"
	redisFieldResetAt   = "reset_at"
	redisFieldUpdatedAt = "updated_at"
)

// Quota defaults.
const (
	// DefaultCeiling is the nominal quota a credential gets back after its
	// reset time passes (GitHub: 5000 requests per hour).
	DefaultCeiling = 5000

	// DefaultFallbackCooldown is the reset horizon assumed when a response
	// carried no usable reset time.
	DefaultFallbackCooldown = 300 * time.Second
)

// Credential is a read-only view of one pooled API credential.
type Credential struct {
	// ID is a stable fingerprint of the token, safe to log.
	ID string

	// Token is the secret sent to the API.
	Token string

	// Remaining is the estimated number of calls left before ResetAt.
	Remaining int

	// ResetAt is when the API restores the full quota.
	ResetAt time.Time

	// InUse is true while a caller holds the credential.
	InUse bool
}

// QuotaState is the persisted quota snapshot of one credential.
type QuotaState struct {
	CredentialID string    `json:"credential_id"`
	Remaining    int       `json:"remaining"`
	ResetAt      time.Time `json:"reset_at"`
	LastUpdate   time.Time `json:"last_update"`
}

// Exhausted returns true if the snapshot has no calls left.
func (s *QuotaState) Exhausted() bool {
	return s.Remaining <= 0
}

// TimeUntilReset returns the duration until the quota resets.
// Returns 0 if the reset time has already passed.
func (s *QuotaState) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the snapshot is older than maxAge.
func (s *QuotaState) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge
}

// Active returns true while the snapshot still describes the current quota
// window, i.e. its reset time lies in the future.
func (s *QuotaState) Active(now time.Time) bool {
	return s.ResetAt.After(now)
}

// Fingerprint derives the credential ID for a token.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "cred-" + hex.EncodeToString(sum[:])[:10]
}
