package cache

import "time"

// Entry is the cached result of one successfully fetched chunk.
type Entry struct {
	// Items is the chunk's payload as returned by the request function.
	Items []string `json:"items"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when the chunk was fetched.
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry creates an entry expiring ttl from now.
func NewEntry(items []string, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{Items: items, Expires: now.Add(ttl), CachedAt: now}
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
