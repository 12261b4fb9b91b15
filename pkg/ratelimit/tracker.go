package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// trackerQueueSize bounds the snapshots waiting for the writer.
	trackerQueueSize = 256

	// trackerWriteTimeout bounds one Redis write.
	trackerWriteTimeout = 5 * time.Second

	// trackerTTLPad keeps a snapshot around after its reset time.
	trackerTTLPad = time.Hour
)

// Tracker persists credential quota snapshots in Redis, shared by every
// process using the same tokens. Writes go through a background writer so
// Save never blocks the caller.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	ops    chan QuotaState
	done   chan struct{}
}

// NewTracker creates a tracker and starts its writer goroutine.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		redis:  redisClient,
		logger: logger.With().Str("component", "quota-tracker").Logger(),
		ops:    make(chan QuotaState, trackerQueueSize),
		done:   make(chan struct{}),
	}
	go t.writerLoop()
	return t
}

// Save queues a snapshot for writing. When the queue is full the snapshot
// is dropped; the next release of the same credential supersedes it anyway.
func (t *Tracker) Save(state QuotaState) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}

	select {
	case t.ops <- state:
	default:
		snapshotsDroppedTotal.Inc()
		t.logger.Debug().Str("credential", state.CredentialID).Msg("Quota snapshot dropped, writer saturated")
	}
}

// Close flushes queued snapshots and stops the writer.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.ops)
	t.mu.Unlock()

	<-t.done
}

func (t *Tracker) writerLoop() {
	defer close(t.done)
	for state := range t.ops {
		ctx, cancel := context.WithTimeout(context.Background(), trackerWriteTimeout)
		if err := t.Store(ctx, state); err != nil {
			t.logger.Warn().Err(err).Str("credential", state.CredentialID).Msg("Failed to store quota snapshot")
		}
		cancel()
	}
}

// Store writes one snapshot synchronously.
func (t *Tracker) Store(ctx context.Context, state QuotaState) error {
	key := RedisKeyPrefix + state.CredentialID

	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, key,
		redisFieldRemaining, state.Remaining,
		redisFieldResetAt, state.ResetAt.Unix(),
		redisFieldUpdatedAt, state.LastUpdate.UnixMilli(),
	)
	pipe.ExpireAt(ctx, key, state.ResetAt.Add(trackerTTLPad))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store quota snapshot in redis: %w", err)
	}

	t.logger.Debug().
		Str("credential", state.CredentialID).
		Int("remaining", state.Remaining).
		Time("reset_at", state.ResetAt).
		Msg("Quota snapshot stored")
	return nil
}

// GetState retrieves one credential's snapshot.
// Returns nil without error if nothing is stored.
func (t *Tracker) GetState(ctx context.Context, credentialID string) (*QuotaState, error) {
	states, err := t.Load(ctx, []string{credentialID})
	if err != nil {
		return nil, err
	}
	st, ok := states[credentialID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// Load retrieves the snapshots of the given credentials. Credentials with
// no stored snapshot are absent from the result.
func (t *Tracker) Load(ctx context.Context, ids []string) (map[string]QuotaState, error) {
	pipe := t.redis.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.HGetAll(ctx, RedisKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load quota snapshots from redis: %w", err)
	}

	out := make(map[string]QuotaState, len(ids))
	for id, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		st, err := parseQuotaState(id, fields)
		if err != nil {
			t.logger.Warn().Err(err).Str("credential", id).Msg("Ignoring malformed quota snapshot")
			continue
		}
		out[id] = st
	}
	return out, nil
}

func parseQuotaState(id string, fields map[string]string) (QuotaState, error) {
	remaining, err := strconv.Atoi(fields[redisFieldRemaining])
	if err != nil {
		return QuotaState{}, fmt.Errorf("parse %s: %w", redisFieldRemaining, err)
	}
	resetUnix, err := strconv.ParseInt(fields[redisFieldResetAt], 10, 64)
	if err != nil {
		return QuotaState{}, fmt.Errorf("parse %s: %w", redisFieldResetAt, err)
	}

	st := QuotaState{
		CredentialID: id,
		Remaining:    remaining,
		ResetAt:      time.Unix(resetUnix, 0),
	}
	if ms, err := strconv.ParseInt(fields[redisFieldUpdatedAt], 10, 64); err == nil {
		st.LastUpdate = time.UnixMilli(ms)
	}
	return st, nil
}
