package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestParseQuotaState(t *testing.T) {
	tests := []struct {
		name      string
		fields    map[string]string
		wantErr   bool
		remaining int
		resetAt   time.Time
	}{
		{
			name: "complete snapshot",
			fields: map[string]string{
				redisFieldRemaining: "4321",
				redisFieldResetAt:   "1700003600",
				redisFieldUpdatedAt: "1700000000000",
			},
			remaining: 4321,
			resetAt:   time.Unix(1_700_003_600, 0),
		},
		{
			name: "missing updated_at",
			fields: map[string]string{
				redisFieldRemaining: "0",
				redisFieldResetAt:   "1700003600",
			},
			remaining: 0,
			resetAt:   time.Unix(1_700_003_600, 0),
		},
		{
			name: "invalid remaining",
			fields: map[string]string{
				redisFieldRemaining: "many",
				redisFieldResetAt:   "1700003600",
			},
			wantErr: true,
		},
		{
			name: "invalid reset",
			fields: map[string]string{
				redisFieldRemaining: "1",
				redisFieldResetAt:   "later",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := parseQuotaState("cred-x", tt.fields)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseQuotaState() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if st.CredentialID != "cred-x" {
				t.Errorf("CredentialID = %s, want cred-x", st.CredentialID)
			}
			if st.Remaining != tt.remaining {
				t.Errorf("Remaining = %d, want %d", st.Remaining, tt.remaining)
			}
			if !st.ResetAt.Equal(tt.resetAt) {
				t.Errorf("ResetAt = %v, want %v", st.ResetAt, tt.resetAt)
			}
		})
	}
}

func TestTracker_StoreAndLoad(t *testing.T) {
	client := setupTestRedis(t)
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(client, logger)
	defer tracker.Close()

	ctx := context.Background()
	reset := time.Now().Add(time.Hour).Truncate(time.Second)

	if err := tracker.Store(ctx, QuotaState{
		CredentialID: "cred-a",
		Remaining:    12,
		ResetAt:      reset,
		LastUpdate:   time.Now(),
	}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	states, err := tracker.Load(ctx, []string{"cred-a", "cred-missing"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("Load() returned %d states, want 1", len(states))
	}
	if st := states["cred-a"]; st.Remaining != 12 || !st.ResetAt.Equal(reset) {
		t.Errorf("Load() = %+v, want remaining 12 reset %v", st, reset)
	}

	missing, err := tracker.GetState(ctx, "cred-missing")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if missing != nil {
		t.Errorf("GetState() = %+v, want nil", missing)
	}
}

func TestTracker_SaveFlushesOnClose(t *testing.T) {
	client := setupTestRedis(t)
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(client, logger)

	tracker.Save(QuotaState{
		CredentialID: "cred-b",
		Remaining:    7,
		ResetAt:      time.Now().Add(time.Hour),
		LastUpdate:   time.Now(),
	})
	tracker.Close()
	tracker.Close()

	// Saves after Close are ignored.
	tracker.Save(QuotaState{CredentialID: "cred-c", ResetAt: time.Now().Add(time.Hour)})

	ctx := context.Background()
	n, err := client.Exists(ctx, RedisKeyPrefix+"cred-b", RedisKeyPrefix+"cred-c").Result()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if n != 1 {
		t.Errorf("stored snapshots = %d, want 1", n)
	}
}
