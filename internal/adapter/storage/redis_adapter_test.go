package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/retail-floor/internal/port"
)

func redisForTest(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// claimOnce races callers on one key and returns how many were let through.
func claimOnce(t *testing.T, store port.IdempotencyStore, key string, callers int) int32 {
	t.Helper()
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.SetIdempotency(context.Background(), key)
			if !assert.NoError(t, err) {
				return
			}
			if ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	return accepted.Load()
}

func TestRedisAdapter_SetIdempotency(t *testing.T) {
	client := redisForTest(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := "POST /api/customers " + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), idempotencyKeyPrefix+key) })

	fresh, err := adapter.SetIdempotency(ctx, key)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = adapter.SetIdempotency(ctx, key)
	require.NoError(t, err)
	assert.False(t, fresh, "a replayed key is rejected")

	ttl, err := client.TTL(ctx, idempotencyKeyPrefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, adapter.ReleaseIdempotency(ctx, key))
	fresh, err = adapter.SetIdempotency(ctx, key)
	require.NoError(t, err)
	assert.True(t, fresh, "a released key can be claimed again")
}

func TestIdempotencyStores_OneWinnerUnderRace(t *testing.T) {
	stores := map[string]func(t *testing.T) port.IdempotencyStore{
		"memory": func(*testing.T) port.IdempotencyStore { return NewMemoryIdempotency(time.Minute) },
		"redis": func(t *testing.T) port.IdempotencyStore {
			return NewRedisAdapter(redisForTest(t), time.Minute)
		},
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			assert.Equal(t, int32(1), claimOnce(t, store, "race "+uuid.NewString(), 100))
		})
	}
}

func TestMemoryIdempotency_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryIdempotency(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ok, err := m.SetIdempotency(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.SetIdempotency(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = m.SetIdempotency(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "expired keys are accepted again")

	require.NoError(t, m.ReleaseIdempotency(ctx, "k"))
	ok, err = m.SetIdempotency(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "a released key can be claimed again")
}
