package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/port"
)

const (
	DefaultRedisChannel = "retail:events"
	DefaultReplayLength = 500
)

// publishScript fans the envelope out to live subscribers and keeps a capped
// list so a reconnecting client can catch up on what it missed.
var publishScript = redis.NewScript(`
local channel = KEYS[1]
local replay = KEYS[2]
local payload = ARGV[1]
local keep = tonumber(ARGV[2])

redis.call('LPUSH', replay, payload)
redis.call('LTRIM', replay, 0, keep - 1)
return redis.call('PUBLISH', channel, payload)
`)

var _ port.Notifier = (*RedisNotifier)(nil)

type RedisNotifier struct {
	client  *redis.Client
	channel string
	keep    int
}

func NewRedisNotifier(client *redis.Client, channel string, keep int) *RedisNotifier {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if keep <= 0 {
		keep = DefaultReplayLength
	}
	return &RedisNotifier{client: client, channel: channel, keep: keep}
}

func (r *RedisNotifier) replayKey() string {
	return r.channel + ":replay"
}

func (r *RedisNotifier) Publish(ctx context.Context, events ...domain.Event) error {
	for _, e := range events {
		payload, err := Encode(e)
		if err != nil {
			return err
		}
		if err := publishScript.Run(ctx, r.client, []string{r.channel, r.replayKey()}, payload, r.keep).Err(); err != nil {
			return fmt.Errorf("redis publish %s: %w", e.Type, err)
		}
	}
	return nil
}

// Recent returns up to n envelopes from the replay list, newest first.
func (r *RedisNotifier) Recent(ctx context.Context, n int) ([][]byte, error) {
	vals, err := r.client.LRange(ctx, r.replayKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// Close is a no-op; the client is owned by the caller.
func (r *RedisNotifier) Close() error { return nil }
