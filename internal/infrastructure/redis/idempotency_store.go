package redis

import (
	"context"
	"time"

	"bidding-core/internal/domain"

	"github.com/go-redis/redis/v8"
)

const pendingMarker = "pending"

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisIdempotencyStore shares idempotency keys across instances. A key
// holds the pending marker while its request runs and the stored result after.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (r *RedisIdempotencyStore) Reserve(ctx context.Context, key string, lockTTL time.Duration) ([]byte, bool, error) {
	reserved, err := r.client.SetNX(ctx, key, pendingMarker, lockTTL).Result()
	if err != nil {
		return nil, false, err
	}
	if reserved {
		return nil, true, nil
	}

	payload, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		// expired between the two calls; the caller polls again
		return nil, false, domain.ErrIdempotencyInFlight
	}
	if err != nil {
		return nil, false, err
	}
	if string(payload) == pendingMarker {
		return nil, false, domain.ErrIdempotencyInFlight
	}
	return payload, false, nil
}

func (r *RedisIdempotencyStore) Complete(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, payload, ttl).Err()
}

// Release drops a pending reservation. A completed result is left alone.
func (r *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, r.client, []string{key}, pendingMarker).Err()
}
