package redis

import (
	"context"
	"fmt"
	"strconv"

	"bidding-core/internal/domain"

	"github.com/go-redis/redis/v8"
)

type RedisStateCache struct {
	client *redis.Client
}

func NewRedisStateCache(client *redis.Client) *RedisStateCache {
	return &RedisStateCache{client: client}
}

func statusKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:status", auctionID)
}

func (r *RedisStateCache) SetAuctionStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	return r.client.Set(ctx, statusKey(auctionID), int(status), 0).Err()
}

func (r *RedisStateCache) GetAuctionStatus(ctx context.Context, auctionID string) (domain.AuctionStatus, bool, error) {
	result, err := r.client.Get(ctx, statusKey(auctionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return domain.AuctionPending, false, nil
		}
		return domain.AuctionPending, false, err
	}

	status, err := strconv.Atoi(result)
	if err != nil {
		return domain.AuctionPending, false, fmt.Errorf("parse status %q: %w", result, err)
	}
	return domain.AuctionStatus(status), true, nil
}
