package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"bidding-core/internal/domain"

	"github.com/go-redis/redis/v8"
)

const (
	bidIndexKey     = "bidbook:index:bids"
	autoBidIndexKey = "bidbook:index:autobids"
)

// commitScript swaps the book only when the stored version still matches,
// and records the new bid and auto-bid ids in the lookup indexes.
//
// KEYS: book, bid index, auto-bid index
// ARGV: expected version, new version, book json, auction id, #bid ids, bid ids..., auto-bid ids...
var commitScript = redis.NewScript(`
	local current = redis.call('HGET', KEYS[1], 'version')
	if current == false then
		current = '0'
	end
	if current ~= ARGV[1] then
		return 0
	end

	redis.call('HSET', KEYS[1], 'version', ARGV[2], 'data', ARGV[3])

	local bids = tonumber(ARGV[5])
	for i = 6, 5 + bids do
		redis.call('HSET', KEYS[2], ARGV[i], ARGV[4])
	end
	for i = 6 + bids, #ARGV do
		redis.call('HSET', KEYS[3], ARGV[i], ARGV[4])
	end
	return 1
`)

// RedisBidLedger stores each auction book as one hash holding its version
// and JSON body. Commits are atomic through commitScript.
type RedisBidLedger struct {
	client *redis.Client
}

func NewRedisBidLedger(client *redis.Client) *RedisBidLedger {
	return &RedisBidLedger{client: client}
}

func bookKey(auctionID string) string {
	return fmt.Sprintf("bidbook:%s", auctionID)
}

func (r *RedisBidLedger) LoadAuction(ctx context.Context, auctionID string) (*domain.AuctionBook, error) {
	result, err := r.client.HMGet(ctx, bookKey(auctionID), "version", "data").Result()
	if err != nil {
		return nil, err
	}
	if result[1] == nil {
		return domain.NewAuctionBook(auctionID), nil
	}

	data, ok := result[1].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected book payload type %T", result[1])
	}
	var book domain.AuctionBook
	if err := json.Unmarshal([]byte(data), &book); err != nil {
		return nil, fmt.Errorf("decode book %s: %w", auctionID, err)
	}

	if raw, ok := result[0].(string); ok {
		version, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse book version %q: %w", raw, err)
		}
		book.Version = version
	}
	return &book, nil
}

func (r *RedisBidLedger) CommitAuction(ctx context.Context, change domain.BookChange) error {
	data, err := json.Marshal(change.Book)
	if err != nil {
		return fmt.Errorf("encode book %s: %w", change.Book.AuctionID, err)
	}

	args := make([]interface{}, 0, 5+len(change.NewBidIDs)+len(change.NewAutoBidIDs))
	args = append(args,
		strconv.FormatInt(change.ExpectedVersion, 10),
		strconv.FormatInt(change.Book.Version, 10),
		string(data),
		change.Book.AuctionID,
		len(change.NewBidIDs),
	)
	for _, id := range change.NewBidIDs {
		args = append(args, id)
	}
	for _, id := range change.NewAutoBidIDs {
		args = append(args, id)
	}

	keys := []string{bookKey(change.Book.AuctionID), bidIndexKey, autoBidIndexKey}
	swapped, err := commitScript.Run(ctx, r.client, keys, args...).Int64()
	if err != nil {
		return err
	}
	if swapped == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *RedisBidLedger) FindBidAuction(ctx context.Context, bidID string) (string, error) {
	auctionID, err := r.client.HGet(ctx, bidIndexKey, bidID).Result()
	if err == redis.Nil {
		return "", domain.ErrBidNotFound
	}
	return auctionID, err
}

func (r *RedisBidLedger) FindAutoBidAuction(ctx context.Context, autoBidID string) (string, error) {
	auctionID, err := r.client.HGet(ctx, autoBidIndexKey, autoBidID).Result()
	if err == redis.Nil {
		return "", domain.ErrAutoBidNotFound
	}
	return auctionID, err
}
