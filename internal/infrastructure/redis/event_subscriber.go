package redis

import (
	"context"
	"encoding/json"
	"errors"

	"bidding-core/internal/domain"
	"bidding-core/pkg/logger"

	"github.com/go-redis/redis/v8"
)

type RedisEventSubscriber struct {
	client          *redis.Client
	bidChannel      string
	finishedChannel string
	log             logger.Logger
}

func NewRedisEventSubscriber(client *redis.Client, bidChannel, finishedChannel string, log logger.Logger) *RedisEventSubscriber {
	return &RedisEventSubscriber{
		client:          client,
		bidChannel:      bidChannel,
		finishedChannel: finishedChannel,
		log:             log,
	}
}

// SubscribeToBidEvents blocks until ctx is done, handing every decoded bid
// event to handler. Malformed messages are logged and skipped.
func (r *RedisEventSubscriber) SubscribeToBidEvents(ctx context.Context, handler domain.EventHandler) error {
	return r.consume(ctx, r.bidChannel, func(payload string) error {
		var event domain.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return err
		}
		if err := handler(ctx, &event); err != nil {
			r.log.Error("Failed to handle bid event", "event_id", event.ID, "type", string(event.Type), "error", err)
		}
		return nil
	})
}

func (r *RedisEventSubscriber) SubscribeToAuctionFinished(ctx context.Context, handler domain.AuctionFinishedHandler) error {
	return r.consume(ctx, r.finishedChannel, func(payload string) error {
		var event domain.AuctionFinishedEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return err
		}
		if event.AuctionID == "" {
			return errors.New("auction finished event without auction_id")
		}
		if err := handler(ctx, &event); err != nil {
			r.log.Error("Failed to handle auction finished", "auction_id", event.AuctionID, "error", err)
		}
		return nil
	})
}

func (r *RedisEventSubscriber) consume(ctx context.Context, channel string, handle func(payload string) error) error {
	pubsub := r.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed before reporting ready
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()

	r.log.Info("Subscribed to channel", "channel", channel)

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			if err := handle(msg.Payload); err != nil {
				r.log.Error("Failed to parse event", "channel", channel, "payload", msg.Payload, "error", err)
			}

		case <-ctx.Done():
			r.log.Info("Event subscriber stopped", "channel", channel)
			return ctx.Err()
		}
	}
}
