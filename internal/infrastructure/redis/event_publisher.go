package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"bidding-core/internal/domain"

	"github.com/go-redis/redis/v8"
)

// EventPublisherImpl publishes each event as a JSON envelope on one pub/sub channel.
type EventPublisherImpl struct {
	client  *redis.Client
	channel string
}

func NewEventPublisher(client *redis.Client, channel string) *EventPublisherImpl {
	return &EventPublisherImpl{client: client, channel: channel}
}

func (r *EventPublisherImpl) Publish(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := range events {
			data, err := json.Marshal(&events[i])
			if err != nil {
				return fmt.Errorf("encode %s event %s: %w", events[i].Type, events[i].ID, err)
			}
			pipe.Publish(ctx, r.channel, data)
		}
		return nil
	})
	return err
}
