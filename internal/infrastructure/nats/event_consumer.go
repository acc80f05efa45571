package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"bidding-core/internal/domain"
	"bidding-core/pkg/logger"

	"github.com/nats-io/nats.go/jetstream"
)

// ackable is the slice of jetstream.Msg the consumer touches.
type ackable interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

// JetStreamConsumer reads bid events through a durable consumer, so
// nothing published while no reader is attached gets lost.
type JetStreamConsumer struct {
	js      jetstream.JetStream
	stream  string
	durable string
	filter  string
	log     logger.Logger
}

func NewJetStreamConsumer(js jetstream.JetStream, stream, durable, subjectPrefix string, log logger.Logger) *JetStreamConsumer {
	return &JetStreamConsumer{
		js:      js,
		stream:  stream,
		durable: durable,
		filter:  subjectPrefix + ".>",
		log:     log,
	}
}

// SubscribeToBidEvents blocks until ctx is done.
func (c *JetStreamConsumer) SubscribeToBidEvents(ctx context.Context, handler domain.EventHandler) error {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.stream, jetstream.ConsumerConfig{
		Durable:       c.durable,
		FilterSubject: c.filter,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer %s: %w", c.durable, err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handleMessage(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer consumeCtx.Stop()

	c.log.Info("Consuming bid events from JetStream", "stream", c.stream, "durable", c.durable)
	<-ctx.Done()
	return ctx.Err()
}

// handleMessage acks handled events, naks failures for redelivery and
// terminates messages that can never decode.
func (c *JetStreamConsumer) handleMessage(ctx context.Context, msg ackable, handler domain.EventHandler) {
	var event domain.Event
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		c.log.Error("Failed to unmarshal event", "error", err)
		if err := msg.Term(); err != nil {
			c.log.Warn("Failed to terminate message", "error", err)
		}
		return
	}

	if err := handler(ctx, &event); err != nil {
		c.log.Error("Failed to handle bid event", "event_id", event.ID, "error", err)
		if err := msg.Nak(); err != nil {
			c.log.Warn("Failed to nak message", "event_id", event.ID, "error", err)
		}
		return
	}

	if err := msg.Ack(); err != nil {
		c.log.Warn("Failed to ack message", "event_id", event.ID, "error", err)
	}
}
