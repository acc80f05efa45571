package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bidding-core/internal/domain"

	"github.com/nats-io/nats.go/jetstream"
)

// streamPublisher is the part of jetstream.JetStream the publisher needs.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamPublisher writes each event to <prefix>.<auctionID> and waits for
// the server ack. The event id doubles as the message id, so a retried
// publish is deduplicated by the stream.
type JetStreamPublisher struct {
	js      streamPublisher
	prefix  string
	timeout time.Duration
}

func NewJetStreamPublisher(js streamPublisher, subjectPrefix string, timeout time.Duration) *JetStreamPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &JetStreamPublisher{js: js, prefix: subjectPrefix, timeout: timeout}
}

func (p *JetStreamPublisher) Publish(ctx context.Context, events []domain.Event) error {
	for i := range events {
		event := &events[i]
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
		}

		pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
		_, err = p.js.Publish(pubCtx, subjectFor(p.prefix, event.AuctionID), data, jetstream.WithMsgID(event.ID))
		cancel()
		if err != nil {
			return fmt.Errorf("failed to publish event %s to JetStream: %w", event.ID, err)
		}
	}
	return nil
}
