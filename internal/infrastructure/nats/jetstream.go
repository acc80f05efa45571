package nats

import (
	"context"
	"fmt"
	"time"

	"bidding-core/internal/config"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Connect dials NATS and makes sure the bid event stream exists.
func Connect(ctx context.Context, cfg config.NATSConfig) (*nats.Conn, jetstream.JetStream, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("bidding-core"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := EnsureStream(ctx, js, cfg.Stream, cfg.SubjectPrefix); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, js, nil
}

// EnsureStream creates or updates the stream that captures every auction's
// subject under prefix. Several consumers read it, so it keeps messages by
// age rather than as a work queue.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name, prefix string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        name,
		Description: "Bid domain events per auction",
		Subjects:    []string{prefix + ".>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  2 * time.Minute,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream %s: %w", name, err)
	}
	return nil
}

func subjectFor(prefix, auctionID string) string {
	return fmt.Sprintf("%s.%s", prefix, auctionID)
}
