package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bidding-core/internal/domain"
)

// MySQLBidEventRepository archives emitted bid events. Redelivered events
// are ignored on their event id.
type MySQLBidEventRepository struct {
	db *sql.DB
}

func NewMySQLBidEventRepository(db *sql.DB) *MySQLBidEventRepository {
	return &MySQLBidEventRepository{db: db}
}

func (r *MySQLBidEventRepository) SaveBidEvent(ctx context.Context, event *domain.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.Type, err)
	}

	query := `
        INSERT IGNORE INTO bid_events (event_id, auction_id, event_type, payload, occurred_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	_, err = r.db.ExecContext(ctx, query,
		event.ID, event.AuctionID, string(event.Type), payload, event.OccurredAt, time.Now())
	return err
}

// GetBidHistory returns archived events of an auction in the order they happened.
func (r *MySQLBidEventRepository) GetBidHistory(ctx context.Context, auctionID string) ([]*domain.Event, error) {
	query := `
        SELECT event_id, auction_id, event_type, payload, occurred_at
        FROM bid_events
        WHERE auction_id = ?
        ORDER BY occurred_at ASC, event_id ASC
    `

	rows, err := r.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var (
			row     storedEvent
			payload []byte
		)
		if err := rows.Scan(&row.ID, &row.AuctionID, &row.Type, &payload, &row.OccurredAt); err != nil {
			return nil, err
		}
		row.Payload = json.RawMessage(payload)

		encoded, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		var event domain.Event
		if err := json.Unmarshal(encoded, &event); err != nil {
			return nil, fmt.Errorf("decode archived event %s: %w", row.ID, err)
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// storedEvent mirrors domain.Event on the wire so archived rows decode
// through the same typed-payload path as live ones.
type storedEvent struct {
	ID         string           `json:"event_id"`
	Type       domain.EventType `json:"type"`
	AuctionID  string           `json:"auction_id"`
	OccurredAt time.Time        `json:"occurred_at"`
	Payload    json.RawMessage  `json:"payload"`
}

var _ domain.BidEventRepository = (*MySQLBidEventRepository)(nil)
