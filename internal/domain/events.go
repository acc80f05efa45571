package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBidPlaced         EventType = "BidPlaced"
	EventBidAccepted       EventType = "BidAccepted"
	EventBidRejected       EventType = "BidRejected"
	EventHighestBidUpdated EventType = "HighestBidUpdated"
	EventBidRetracted      EventType = "BidRetracted"
)

// Event is the envelope every domain event travels in. Consumers dedup on ID.
type Event struct {
	ID         string      `json:"event_id"`
	Type       EventType   `json:"type"`
	AuctionID  string      `json:"auction_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

type BidPlacedDomainEvent struct {
	BidID          string          `json:"bid_id"`
	AuctionID      string          `json:"auction_id"`
	BidderID       string          `json:"bidder_id"`
	BidderUsername string          `json:"bidder_username"`
	Amount         decimal.Decimal `json:"amount"`
	BidTime        time.Time       `json:"bid_time"`
}

type BidAcceptedDomainEvent struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
}

type BidRejectedDomainEvent struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

type HighestBidUpdatedDomainEvent struct {
	AuctionID             string           `json:"auction_id"`
	BidID                 string           `json:"bid_id"`
	BidderID              string           `json:"bidder_id"`
	BidderUsername        string           `json:"bidder_username"`
	NewHighestAmount      decimal.Decimal  `json:"new_highest_amount"`
	PreviousHighestAmount *decimal.Decimal `json:"previous_highest_amount,omitempty"`
	PreviousBidderID      string           `json:"previous_bidder_id,omitempty"`
	IsAutoBid             bool             `json:"is_auto_bid"`
}

type BidRetractedDomainEvent struct {
	BidID              string           `json:"bid_id"`
	AuctionID          string           `json:"auction_id"`
	BidderID           string           `json:"bidder_id"`
	Amount             decimal.Decimal  `json:"amount"`
	Reason             string           `json:"reason"`
	WasHighestBid      bool             `json:"was_highest_bid"`
	NewHighestBidID    string           `json:"new_highest_bid_id,omitempty"`
	NewHighestAmount   *decimal.Decimal `json:"new_highest_amount,omitempty"`
	NewHighestBidderID string           `json:"new_highest_bidder_id,omitempty"`
}

// UnmarshalJSON decodes the payload into the concrete event struct for Type.
func (e *Event) UnmarshalJSON(data []byte) error {
	type envelope struct {
		ID         string          `json:"event_id"`
		Type       EventType       `json:"type"`
		AuctionID  string          `json:"auction_id"`
		OccurredAt time.Time       `json:"occurred_at"`
		Payload    json.RawMessage `json:"payload"`
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	var payload interface{}
	switch env.Type {
	case EventBidPlaced:
		payload = &BidPlacedDomainEvent{}
	case EventBidAccepted:
		payload = &BidAcceptedDomainEvent{}
	case EventBidRejected:
		payload = &BidRejectedDomainEvent{}
	case EventHighestBidUpdated:
		payload = &HighestBidUpdatedDomainEvent{}
	case EventBidRetracted:
		payload = &BidRetractedDomainEvent{}
	default:
		return fmt.Errorf("unknown event type %q", env.Type)
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}

	e.ID = env.ID
	e.Type = env.Type
	e.AuctionID = env.AuctionID
	e.OccurredAt = env.OccurredAt
	e.Payload = payload
	return nil
}
