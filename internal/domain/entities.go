package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Auction is the read-only view of an auction owned by the auction service.
type Auction struct {
	ID           string
	SellerID     string
	StartTime    time.Time
	EndTime      time.Time
	Status       AuctionStatus
	ReservePrice decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsLive reports whether the auction accepts bids at now.
func (a *Auction) IsLive(now time.Time) bool {
	return a.Status == AuctionActive && !now.Before(a.StartTime) && now.Before(a.EndTime)
}

type AuctionStatus int

const (
	AuctionPending AuctionStatus = iota
	AuctionActive
	AuctionEnded
	AuctionCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionPending:
		return "pending"
	case AuctionActive:
		return "active"
	case AuctionEnded:
		return "ended"
	case AuctionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type BidStatus string

const (
	BidPending   BidStatus = "pending"
	BidAccepted  BidStatus = "accepted"
	BidRejected  BidStatus = "rejected"
	BidOutbid    BidStatus = "outbid"
	BidRetracted BidStatus = "retracted"
)

type Bid struct {
	ID             string          `json:"id"`
	AuctionID      string          `json:"auction_id"`
	BidderID       string          `json:"bidder_id"`
	BidderUsername string          `json:"bidder_username"`
	Amount         decimal.Decimal `json:"amount"`
	BidTime        time.Time       `json:"bid_time"`
	Status         BidStatus       `json:"status"`
	IsAutoBid      bool            `json:"is_auto_bid"`
	AutoBidID      string          `json:"auto_bid_id,omitempty"`
	// Version is the book version the bid was written at.
	Version int64 `json:"version"`
}

// AutoBid is a standing instruction to bid up to MaxAmount on the user's behalf.
type AutoBid struct {
	ID               string          `json:"id"`
	AuctionID        string          `json:"auction_id"`
	UserID           string          `json:"user_id"`
	Username         string          `json:"username"`
	MaxAmount        decimal.Decimal `json:"max_amount"`
	CurrentBidAmount decimal.Decimal `json:"current_bid_amount"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
	LastBidAt        *time.Time      `json:"last_bid_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
}

func (a *AutoBid) IsCancelled() bool {
	return a.CancelledAt != nil
}

// BidResult is what a caller sees after a placement settles, cascade included.
type BidResult struct {
	BidID           string          `json:"bid_id"`
	AuctionID       string          `json:"auction_id"`
	Status          BidStatus       `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	MinimumNextBid  decimal.Decimal `json:"minimum_next_bid"`
	IsLeading       bool            `json:"is_leading"`
	HighestAmount   decimal.Decimal `json:"highest_amount"`
	HighestBidderID string          `json:"highest_bidder_id,omitempty"`
	ReserveMet      bool            `json:"reserve_met"`
	ErrorCode       ErrorCode       `json:"error_code,omitempty"`
	Message         string          `json:"message,omitempty"`
	Events          []Event         `json:"-"`
}

type RetractResult struct {
	BidID              string           `json:"bid_id"`
	Success            bool             `json:"success"`
	WasHighestBid      bool             `json:"was_highest_bid"`
	NewHighestBidID    string           `json:"new_highest_bid_id,omitempty"`
	NewHighestAmount   *decimal.Decimal `json:"new_highest_amount,omitempty"`
	NewHighestBidderID string           `json:"new_highest_bidder_id,omitempty"`
	Events             []Event          `json:"-"`
}

// AuctionState is the read-side snapshot served to clients.
type AuctionState struct {
	AuctionID       string          `json:"auction_id"`
	HighestBidID    string          `json:"highest_bid_id,omitempty"`
	HighestAmount   decimal.Decimal `json:"highest_amount"`
	HighestBidderID string          `json:"highest_bidder_id,omitempty"`
	MinimumNextBid  decimal.Decimal `json:"minimum_next_bid"`
	BidCount        int             `json:"bid_count"`
	ActiveAutoBids  int             `json:"active_auto_bids"`
	Closed          bool            `json:"closed"`
	Version         int64           `json:"version"`
}

// AuctionFinishedEvent is published by the auction service when bidding closes.
type AuctionFinishedEvent struct {
	AuctionID  string    `json:"auction_id"`
	FinishedAt time.Time `json:"finished_at"`
}
