package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionBook is the per-auction aggregate holding every bid and auto-bid of
// one auction together with the cached highest-bid figure. It is the unit of
// optimistic concurrency: one version per auction.
type AuctionBook struct {
	AuctionID       string          `json:"auction_id"`
	Version         int64           `json:"version"`
	Bids            []*Bid          `json:"bids"`
	AutoBids        []*AutoBid      `json:"auto_bids"`
	HighestBidID    string          `json:"highest_bid_id,omitempty"`
	HighestAmount   decimal.Decimal `json:"highest_amount"`
	HighestBidderID string          `json:"highest_bidder_id,omitempty"`
	Closed          bool            `json:"closed"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func NewAuctionBook(auctionID string) *AuctionBook {
	return &AuctionBook{AuctionID: auctionID, HighestAmount: decimal.Zero}
}

// Clone returns a deep copy, so a failed attempt never leaks into the loaded state.
func (b *AuctionBook) Clone() *AuctionBook {
	out := *b
	out.Bids = make([]*Bid, len(b.Bids))
	for i, bid := range b.Bids {
		c := *bid
		out.Bids[i] = &c
	}
	out.AutoBids = make([]*AutoBid, len(b.AutoBids))
	for i, ab := range b.AutoBids {
		c := *ab
		if ab.LastBidAt != nil {
			t := *ab.LastBidAt
			c.LastBidAt = &t
		}
		if ab.CancelledAt != nil {
			t := *ab.CancelledAt
			c.CancelledAt = &t
		}
		out.AutoBids[i] = &c
	}
	if b.ClosedAt != nil {
		t := *b.ClosedAt
		out.ClosedAt = &t
	}
	return &out
}

func (b *AuctionBook) HighestBid() *Bid {
	if b.HighestBidID == "" {
		return nil
	}
	return b.FindBid(b.HighestBidID)
}

func (b *AuctionBook) FindBid(id string) *Bid {
	for _, bid := range b.Bids {
		if bid.ID == id {
			return bid
		}
	}
	return nil
}

func (b *AuctionBook) FindAutoBid(id string) *AutoBid {
	for _, ab := range b.AutoBids {
		if ab.ID == id {
			return ab
		}
	}
	return nil
}

// ActiveAutoBidFor returns the user's active auto-bid, if any.
func (b *AuctionBook) ActiveAutoBidFor(userID string) *AutoBid {
	for _, ab := range b.AutoBids {
		if ab.UserID == userID && ab.IsActive {
			return ab
		}
	}
	return nil
}

func (b *AuctionBook) ActiveAutoBids() []*AutoBid {
	var active []*AutoBid
	for _, ab := range b.AutoBids {
		if ab.IsActive {
			active = append(active, ab)
		}
	}
	return active
}

// SetHighest points the cached highest-bid figure at bid, or clears it when bid is nil.
func (b *AuctionBook) SetHighest(bid *Bid) {
	if bid == nil {
		b.HighestBidID = ""
		b.HighestAmount = decimal.Zero
		b.HighestBidderID = ""
		return
	}
	b.HighestBidID = bid.ID
	b.HighestAmount = bid.Amount
	b.HighestBidderID = bid.BidderID
}

// BestStandingBid re-derives the leader from every bid that is still standing
// (accepted or outbid). Highest amount wins, earliest bid time breaks ties.
func (b *AuctionBook) BestStandingBid() *Bid {
	var best *Bid
	for _, bid := range b.Bids {
		if bid.Status != BidAccepted && bid.Status != BidOutbid {
			continue
		}
		if best == nil ||
			bid.Amount.GreaterThan(best.Amount) ||
			(bid.Amount.Equal(best.Amount) && bid.BidTime.Before(best.BidTime)) {
			best = bid
		}
	}
	return best
}

func (b *AuctionBook) State() *AuctionState {
	state := &AuctionState{
		AuctionID:       b.AuctionID,
		HighestBidID:    b.HighestBidID,
		HighestAmount:   b.HighestAmount,
		HighestBidderID: b.HighestBidderID,
		BidCount:        len(b.Bids),
		ActiveAutoBids:  len(b.ActiveAutoBids()),
		Closed:          b.Closed,
		Version:         b.Version,
	}
	return state
}
