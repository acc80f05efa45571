package services

import (
	"fmt"
	"sort"

	"bidding-core/internal/domain"

	"github.com/shopspring/decimal"
)

// CascadeResolver lets standing auto-bids answer the current leader until
// no other auto-bid can beat it.
//
// Each round the responder is the eligible auto-bid with the highest max
// (earliest registration on ties). It bids just enough to clear every other
// auto-bid that could still answer, capped at its own max. That makes the
// loop settle on the English-auction price, min(second max + increment,
// highest max), in a number of rounds bounded by the active auto-bids.
type CascadeResolver struct {
	policy *IncrementPolicy
}

func NewCascadeResolver(policy *IncrementPolicy) *CascadeResolver {
	return &CascadeResolver{policy: policy}
}

// Resolve runs rounds against txn's book and returns how many synthetic bids it placed.
func (r *CascadeResolver) Resolve(txn *bookTxn) (int, error) {
	bound := len(txn.book.ActiveAutoBids())
	rounds := 0

	for {
		leader := txn.book.HighestBid()
		if leader == nil {
			return rounds, nil
		}

		minNext := r.policy.MinimumNextBid(leader.Amount)
		responder, ceiling := r.selectResponder(txn.book, leader, minNext)
		if responder == nil {
			return rounds, nil
		}
		if rounds >= bound {
			return rounds, fmt.Errorf("%w: auction %s, %d rounds, responder %s",
				domain.ErrCascadeBoundExceeded, txn.book.AuctionID, rounds, responder.ID)
		}

		target := decimal.Max(minNext, r.policy.MinimumNextBid(ceiling))
		amount := decimal.Min(target, responder.MaxAmount)

		bid := &domain.Bid{
			ID:             txn.newID(),
			AuctionID:      txn.book.AuctionID,
			BidderID:       responder.UserID,
			BidderUsername: responder.Username,
			Amount:         amount,
			BidTime:        txn.now,
			Status:         domain.BidPending,
			IsAutoBid:      true,
			AutoBidID:      responder.ID,
		}
		if err := txn.accept(bid); err != nil {
			return rounds, fmt.Errorf("auto-bid %s at %s: %w", responder.ID, amount, err)
		}

		lastBid := txn.now
		responder.CurrentBidAmount = amount
		responder.LastBidAt = &lastBid
		rounds++
	}
}

// selectResponder returns the auto-bid that answers leader, and the highest
// amount any other auto-bid could still push the price to.
func (r *CascadeResolver) selectResponder(book *domain.AuctionBook, leader *domain.Bid, minNext decimal.Decimal) (*domain.AutoBid, decimal.Decimal) {
	ceiling := leader.Amount
	var eligible []*domain.AutoBid

	for _, ab := range book.AutoBids {
		if !ab.IsActive || ab.MaxAmount.LessThan(minNext) {
			continue
		}
		if ab.UserID == leader.BidderID {
			// Never bids against its owner, but may answer whoever outbids the owner.
			ceiling = decimal.Max(ceiling, ab.MaxAmount)
			continue
		}
		eligible = append(eligible, ab)
	}
	if len(eligible) == 0 {
		return nil, ceiling
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if !a.MaxAmount.Equal(b.MaxAmount) {
			return a.MaxAmount.GreaterThan(b.MaxAmount)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	for _, ab := range eligible[1:] {
		ceiling = decimal.Max(ceiling, ab.MaxAmount)
	}
	return eligible[0], ceiling
}
