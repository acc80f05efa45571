package services

import (
	"time"

	"bidding-core/internal/domain"

	"github.com/shopspring/decimal"
)

// bookTxn applies bids to one working copy of an auction book and collects
// the events they produce. It never touches storage.
type bookTxn struct {
	book   *domain.AuctionBook
	policy *IncrementPolicy
	now    time.Time
	newID  func() string
	events []domain.Event
}

func newBookTxn(book *domain.AuctionBook, policy *IncrementPolicy, now time.Time, newID func() string) *bookTxn {
	return &bookTxn{book: book, policy: policy, now: now, newID: newID}
}

// accept is the single acceptance path for manual and synthetic bids. It
// validates the amount against the current highest bid, demotes the previous
// leader and moves the cached highest figure.
func (t *bookTxn) accept(bid *domain.Bid) error {
	if !bid.Amount.IsPositive() {
		return domain.NewBidError(domain.CodeBidTooLow, "amount must be positive, got %s", bid.Amount)
	}
	if !t.policy.IsValidBidAmount(bid.Amount, t.book.HighestAmount) {
		return domain.NewBidError(domain.CodeBidTooLow, "minimum next bid is %s, got %s",
			t.policy.MinimumNextBid(t.book.HighestAmount), bid.Amount)
	}

	previous := t.book.HighestBid()
	if previous != nil {
		previous.Status = domain.BidOutbid
	}

	bid.Status = domain.BidAccepted
	bid.Version = t.book.Version + 1
	t.book.Bids = append(t.book.Bids, bid)
	t.book.SetHighest(bid)
	t.book.UpdatedAt = t.now

	t.emit(domain.EventBidPlaced, &domain.BidPlacedDomainEvent{
		BidID:          bid.ID,
		AuctionID:      bid.AuctionID,
		BidderID:       bid.BidderID,
		BidderUsername: bid.BidderUsername,
		Amount:         bid.Amount,
		BidTime:        bid.BidTime,
	})
	t.emit(domain.EventBidAccepted, &domain.BidAcceptedDomainEvent{
		BidID:     bid.ID,
		AuctionID: bid.AuctionID,
		BidderID:  bid.BidderID,
		Amount:    bid.Amount,
	})
	t.emitHighestUpdated(bid, previous)
	return nil
}

func (t *bookTxn) emitHighestUpdated(bid, previous *domain.Bid) {
	updated := &domain.HighestBidUpdatedDomainEvent{
		AuctionID:        bid.AuctionID,
		BidID:            bid.ID,
		BidderID:         bid.BidderID,
		BidderUsername:   bid.BidderUsername,
		NewHighestAmount: bid.Amount,
		IsAutoBid:        bid.IsAutoBid,
	}
	if previous != nil {
		amount := previous.Amount
		updated.PreviousHighestAmount = &amount
		updated.PreviousBidderID = previous.BidderID
	}
	t.emit(domain.EventHighestBidUpdated, updated)
}

func (t *bookTxn) emit(eventType domain.EventType, payload interface{}) {
	t.events = append(t.events, domain.Event{
		ID:         t.newID(),
		Type:       eventType,
		AuctionID:  t.book.AuctionID,
		OccurredAt: t.now,
		Payload:    payload,
	})
}

// rejectionEvent builds the event for a bid that never entered the book.
func rejectionEvent(id string, bid *domain.Bid, reason string, now time.Time) domain.Event {
	return domain.Event{
		ID:         id,
		Type:       domain.EventBidRejected,
		AuctionID:  bid.AuctionID,
		OccurredAt: now,
		Payload: &domain.BidRejectedDomainEvent{
			BidID:     bid.ID,
			AuctionID: bid.AuctionID,
			BidderID:  bid.BidderID,
			Amount:    bid.Amount,
			Reason:    reason,
		},
	}
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
