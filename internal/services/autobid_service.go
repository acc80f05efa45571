package services

import (
	"context"

	"bidding-core/internal/domain"

	"github.com/shopspring/decimal"
)

type CreateAutoBidRequest struct {
	AuctionID string
	UserID    string
	Username  string
	MaxAmount decimal.Decimal
}

type AutoBidResult struct {
	AutoBid         *domain.AutoBid
	HighestBidID    string
	HighestAmount   decimal.Decimal
	HighestBidderID string
	IsLeading       bool
	Events          []domain.Event
}

// CreateAutoBid registers a proxy bid. When someone else leads, the proxy
// answers right away through the cascade.
func (s *BidService) CreateAutoBid(ctx context.Context, req CreateAutoBidRequest) (*AutoBidResult, error) {
	s.log.Info("Creating auto-bid", "auction_id", req.AuctionID, "user_id", req.UserID, "max_amount", req.MaxAmount.String())

	if !req.MaxAmount.IsPositive() {
		return nil, domain.NewBidError(domain.CodeInvalidAmount, "max amount must be positive, got %s", req.MaxAmount)
	}

	now := s.clock()
	auction, err := s.auctions.LiveAuction(ctx, req.AuctionID, now)
	if err != nil {
		return nil, err
	}
	if req.UserID == auction.SellerID {
		return nil, domain.NewBidError(domain.CodeSelfBidding, "user %s is the seller", req.UserID)
	}

	autoBidID := s.newID()
	var events []domain.Event
	book, err := s.controller.Execute(ctx, req.AuctionID, func(book *domain.AuctionBook) (bool, error) {
		if book.Closed {
			return false, domain.NewBidError(domain.CodeAuctionNotLive, "auction %s has finished", req.AuctionID)
		}
		if existing := book.ActiveAutoBidFor(req.UserID); existing != nil {
			return false, domain.NewBidError(domain.CodeAutoBidAlreadyActive, "auto-bid %s is already active", existing.ID)
		}
		if err := s.checkMaxAmount(book, req.UserID, req.MaxAmount); err != nil {
			return false, err
		}

		book.AutoBids = append(book.AutoBids, &domain.AutoBid{
			ID:               autoBidID,
			AuctionID:        req.AuctionID,
			UserID:           req.UserID,
			Username:         req.Username,
			MaxAmount:        req.MaxAmount,
			CurrentBidAmount: decimal.Zero,
			IsActive:         true,
			CreatedAt:        now,
		})
		book.UpdatedAt = now

		txn := newBookTxn(book, s.policy, now, s.newID)
		if _, err := s.cascade.Resolve(txn); err != nil {
			return false, err
		}
		events = txn.events
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return s.autoBidResult(book, autoBidID, events), nil
}

// ToggleAutoBid pauses or resumes a proxy bid. A cancelled one stays cancelled.
func (s *BidService) ToggleAutoBid(ctx context.Context, autoBidID, userID string, active bool) (*AutoBidResult, error) {
	s.log.Info("Toggling auto-bid", "auto_bid_id", autoBidID, "user_id", userID, "active", active)

	auctionID, err := s.ledger.FindAutoBidAuction(ctx, autoBidID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	if active {
		if _, err := s.auctions.LiveAuction(ctx, auctionID, now); err != nil {
			return nil, err
		}
	}

	var events []domain.Event
	book, err := s.controller.Execute(ctx, auctionID, func(book *domain.AuctionBook) (bool, error) {
		ab, err := s.ownedAutoBid(book, autoBidID, userID)
		if err != nil {
			return false, err
		}
		if ab.IsCancelled() {
			return false, domain.NewBidError(domain.CodeAutoBidCancelled, "auto-bid %s was cancelled", autoBidID)
		}
		if ab.IsActive == active {
			return false, nil
		}

		if active {
			if other := book.ActiveAutoBidFor(userID); other != nil {
				return false, domain.NewBidError(domain.CodeAutoBidAlreadyActive, "auto-bid %s is already active", other.ID)
			}
			if err := s.checkMaxAmount(book, userID, ab.MaxAmount); err != nil {
				return false, err
			}
		}
		ab.IsActive = active
		book.UpdatedAt = now

		txn := newBookTxn(book, s.policy, now, s.newID)
		if active {
			if _, err := s.cascade.Resolve(txn); err != nil {
				return false, err
			}
		}
		events = txn.events
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return s.autoBidResult(book, autoBidID, events), nil
}

// CancelAutoBid deactivates a proxy bid for good. Bids it already placed stand.
func (s *BidService) CancelAutoBid(ctx context.Context, autoBidID, userID string) (*AutoBidResult, error) {
	s.log.Info("Cancelling auto-bid", "auto_bid_id", autoBidID, "user_id", userID)

	auctionID, err := s.ledger.FindAutoBidAuction(ctx, autoBidID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	book, err := s.controller.Execute(ctx, auctionID, func(book *domain.AuctionBook) (bool, error) {
		ab, err := s.ownedAutoBid(book, autoBidID, userID)
		if err != nil {
			return false, err
		}
		if ab.IsCancelled() {
			return false, nil
		}
		ab.IsActive = false
		ab.CancelledAt = &now
		book.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return s.autoBidResult(book, autoBidID, nil), nil
}

func (s *BidService) ownedAutoBid(book *domain.AuctionBook, autoBidID, userID string) (*domain.AutoBid, error) {
	if book.Closed {
		return nil, domain.NewBidError(domain.CodeAuctionNotLive, "auction %s has finished", book.AuctionID)
	}
	ab := book.FindAutoBid(autoBidID)
	if ab == nil {
		return nil, domain.ErrAutoBidNotFound
	}
	if ab.UserID != userID {
		return nil, domain.NewBidError(domain.CodeRetractUnauthorized, "auto-bid %s belongs to another user", autoBidID)
	}
	return ab, nil
}

// checkMaxAmount requires a proxy to be able to beat the current leader, or
// at least cover the user's own leading bid.
func (s *BidService) checkMaxAmount(book *domain.AuctionBook, userID string, maxAmount decimal.Decimal) error {
	if book.HighestBidID == "" {
		return nil
	}
	if book.HighestBidderID == userID {
		if maxAmount.LessThanOrEqual(book.HighestAmount) {
			return domain.NewBidError(domain.CodeBidTooLow, "max amount must exceed your leading bid of %s", book.HighestAmount)
		}
		return nil
	}
	if minNext := s.policy.MinimumNextBid(book.HighestAmount); maxAmount.LessThan(minNext) {
		return domain.NewBidError(domain.CodeBidTooLow, "max amount must be at least %s", minNext)
	}
	return nil
}

func (s *BidService) autoBidResult(book *domain.AuctionBook, autoBidID string, events []domain.Event) *AutoBidResult {
	ab := book.FindAutoBid(autoBidID)
	return &AutoBidResult{
		AutoBid:         ab,
		HighestBidID:    book.HighestBidID,
		HighestAmount:   book.HighestAmount,
		HighestBidderID: book.HighestBidderID,
		IsLeading:       ab != nil && book.HighestBidderID == ab.UserID,
		Events:          events,
	}
}
