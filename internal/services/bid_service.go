package services

import (
	"context"
	"errors"
	"time"

	"bidding-core/internal/domain"
	"bidding-core/pkg/logger"
	"bidding-core/pkg/utils"

	"github.com/shopspring/decimal"
)

type PlaceBidRequest struct {
	AuctionID      string
	BidderID       string
	BidderUsername string
	Amount         decimal.Decimal
	IdempotencyKey string
}

type RetractBidRequest struct {
	BidID    string
	BidderID string
	Reason   string
}

type BidServiceSettings struct {
	MaxCommitAttempts int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RetractWindow     time.Duration
}

// BidService is the entry point for placing and retracting bids and for
// managing auto-bids. Every mutation of an auction goes through one
// compare-and-swap of its book, cascade included, and events are published
// only after that write lands.
type BidService struct {
	ledger        domain.BidLedger
	auctions      *AuctionGateway
	guard         *IdempotencyGuard
	publisher     domain.EventPublisher
	policy        *IncrementPolicy
	controller    *ConcurrencyController
	cascade       *CascadeResolver
	retractWindow time.Duration
	clock         func() time.Time
	newID         func() string
	log           logger.Logger
}

func NewBidService(
	ledger domain.BidLedger,
	auctions *AuctionGateway,
	guard *IdempotencyGuard,
	publisher domain.EventPublisher,
	settings BidServiceSettings,
	log logger.Logger,
) *BidService {
	policy := NewIncrementPolicy()
	return &BidService{
		ledger:        ledger,
		auctions:      auctions,
		guard:         guard,
		publisher:     publisher,
		policy:        policy,
		controller:    NewConcurrencyController(ledger, settings.MaxCommitAttempts, settings.RetryBaseDelay, settings.RetryMaxDelay, log),
		cascade:       NewCascadeResolver(policy),
		retractWindow: settings.RetractWindow,
		clock:         time.Now,
		newID:         utils.NewID,
		log:           log,
	}
}

func (s *BidService) PlaceBid(ctx context.Context, req PlaceBidRequest) (*domain.BidResult, error) {
	s.log.Info("Placing bid", "auction_id", req.AuctionID, "bidder_id", req.BidderID, "amount", req.Amount.String())

	if s.guard == nil {
		return s.placeBid(ctx, req)
	}
	return s.guard.Execute(ctx, req.BidderID, req.IdempotencyKey, func(ctx context.Context) (*domain.BidResult, error) {
		return s.placeBid(ctx, req)
	})
}

func (s *BidService) placeBid(ctx context.Context, req PlaceBidRequest) (*domain.BidResult, error) {
	now := s.clock()
	bid := &domain.Bid{
		ID:             s.newID(),
		AuctionID:      req.AuctionID,
		BidderID:       req.BidderID,
		BidderUsername: req.BidderUsername,
		Amount:         req.Amount,
		BidTime:        now,
		Status:         domain.BidPending,
	}

	auction, err := s.auctions.LiveAuction(ctx, req.AuctionID, now)
	if err != nil {
		return s.rejectBid(ctx, bid, nil, err)
	}
	if req.BidderID == auction.SellerID {
		return s.rejectBid(ctx, bid, nil, domain.NewBidError(domain.CodeSelfBidding, "bidder %s is the seller", req.BidderID))
	}

	var (
		events   []domain.Event
		snapshot *domain.AuctionBook
	)
	book, err := s.controller.Execute(ctx, req.AuctionID, func(book *domain.AuctionBook) (bool, error) {
		snapshot = book
		if book.Closed {
			return false, domain.NewBidError(domain.CodeAuctionNotLive, "auction %s has finished", req.AuctionID)
		}

		attempt := *bid
		txn := newBookTxn(book, s.policy, now, s.newID)
		if err := txn.accept(&attempt); err != nil {
			return false, err
		}
		rounds, err := s.cascade.Resolve(txn)
		if err != nil {
			return false, err
		}
		if rounds > 0 {
			s.log.Debug("Auto-bid cascade settled", "auction_id", req.AuctionID, "rounds", rounds)
		}
		events = txn.events
		return true, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrCascadeBoundExceeded) {
			s.log.Error("Auto-bid cascade aborted", "auction_id", req.AuctionID, "bid_id", bid.ID, "error", err)
			return nil, err
		}
		return s.rejectBid(ctx, bid, snapshot, err)
	}

	s.publish(ctx, events)

	result := s.bidResult(book, auction, bid.ID)
	result.Events = events
	s.log.Info("Bid settled", "auction_id", req.AuctionID, "bid_id", bid.ID,
		"status", string(result.Status), "highest_amount", result.HighestAmount.String())
	return result, nil
}

// rejectBid turns a business error into a rejected result plus a
// BidRejected event. Anything else is returned untouched.
func (s *BidService) rejectBid(ctx context.Context, bid *domain.Bid, book *domain.AuctionBook, err error) (*domain.BidResult, error) {
	be, ok := domain.AsBidError(err)
	if !ok || be.Category() == domain.CategoryConflict {
		if !ok {
			s.log.Error("Bid placement failed", "auction_id", bid.AuctionID, "bid_id", bid.ID, "error", err)
		}
		return nil, err
	}

	bid.Status = domain.BidRejected
	event := rejectionEvent(s.newID(), bid, be.Message, bid.BidTime)
	s.publish(ctx, []domain.Event{event})

	result := &domain.BidResult{
		BidID:     bid.ID,
		AuctionID: bid.AuctionID,
		Status:    domain.BidRejected,
		Amount:    bid.Amount,
		ErrorCode: be.Code,
		Message:   be.Message,
		Events:    []domain.Event{event},
	}
	if book != nil {
		result.HighestAmount = book.HighestAmount
		result.HighestBidderID = book.HighestBidderID
		result.MinimumNextBid = s.minimumNextBid(book)
	}

	s.log.Info("Bid rejected", "auction_id", bid.AuctionID, "bidder_id", bid.BidderID,
		"amount", bid.Amount.String(), "code", string(be.Code))
	return result, be
}

func (s *BidService) bidResult(book *domain.AuctionBook, auction *domain.Auction, bidID string) *domain.BidResult {
	bid := book.FindBid(bidID)
	return &domain.BidResult{
		BidID:           bid.ID,
		AuctionID:       bid.AuctionID,
		Status:          bid.Status,
		Amount:          bid.Amount,
		MinimumNextBid:  s.minimumNextBid(book),
		IsLeading:       book.HighestBidID == bid.ID,
		HighestAmount:   book.HighestAmount,
		HighestBidderID: book.HighestBidderID,
		ReserveMet:      auction.ReservePrice.IsZero() || book.HighestAmount.GreaterThanOrEqual(auction.ReservePrice),
	}
}

// minimumNextBid is zero while the book has no leader: any positive amount opens.
func (s *BidService) minimumNextBid(book *domain.AuctionBook) decimal.Decimal {
	if book.HighestBidID == "" {
		return decimal.Zero
	}
	return s.policy.MinimumNextBid(book.HighestAmount)
}

// publish runs detached from the caller's cancellation: a committed change
// always emits. Delivery failures are logged, consumers dedup on event id.
func (s *BidService) publish(ctx context.Context, events []domain.Event) {
	if len(events) == 0 || s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), events); err != nil {
		s.log.Error("Failed to publish bid events", "events", len(events), "error", err)
	}
}

func (s *BidService) RetractBid(ctx context.Context, req RetractBidRequest) (*domain.RetractResult, error) {
	s.log.Info("Retracting bid", "bid_id", req.BidID, "bidder_id", req.BidderID)

	auctionID, err := s.ledger.FindBidAuction(ctx, req.BidID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	if _, err := s.auctions.LiveAuction(ctx, auctionID, now); err != nil {
		return nil, err
	}

	var (
		events    []domain.Event
		retracted *domain.BidRetractedDomainEvent
	)
	book, err := s.controller.Execute(ctx, auctionID, func(book *domain.AuctionBook) (bool, error) {
		if book.Closed {
			return false, domain.NewBidError(domain.CodeAuctionNotLive, "auction %s has finished", auctionID)
		}
		bid := book.FindBid(req.BidID)
		if bid == nil {
			return false, domain.ErrBidNotFound
		}
		if bid.BidderID != req.BidderID {
			return false, domain.NewBidError(domain.CodeRetractUnauthorized, "bid %s belongs to another bidder", bid.ID)
		}
		if bid.Status != domain.BidAccepted {
			return false, domain.NewBidError(domain.CodeAlreadyRejected, "bid %s is %s", bid.ID, bid.Status)
		}
		if now.Sub(bid.BidTime) > s.retractWindow {
			return false, domain.NewBidError(domain.CodeRetractWindowExpired, "bid %s was placed more than %s ago", bid.ID, s.retractWindow)
		}

		txn := newBookTxn(book, s.policy, now, s.newID)
		wasHighest := book.HighestBidID == bid.ID
		bid.Status = domain.BidRetracted
		book.UpdatedAt = now

		// The retractor's proxy would otherwise bid straight back in.
		if ab := book.ActiveAutoBidFor(bid.BidderID); ab != nil {
			ab.IsActive = false
		}

		retracted = &domain.BidRetractedDomainEvent{
			BidID:         bid.ID,
			AuctionID:     bid.AuctionID,
			BidderID:      bid.BidderID,
			Amount:        bid.Amount,
			Reason:        req.Reason,
			WasHighestBid: wasHighest,
		}
		txn.emit(domain.EventBidRetracted, retracted)

		if wasHighest {
			next := book.BestStandingBid()
			book.SetHighest(next)
			if next != nil {
				next.Status = domain.BidAccepted
				txn.emitHighestUpdated(next, bid)
			}
		}

		if _, err := s.cascade.Resolve(txn); err != nil {
			return false, err
		}

		if wasHighest && book.HighestBidID != "" {
			retracted.NewHighestBidID = book.HighestBidID
			retracted.NewHighestAmount = decimalPtr(book.HighestAmount)
			retracted.NewHighestBidderID = book.HighestBidderID
		}
		events = txn.events
		return true, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrCascadeBoundExceeded) {
			s.log.Error("Auto-bid cascade aborted after retraction", "auction_id", auctionID, "bid_id", req.BidID, "error", err)
		}
		return nil, err
	}

	s.publish(ctx, events)

	result := &domain.RetractResult{
		BidID:         req.BidID,
		Success:       true,
		WasHighestBid: retracted.WasHighestBid,
		Events:        events,
	}
	if book.HighestBidID != "" {
		result.NewHighestBidID = book.HighestBidID
		result.NewHighestAmount = decimalPtr(book.HighestAmount)
		result.NewHighestBidderID = book.HighestBidderID
	}
	return result, nil
}

// FinishAuction freezes the book. Calling it again is a no-op.
func (s *BidService) FinishAuction(ctx context.Context, event *domain.AuctionFinishedEvent) error {
	finishedAt := event.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = s.clock()
	}

	_, err := s.controller.Execute(ctx, event.AuctionID, func(book *domain.AuctionBook) (bool, error) {
		if book.Closed {
			return false, nil
		}
		book.Closed = true
		book.ClosedAt = &finishedAt
		book.UpdatedAt = finishedAt
		return true, nil
	})
	if err != nil {
		return err
	}

	if err := s.auctions.MarkFinished(ctx, event.AuctionID); err != nil {
		s.log.Warn("Failed to cache finished auction status", "auction_id", event.AuctionID, "error", err)
	}
	s.log.Info("Auction bidding closed", "auction_id", event.AuctionID)
	return nil
}

func (s *BidService) GetAuctionState(ctx context.Context, auctionID string) (*domain.AuctionState, error) {
	book, err := s.ledger.LoadAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	state := book.State()
	state.MinimumNextBid = s.minimumNextBid(book)
	return state, nil
}
