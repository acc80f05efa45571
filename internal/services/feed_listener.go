package services

import (
	"context"
	"sync"

	"bidding-core/internal/domain"
	"bidding-core/pkg/logger"

	"github.com/shopspring/decimal"
)

// FeedService keeps a local snapshot per watched auction so new watchers
// get the current price without a ledger round trip.
type FeedService struct {
	ledger     domain.BidLedger
	policy     *IncrementPolicy
	localCache map[string]*domain.AuctionState
	cacheMutex sync.RWMutex
	log        logger.Logger
}

func NewFeedService(ledger domain.BidLedger, log logger.Logger) *FeedService {
	return &FeedService{
		ledger:     ledger,
		policy:     NewIncrementPolicy(),
		localCache: make(map[string]*domain.AuctionState),
		log:        log,
	}
}

// Snapshot returns a copy of the auction's state, loading it on first use.
func (f *FeedService) Snapshot(ctx context.Context, auctionID string) (*domain.AuctionState, error) {
	f.cacheMutex.RLock()
	cached, ok := f.localCache[auctionID]
	f.cacheMutex.RUnlock()
	if ok {
		c := *cached
		return &c, nil
	}

	book, err := f.ledger.LoadAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	state := book.State()
	if book.HighestBidID != "" {
		state.MinimumNextBid = f.policy.MinimumNextBid(book.HighestAmount)
	}

	f.cacheMutex.Lock()
	// an event may have landed while we loaded; keep the newer one
	if existing, ok := f.localCache[auctionID]; ok {
		state = existing
	} else {
		f.localCache[auctionID] = state
	}
	c := *state
	f.cacheMutex.Unlock()
	return &c, nil
}

// apply folds an event into the cached snapshot, if the auction is cached.
func (f *FeedService) apply(event *domain.Event) {
	f.cacheMutex.Lock()
	defer f.cacheMutex.Unlock()

	state, ok := f.localCache[event.AuctionID]
	if !ok {
		return
	}

	switch p := event.Payload.(type) {
	case *domain.BidPlacedDomainEvent:
		state.BidCount++
	case *domain.HighestBidUpdatedDomainEvent:
		state.HighestBidID = p.BidID
		state.HighestAmount = p.NewHighestAmount
		state.HighestBidderID = p.BidderID
		state.MinimumNextBid = f.policy.MinimumNextBid(p.NewHighestAmount)
	case *domain.BidRetractedDomainEvent:
		if !p.WasHighestBid {
			return
		}
		state.HighestBidID = p.NewHighestBidID
		state.HighestBidderID = p.NewHighestBidderID
		if p.NewHighestAmount == nil {
			state.HighestAmount = decimal.Zero
			state.MinimumNextBid = decimal.Zero
			return
		}
		state.HighestAmount = *p.NewHighestAmount
		state.MinimumNextBid = f.policy.MinimumNextBid(*p.NewHighestAmount)
	}
}

func (f *FeedService) forget(auctionID string) {
	f.cacheMutex.Lock()
	defer f.cacheMutex.Unlock()
	delete(f.localCache, auctionID)
}

// FeedListener turns bid events into websocket messages for watchers.
type FeedListener struct {
	feed              *FeedService
	broadcaster       domain.AuctionBroadcaster
	notifier          domain.UserNotifier
	connectionManager domain.ConnectionManager
	log               logger.Logger
}

func NewFeedListener(feed *FeedService, connectionManager domain.ConnectionManager,
	broadcaster domain.AuctionBroadcaster, notifier domain.UserNotifier, log logger.Logger) *FeedListener {
	return &FeedListener{
		feed:              feed,
		broadcaster:       broadcaster,
		notifier:          notifier,
		connectionManager: connectionManager,
		log:               log,
	}
}

// Start blocks until ctx is done or either subscription fails.
func (fl *FeedListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	fl.log.Info("Starting feed listener")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- subscriber.SubscribeToBidEvents(ctx, fl.handleBidEvent) }()
	go func() { errs <- subscriber.SubscribeToAuctionFinished(ctx, fl.handleAuctionFinished) }()

	err := <-errs
	cancel()
	<-errs
	return err
}

func (fl *FeedListener) handleBidEvent(ctx context.Context, event *domain.Event) error {
	fl.feed.apply(event)

	switch p := event.Payload.(type) {
	case *domain.HighestBidUpdatedDomainEvent:
		if p.PreviousBidderID != "" && p.PreviousBidderID != p.BidderID {
			if err := fl.notifier.NotifyUser(ctx, p.PreviousBidderID, map[string]interface{}{
				"type":           "outbid",
				"auction_id":     p.AuctionID,
				"highest_amount": p.NewHighestAmount,
			}); err != nil {
				fl.log.Warn("Failed to notify outbid user", "user_id", p.PreviousBidderID, "error", err)
			}
		}
		return fl.broadcaster.BroadcastToAuction(ctx, event.AuctionID, map[string]interface{}{
			"type":              "bid_update",
			"event_id":          event.ID,
			"bid_id":            p.BidID,
			"highest_amount":    p.NewHighestAmount,
			"highest_bidder_id": p.BidderID,
			"bidder_username":   p.BidderUsername,
			"is_auto_bid":       p.IsAutoBid,
			"timestamp":         event.OccurredAt,
		})

	case *domain.BidRetractedDomainEvent:
		return fl.broadcaster.BroadcastToAuction(ctx, event.AuctionID, map[string]interface{}{
			"type":                  "bid_retracted",
			"event_id":              event.ID,
			"bid_id":                p.BidID,
			"was_highest_bid":       p.WasHighestBid,
			"new_highest_bid_id":    p.NewHighestBidID,
			"new_highest_amount":    p.NewHighestAmount,
			"new_highest_bidder_id": p.NewHighestBidderID,
			"timestamp":             event.OccurredAt,
		})
	}
	return nil
}

func (fl *FeedListener) handleAuctionFinished(ctx context.Context, event *domain.AuctionFinishedEvent) error {
	fl.feed.forget(event.AuctionID)

	if err := fl.broadcaster.BroadcastToAuction(ctx, event.AuctionID, map[string]interface{}{
		"type":      "auction_ended",
		"timestamp": event.FinishedAt,
	}); err != nil {
		fl.log.Error("Failed to broadcast auction ended event", "auction_id", event.AuctionID, "error", err)
		return err
	}

	if err := fl.connectionManager.CloseAndUnregisterConnections(event.AuctionID); err != nil {
		fl.log.Error("Failed to finalize connections for auction", "auction_id", event.AuctionID, "error", err)
		return err
	}
	return nil
}
