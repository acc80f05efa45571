package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bidding-core/internal/domain"
	"bidding-core/pkg/logger"
)

// AuctionGateway is the boundary check against the auction service. The
// optional state cache can only close an auction early, never reopen it.
type AuctionGateway struct {
	directory domain.AuctionDirectory
	states    domain.AuctionStateCache
	log       logger.Logger
}

func NewAuctionGateway(directory domain.AuctionDirectory, states domain.AuctionStateCache, log logger.Logger) *AuctionGateway {
	return &AuctionGateway{directory: directory, states: states, log: log}
}

func (g *AuctionGateway) LiveAuction(ctx context.Context, auctionID string, now time.Time) (*domain.Auction, error) {
	auction, err := g.directory.GetAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			return nil, domain.NewBidError(domain.CodeAuctionNotFound, "auction %s not found", auctionID)
		}
		return nil, fmt.Errorf("lookup auction %s: %w", auctionID, err)
	}

	if g.states != nil {
		status, found, err := g.states.GetAuctionStatus(ctx, auctionID)
		if err != nil {
			g.log.Warn("Auction state cache unavailable", "auction_id", auctionID, "error", err)
		} else if found && status != domain.AuctionActive {
			auction.Status = status
		}
	}

	if !auction.IsLive(now) {
		return auction, domain.NewBidError(domain.CodeAuctionNotLive, "auction %s is %s", auctionID, auction.Status)
	}
	return auction, nil
}

// MarkFinished records the closed status so later lookups fail fast.
func (g *AuctionGateway) MarkFinished(ctx context.Context, auctionID string) error {
	if g.states == nil {
		return nil
	}
	return g.states.SetAuctionStatus(ctx, auctionID, domain.AuctionEnded)
}
