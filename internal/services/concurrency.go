package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"bidding-core/internal/domain"
	"bidding-core/pkg/logger"
)

// Mutation edits a working copy of an auction book. It reports whether
// anything changed; an unchanged book is not written back.
type Mutation func(book *domain.AuctionBook) (bool, error)

// ConcurrencyController runs read-modify-write cycles against one auction book
// with optimistic version checks. No lock is held between load and commit.
type ConcurrencyController struct {
	ledger      domain.BidLedger
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	log         logger.Logger
}

func NewConcurrencyController(ledger domain.BidLedger, maxAttempts int, baseDelay, maxDelay time.Duration, log logger.Logger) *ConcurrencyController {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &ConcurrencyController{
		ledger:      ledger,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		log:         log,
	}
}

// Execute returns the committed book, or the loaded one when mutate changed
// nothing. Errors from mutate are returned as-is and nothing is written.
// Exhausting the attempt budget yields domain.ErrConcurrencyConflict.
func (c *ConcurrencyController) Execute(ctx context.Context, auctionID string, mutate Mutation) (*domain.AuctionBook, error) {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current, err := c.ledger.LoadAuction(ctx, auctionID)
		if err != nil {
			return nil, fmt.Errorf("load auction book %s: %w", auctionID, err)
		}

		working := current.Clone()
		changed, err := mutate(working)
		if err != nil {
			return nil, err
		}
		if !changed {
			return current, nil
		}

		working.Version = current.Version + 1
		change := domain.BookChange{
			Book:            working,
			ExpectedVersion: current.Version,
			NewBidIDs:       newBidIDs(current, working),
			NewAutoBidIDs:   newAutoBidIDs(current, working),
		}

		// Once evaluated, the write is not abandoned halfway by a cancelled caller.
		err = c.ledger.CommitAuction(context.WithoutCancel(ctx), change)
		if err == nil {
			return working, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("commit auction book %s: %w", auctionID, err)
		}

		c.log.Debug("Auction book version conflict", "auction_id", auctionID,
			"attempt", attempt, "expected_version", current.Version)

		if attempt < c.maxAttempts {
			if err := c.wait(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}

	c.log.Warn("Commit attempts exhausted", "auction_id", auctionID, "attempts", c.maxAttempts)
	return nil, domain.ErrConcurrencyConflict
}

// wait sleeps an exponentially growing, jittered delay.
func (c *ConcurrencyController) wait(ctx context.Context, attempt int) error {
	if c.baseDelay <= 0 {
		return nil
	}
	delay := c.baseDelay << (attempt - 1)
	if c.maxDelay > 0 && delay > c.maxDelay {
		delay = c.maxDelay
	}
	delay = delay/2 + rand.N(delay/2+1)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newBidIDs(before, after *domain.AuctionBook) []string {
	known := make(map[string]struct{}, len(before.Bids))
	for _, b := range before.Bids {
		known[b.ID] = struct{}{}
	}
	var ids []string
	for _, b := range after.Bids {
		if _, ok := known[b.ID]; !ok {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

func newAutoBidIDs(before, after *domain.AuctionBook) []string {
	known := make(map[string]struct{}, len(before.AutoBids))
	for _, ab := range before.AutoBids {
		known[ab.ID] = struct{}{}
	}
	var ids []string
	for _, ab := range after.AutoBids {
		if _, ok := known[ab.ID]; !ok {
			ids = append(ids, ab.ID)
		}
	}
	return ids
}
