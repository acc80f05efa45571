package memory

import (
	"context"
	"sync"

	"bidding-core/internal/domain"
)

// BidLedger keeps auction books in process. Used for single-instance runs and tests.
type BidLedger struct {
	mu       sync.RWMutex
	books    map[string]*domain.AuctionBook
	bidIndex map[string]string
	autoIdx  map[string]string
}

func NewBidLedger() *BidLedger {
	return &BidLedger{
		books:    make(map[string]*domain.AuctionBook),
		bidIndex: make(map[string]string),
		autoIdx:  make(map[string]string),
	}
}

func (l *BidLedger) LoadAuction(ctx context.Context, auctionID string) (*domain.AuctionBook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	book, ok := l.books[auctionID]
	if !ok {
		return domain.NewAuctionBook(auctionID), nil
	}
	return book.Clone(), nil
}

func (l *BidLedger) CommitAuction(ctx context.Context, change domain.BookChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var stored int64
	if book, ok := l.books[change.Book.AuctionID]; ok {
		stored = book.Version
	}
	if stored != change.ExpectedVersion {
		return domain.ErrVersionConflict
	}

	l.books[change.Book.AuctionID] = change.Book.Clone()
	for _, id := range change.NewBidIDs {
		l.bidIndex[id] = change.Book.AuctionID
	}
	for _, id := range change.NewAutoBidIDs {
		l.autoIdx[id] = change.Book.AuctionID
	}
	return nil
}

func (l *BidLedger) FindBidAuction(ctx context.Context, bidID string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	auctionID, ok := l.bidIndex[bidID]
	if !ok {
		return "", domain.ErrBidNotFound
	}
	return auctionID, nil
}

func (l *BidLedger) FindAutoBidAuction(ctx context.Context, autoBidID string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	auctionID, ok := l.autoIdx[autoBidID]
	if !ok {
		return "", domain.ErrAutoBidNotFound
	}
	return auctionID, nil
}
