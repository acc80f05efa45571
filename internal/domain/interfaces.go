package domain

import (
	"context"
	"time"
)

// BookChange is one compare-and-swap write of an auction book.
type BookChange struct {
	Book            *AuctionBook
	ExpectedVersion int64
	// NewBidIDs and NewAutoBidIDs feed the id -> auction lookup indexes.
	NewBidIDs     []string
	NewAutoBidIDs []string
}

// BidLedger persists auction books. LoadAuction returns an empty book at
// version 0 for an auction nobody has bid on yet. CommitAuction must fail
// with ErrVersionConflict when the stored version is not ExpectedVersion.
type BidLedger interface {
	LoadAuction(ctx context.Context, auctionID string) (*AuctionBook, error)
	CommitAuction(ctx context.Context, change BookChange) error
	FindBidAuction(ctx context.Context, bidID string) (string, error)
	FindAutoBidAuction(ctx context.Context, autoBidID string) (string, error)
}

// AuctionDirectory is the boundary to the auction service's records.
type AuctionDirectory interface {
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)
}

type AuctionStateCache interface {
	SetAuctionStatus(ctx context.Context, auctionID string, status AuctionStatus) error
	GetAuctionStatus(ctx context.Context, auctionID string) (AuctionStatus, bool, error)
}

// IdempotencyStore keeps serialized results per key. Reserve claims a key
// for lockTTL and reports reserved=true, or returns the completed payload,
// or fails with ErrIdempotencyInFlight while another holder runs.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, lockTTL time.Duration) (payload []byte, reserved bool, err error)
	Complete(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// Event interfaces
type EventPublisher interface {
	Publish(ctx context.Context, events []Event) error
}

type EventSubscriber interface {
	SubscribeToBidEvents(ctx context.Context, handler EventHandler) error
	SubscribeToAuctionFinished(ctx context.Context, handler AuctionFinishedHandler) error
}

type EventHandler func(ctx context.Context, event *Event) error

type AuctionFinishedHandler func(ctx context.Context, event *AuctionFinishedEvent) error

type BidEventRepository interface {
	SaveBidEvent(ctx context.Context, event *Event) error
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	UserID() string
	AuctionID() string
}

type ConnectionManager interface {
	RegisterConnection(userID, auctionID string, conn WebSocketConnection) error
	UnregisterConnection(userID, auctionID string) error
	GetConnectionsForAuction(auctionID string) []WebSocketConnection
	GetConnectionsForUser(userID string) []WebSocketConnection
	BroadcastToAuction(auctionID string, message interface{}) error
	NotifyUser(userID string, message interface{}) error
	CloseAndUnregisterConnections(auctionID string) error
}

type AuctionBroadcaster interface {
	BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error
}

type UserNotifier interface {
	NotifyUser(ctx context.Context, userID string, message interface{}) error
}
