package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"bidding-core/internal/domain"
	"bidding-core/pkg/logger"
)

// BidEventSource delivers bid events until ctx is done.
type BidEventSource interface {
	SubscribeToBidEvents(ctx context.Context, handler domain.EventHandler) error
}

// BidArchiver copies every bid event into the archive. Only the elected
// leader consumes, so a pub/sub source is not archived twice.
type BidArchiver struct {
	repo       domain.BidEventRepository
	election   domain.LeaderElection
	instanceID string
	interval   time.Duration
	isLeader   atomic.Bool
	log        logger.Logger

	stopConsuming context.CancelFunc
	consuming     chan struct{}
}

func NewBidArchiver(repo domain.BidEventRepository, election domain.LeaderElection,
	instanceID string, campaignInterval time.Duration, log logger.Logger) *BidArchiver {
	return &BidArchiver{
		repo:       repo,
		election:   election,
		instanceID: instanceID,
		interval:   campaignInterval,
		log:        log,
	}
}

func (a *BidArchiver) IsLeader() bool {
	return a.isLeader.Load()
}

// Run campaigns for leadership every interval and consumes source while it
// holds it. On shutdown it stops consuming and gives the lease back.
func (a *BidArchiver) Run(ctx context.Context, source BidEventSource) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		a.campaign(ctx, source)

		select {
		case <-ctx.Done():
			a.resign()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *BidArchiver) campaign(ctx context.Context, source BidEventSource) {
	if a.consuming != nil {
		select {
		case <-a.consuming:
			// the subscription ended on its own; the lease may still be ours
			a.stop()
		default:
			still, err := a.election.IsLeader(ctx, a.instanceID)
			if err != nil {
				a.log.Warn("Failed to check leadership", "instance_id", a.instanceID, "error", err)
				return
			}
			if !still {
				a.log.Warn("Lost archiver leadership", "instance_id", a.instanceID)
				a.stop()
			}
			return
		}
	}

	held, err := a.election.IsLeader(ctx, a.instanceID)
	if err != nil {
		a.log.Error("Failed to check leadership", "instance_id", a.instanceID, "error", err)
		return
	}
	if !held {
		held, err = a.election.BecomeLeader(ctx, a.instanceID)
		if err != nil {
			a.log.Error("Failed to attempt leadership", "instance_id", a.instanceID, "error", err)
			return
		}
		if held {
			a.log.Info("Became archiver leader", "instance_id", a.instanceID)
		}
	}
	if held {
		a.start(ctx, source)
	}
}

func (a *BidArchiver) start(ctx context.Context, source BidEventSource) {
	consumeCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.stopConsuming, a.consuming = cancel, done
	a.isLeader.Store(true)

	go func() {
		defer close(done)
		err := source.SubscribeToBidEvents(consumeCtx, a.archive)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("Bid event subscription ended", "error", err)
		}
	}()
}

func (a *BidArchiver) stop() {
	if a.stopConsuming == nil {
		return
	}
	a.stopConsuming()
	<-a.consuming
	a.stopConsuming, a.consuming = nil, nil
	a.isLeader.Store(false)
}

func (a *BidArchiver) resign() {
	wasLeader := a.stopConsuming != nil
	a.stop()
	if !wasLeader {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.election.ReleaseLeadership(ctx, a.instanceID); err != nil {
		a.log.Error("Failed to release leadership", "instance_id", a.instanceID, "error", err)
	}
}

func (a *BidArchiver) archive(ctx context.Context, event *domain.Event) error {
	if err := a.repo.SaveBidEvent(ctx, event); err != nil {
		a.log.Error("Failed to archive bid event", "event_id", event.ID, "auction_id", event.AuctionID, "error", err)
		return err
	}
	a.log.Debug("Archived bid event", "event_id", event.ID, "type", string(event.Type))
	return nil
}
