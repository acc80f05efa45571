package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bidding-core/internal/domain"
	"bidding-core/pkg/logger"
)

const (
	defaultIdempotencyLockTTL = 30 * time.Second
	defaultIdempotencyPoll    = 20 * time.Millisecond
	defaultIdempotencyWait    = 5 * time.Second
)

type storedBidResult struct {
	Result    *domain.BidResult `json:"result,omitempty"`
	ErrorCode domain.ErrorCode  `json:"error_code,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// IdempotencyGuard makes PlaceBid safe to retry: a (bidder, key) pair runs
// at most once inside the TTL and every repeat gets the stored outcome,
// business rejections included. A duplicate arriving while the first call is
// still running waits for it.
type IdempotencyGuard struct {
	store        domain.IdempotencyStore
	ttl          time.Duration
	lockTTL      time.Duration
	pollInterval time.Duration
	maxWait      time.Duration
	log          logger.Logger
}

func NewIdempotencyGuard(store domain.IdempotencyStore, ttl time.Duration, log logger.Logger) *IdempotencyGuard {
	return &IdempotencyGuard{
		store:        store,
		ttl:          ttl,
		lockTTL:      defaultIdempotencyLockTTL,
		pollInterval: defaultIdempotencyPoll,
		maxWait:      defaultIdempotencyWait,
		log:          log,
	}
}

func idempotencyKey(bidderID, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", bidderID, key)
}

func (g *IdempotencyGuard) Execute(ctx context.Context, bidderID, key string,
	fn func(ctx context.Context) (*domain.BidResult, error)) (*domain.BidResult, error) {
	if key == "" {
		return fn(ctx)
	}

	storeKey := idempotencyKey(bidderID, key)
	deadline := time.Now().Add(g.maxWait)

	for {
		payload, reserved, err := g.store.Reserve(ctx, storeKey, g.lockTTL)
		switch {
		case err == nil && reserved:
			return g.run(ctx, storeKey, fn)
		case err == nil:
			g.log.Debug("Replaying idempotent bid", "bidder_id", bidderID, "idempotency_key", key)
			return g.replay(payload)
		case errors.Is(err, domain.ErrIdempotencyInFlight):
			if time.Now().After(deadline) {
				return nil, err
			}
			if err := sleepCtx(ctx, g.pollInterval); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("reserve idempotency key: %w", err)
		}
	}
}

func (g *IdempotencyGuard) run(ctx context.Context, storeKey string,
	fn func(ctx context.Context) (*domain.BidResult, error)) (*domain.BidResult, error) {
	result, err := fn(ctx)

	be, business := domain.AsBidError(err)
	if err != nil && (!business || be.Category() == domain.CategoryConflict) {
		// Nothing was decided; let the client retry with the same key.
		if relErr := g.store.Release(context.WithoutCancel(ctx), storeKey); relErr != nil {
			g.log.Error("Failed to release idempotency key", "key", storeKey, "error", relErr)
		}
		return result, err
	}

	stored := storedBidResult{Result: result}
	if business {
		stored.ErrorCode = be.Code
		stored.Message = be.Message
	}
	payload, mErr := json.Marshal(stored)
	if mErr != nil {
		g.log.Error("Failed to encode bid result", "key", storeKey, "error", mErr)
		return result, err
	}
	if cErr := g.store.Complete(context.WithoutCancel(ctx), storeKey, payload, g.ttl); cErr != nil {
		g.log.Error("Failed to store bid result", "key", storeKey, "error", cErr)
	}
	return result, err
}

func (g *IdempotencyGuard) replay(payload []byte) (*domain.BidResult, error) {
	var stored storedBidResult
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("decode stored bid result: %w", err)
	}
	if stored.ErrorCode != "" {
		return stored.Result, &domain.BidError{Code: stored.ErrorCode, Message: stored.Message}
	}
	return stored.Result, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
