package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"bidding-core/internal/domain"
	"bidding-core/internal/infrastructure/memory"
	"bidding-core/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyGuard(t *testing.T) {
	ok := &domain.BidResult{BidID: "b-1", Status: domain.BidAccepted, Amount: dec("40")}

	tests := []struct {
		name      string
		result    *domain.BidResult
		err       error
		wantCalls int32
		wantErr   error
	}{
		{name: "success is cached", result: ok, wantCalls: 1},
		{name: "rejection is cached", result: &domain.BidResult{BidID: "b-2", Status: domain.BidRejected}, err: domain.ErrBidTooLow, wantCalls: 1, wantErr: domain.ErrBidTooLow},
		{name: "infrastructure error is not", err: errors.New("redis down"), wantCalls: 2},
		{name: "conflict is not", err: domain.ErrConcurrencyConflict, wantCalls: 2, wantErr: domain.ErrConcurrencyConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := NewIdempotencyGuard(memory.NewIdempotencyStore(), time.Hour, logger.NewNop())
			var calls atomic.Int32
			fn := func(ctx context.Context) (*domain.BidResult, error) {
				calls.Add(1)
				return tt.result, tt.err
			}

			for i := 0; i < 2; i++ {
				res, err := guard.Execute(context.Background(), "u-1", "k", fn)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
				if tt.result != nil {
					require.NotNil(t, res)
					assert.Equal(t, tt.result.BidID, res.BidID)
				}
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestIdempotencyGuardWithoutKey(t *testing.T) {
	guard := NewIdempotencyGuard(memory.NewIdempotencyStore(), time.Hour, logger.NewNop())
	var calls atomic.Int32
	fn := func(ctx context.Context) (*domain.BidResult, error) {
		calls.Add(1)
		return &domain.BidResult{}, nil
	}

	for i := 0; i < 3; i++ {
		_, err := guard.Execute(context.Background(), "u-1", "", fn)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestIdempotencyGuardInFlightTimeout(t *testing.T) {
	store := memory.NewIdempotencyStore()
	guard := NewIdempotencyGuard(store, time.Hour, logger.NewNop())
	guard.pollInterval = time.Millisecond
	guard.maxWait = 10 * time.Millisecond

	_, reserved, err := store.Reserve(context.Background(), idempotencyKey("u-1", "k"), time.Minute)
	require.NoError(t, err)
	require.True(t, reserved)

	_, err = guard.Execute(context.Background(), "u-1", "k", func(ctx context.Context) (*domain.BidResult, error) {
		t.Fatal("must not run while another request holds the key")
		return nil, nil
	})
	assert.ErrorIs(t, err, domain.ErrIdempotencyInFlight)
}

func TestIdempotencyGuardWaitsForInFlight(t *testing.T) {
	store := memory.NewIdempotencyStore()
	guard := NewIdempotencyGuard(store, time.Hour, logger.NewNop())
	guard.pollInterval = time.Millisecond

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan *domain.BidResult, 1)
	go func() {
		res, _ := guard.Execute(context.Background(), "u-1", "k", func(ctx context.Context) (*domain.BidResult, error) {
			close(started)
			<-release
			return &domain.BidResult{BidID: "b-1"}, nil
		})
		done <- res
	}()

	<-started
	go func() {
		time.Sleep(5 * time.Millisecond)
		close(release)
	}()

	res, err := guard.Execute(context.Background(), "u-1", "k", func(ctx context.Context) (*domain.BidResult, error) {
		return &domain.BidResult{BidID: "b-2"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "b-1", res.BidID)
	assert.Equal(t, "b-1", (<-done).BidID)
}
