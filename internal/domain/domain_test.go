package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuctionIsLive(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		auction Auction
		want    bool
	}{
		{
			name:    "active inside window",
			auction: Auction{Status: AuctionActive, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)},
			want:    true,
		},
		{
			name:    "active but ended",
			auction: Auction{Status: AuctionActive, StartTime: now.Add(-2 * time.Hour), EndTime: now},
			want:    false,
		},
		{
			name:    "not started",
			auction: Auction{Status: AuctionActive, StartTime: now.Add(time.Minute), EndTime: now.Add(time.Hour)},
			want:    false,
		},
		{
			name:    "pending status",
			auction: Auction{Status: AuctionPending, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.auction.IsLive(now))
		})
	}
}

func TestAuctionBookCloneIsDeep(t *testing.T) {
	last := time.Now()
	book := NewAuctionBook("a-1")
	book.Bids = append(book.Bids, &Bid{ID: "b-1", Amount: decimal.NewFromInt(10), Status: BidAccepted})
	book.AutoBids = append(book.AutoBids, &AutoBid{ID: "ab-1", IsActive: true, LastBidAt: &last})

	clone := book.Clone()
	clone.Bids[0].Status = BidOutbid
	clone.AutoBids[0].IsActive = false
	*clone.AutoBids[0].LastBidAt = last.Add(time.Hour)
	clone.Bids = append(clone.Bids, &Bid{ID: "b-2"})

	assert.Equal(t, BidAccepted, book.Bids[0].Status)
	assert.True(t, book.AutoBids[0].IsActive)
	assert.True(t, book.AutoBids[0].LastBidAt.Equal(last))
	assert.Len(t, book.Bids, 1)
}

func TestBestStandingBid(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	book := NewAuctionBook("a-1")
	book.Bids = []*Bid{
		{ID: "early", Amount: decimal.NewFromInt(100), BidTime: t0, Status: BidOutbid},
		{ID: "late", Amount: decimal.NewFromInt(100), BidTime: t0.Add(time.Second), Status: BidOutbid},
		{ID: "retracted", Amount: decimal.NewFromInt(500), BidTime: t0, Status: BidRetracted},
		{ID: "low", Amount: decimal.NewFromInt(50), BidTime: t0, Status: BidOutbid},
	}

	best := book.BestStandingBid()
	require.NotNil(t, best)
	assert.Equal(t, "early", best.ID)

	empty := NewAuctionBook("a-2")
	assert.Nil(t, empty.BestStandingBid())
}

func TestBidErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("place bid: %w", NewBidError(CodeBidTooLow, "minimum is %s", "45"))

	assert.True(t, errors.Is(err, ErrBidTooLow))
	assert.False(t, errors.Is(err, ErrSelfBidding))

	be, ok := AsBidError(err)
	require.True(t, ok)
	assert.Equal(t, "minimum is 45", be.Message)
	assert.Equal(t, CategoryValidation, be.Category())
	assert.Equal(t, CategoryAuthorization, ErrRetractUnauthorized.Category())
	assert.Equal(t, CategoryConflict, ErrConcurrencyConflict.Category())

	_, ok = AsBidError(ErrVersionConflict)
	assert.False(t, ok)
}

func TestEventRoundTripKeepsPayloadType(t *testing.T) {
	prev := decimal.NewFromInt(150)
	ev := Event{
		ID:         "e-1",
		Type:       EventHighestBidUpdated,
		AuctionID:  "a-1",
		OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload: &HighestBidUpdatedDomainEvent{
			AuctionID:             "a-1",
			BidID:                 "b-2",
			BidderID:              "u-2",
			NewHighestAmount:      decimal.NewFromInt(160),
			PreviousHighestAmount: &prev,
			PreviousBidderID:      "u-1",
			IsAutoBid:             true,
		},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "e-1", decoded.ID)

	payload, ok := decoded.Payload.(*HighestBidUpdatedDomainEvent)
	require.True(t, ok)
	assert.True(t, payload.NewHighestAmount.Equal(decimal.NewFromInt(160)))
	assert.True(t, payload.PreviousHighestAmount.Equal(prev))
	assert.True(t, payload.IsAutoBid)
}

func TestEventUnmarshalRejectsUnknownType(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"event_id":"e","type":"Nope","payload":{}}`), &ev)
	assert.Error(t, err)
}
