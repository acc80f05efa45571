package services

import (
	"github.com/shopspring/decimal"
)

type incrementBand struct {
	min       decimal.Decimal
	increment decimal.Decimal
}

// Bands are half-open: a band covers [min, next band's min).
var incrementBands = []incrementBand{
	{decimal.NewFromInt(0), decimal.NewFromInt(5)},
	{decimal.NewFromInt(100), decimal.NewFromInt(10)},
	{decimal.NewFromInt(500), decimal.NewFromInt(25)},
	{decimal.NewFromInt(1_000), decimal.NewFromInt(50)},
	{decimal.NewFromInt(5_000), decimal.NewFromInt(100)},
	{decimal.NewFromInt(10_000), decimal.NewFromInt(250)},
	{decimal.NewFromInt(25_000), decimal.NewFromInt(500)},
	{decimal.NewFromInt(50_000), decimal.NewFromInt(1_000)},
	{decimal.NewFromInt(100_000), decimal.NewFromInt(2_500)},
	{decimal.NewFromInt(250_000), decimal.NewFromInt(5_000)},
	{decimal.NewFromInt(500_000), decimal.NewFromInt(10_000)},
}

var defaultIncrement = decimal.NewFromInt(10)

// IncrementPolicy maps the current price to the minimum raise. It is stateless.
type IncrementPolicy struct{}

func NewIncrementPolicy() *IncrementPolicy {
	return &IncrementPolicy{}
}

func (p *IncrementPolicy) Increment(current decimal.Decimal) decimal.Decimal {
	for i := len(incrementBands) - 1; i >= 0; i-- {
		if current.GreaterThanOrEqual(incrementBands[i].min) {
			return incrementBands[i].increment
		}
	}
	return defaultIncrement
}

func (p *IncrementPolicy) MinimumNextBid(current decimal.Decimal) decimal.Decimal {
	return current.Add(p.Increment(current))
}

// IsValidBidAmount applies no increment to the first bid of an auction.
func (p *IncrementPolicy) IsValidBidAmount(proposed, currentHigh decimal.Decimal) bool {
	if !proposed.IsPositive() {
		return false
	}
	if currentHigh.IsZero() {
		return true
	}
	return proposed.GreaterThanOrEqual(p.MinimumNextBid(currentHigh))
}
