package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestIncrementBands(t *testing.T) {
	policy := NewIncrementPolicy()

	tests := []struct {
		current   string
		increment int64
	}{
		{"0", 5},
		{"99", 5},
		{"99.99", 5},
		{"100", 10},
		{"499", 10},
		{"500", 25},
		{"999", 25},
		{"1000", 50},
		{"4999", 50},
		{"5000", 100},
		{"9999", 100},
		{"10000", 250},
		{"24999", 250},
		{"25000", 500},
		{"49999", 500},
		{"50000", 1000},
		{"99999", 1000},
		{"100000", 2500},
		{"249999", 2500},
		{"250000", 5000},
		{"499999", 5000},
		{"500000", 10000},
		{"12000000", 10000},
		{"-1", 10},
	}

	for _, tt := range tests {
		t.Run(tt.current, func(t *testing.T) {
			current := decimal.RequireFromString(tt.current)
			got := policy.Increment(current)
			assert.True(t, got.Equal(decimal.NewFromInt(tt.increment)), "increment for %s = %s", tt.current, got)

			next := policy.MinimumNextBid(current)
			assert.True(t, next.GreaterThan(current))
			assert.True(t, next.Equal(current.Add(decimal.NewFromInt(tt.increment))))
		})
	}
}

func TestIsValidBidAmount(t *testing.T) {
	policy := NewIncrementPolicy()

	tests := []struct {
		name     string
		proposed string
		current  string
		want     bool
	}{
		{name: "first bid any positive", proposed: "40", current: "0", want: true},
		{name: "first bid fractional", proposed: "0.01", current: "0", want: true},
		{name: "zero amount", proposed: "0", current: "0", want: false},
		{name: "negative amount", proposed: "-5", current: "0", want: false},
		{name: "below minimum", proposed: "42", current: "40", want: false},
		{name: "exactly minimum", proposed: "45", current: "40", want: true},
		{name: "band change", proposed: "103", current: "99", want: false},
		{name: "band change minimum", proposed: "104", current: "99", want: true},
		{name: "hundred band", proposed: "160", current: "150", want: true},
		{name: "hundred band short", proposed: "159.99", current: "150", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.IsValidBidAmount(decimal.RequireFromString(tt.proposed), decimal.RequireFromString(tt.current))
			assert.Equal(t, tt.want, got)
		})
	}
}
