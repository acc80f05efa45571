package utils

import "github.com/google/uuid"

// NewID returns a random UUID string for bids, auto-bids and events.
func NewID() string {
	return uuid.NewString()
}
