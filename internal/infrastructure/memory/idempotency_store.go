package memory

import (
	"context"
	"sync"
	"time"

	"bidding-core/internal/domain"
)

type idempotencyEntry struct {
	payload   []byte
	done      bool
	expiresAt time.Time
}

// IdempotencyStore is the in-process IdempotencyStore. Expired entries are
// ignored on read and removed by PurgeExpired.
type IdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*idempotencyEntry
	now     func() time.Time
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{
		entries: make(map[string]*idempotencyEntry),
		now:     time.Now,
	}
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key string, lockTTL time.Duration) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		if !e.done {
			return nil, false, domain.ErrIdempotencyInFlight
		}
		return e.payload, false, nil
	}

	s.entries[key] = &idempotencyEntry{expiresAt: now.Add(lockTTL)}
	return nil, true, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &idempotencyEntry{
		payload:   payload,
		done:      true,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && !e.done {
		delete(s.entries, key)
	}
	return nil
}

// PurgeExpired drops expired entries and returns how many were removed.
func (s *IdempotencyStore) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *IdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
