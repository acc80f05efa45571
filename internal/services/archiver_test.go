package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bidding-core/internal/domain"
	"bidding-core/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeElection struct {
	mu     sync.Mutex
	holder string
}

func (e *fakeElection) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.holder != "" {
		return false, nil
	}
	e.holder = instanceID
	return true, nil
}

func (e *fakeElection) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.holder == instanceID, nil
}

func (e *fakeElection) ReleaseLeadership(ctx context.Context, instanceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.holder == instanceID {
		e.holder = ""
	}
	return nil
}

func (e *fakeElection) set(holder string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.holder = holder
}

func (e *fakeElection) current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.holder
}

type memoryArchive struct {
	mu     sync.Mutex
	events map[string]*domain.Event
	err    error
}

func (m *memoryArchive) SaveBidEvent(ctx context.Context, event *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.events == nil {
		m.events = make(map[string]*domain.Event)
	}
	m.events[event.ID] = event
	return nil
}

func (m *memoryArchive) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// channelSource hands each subscriber the events pushed on feed.
type channelSource struct {
	feed        chan domain.Event
	subscribers atomic.Int32
	active      atomic.Int32
	handlerErrs chan error
}

func newChannelSource() *channelSource {
	return &channelSource{feed: make(chan domain.Event), handlerErrs: make(chan error, 16)}
}

func (s *channelSource) SubscribeToBidEvents(ctx context.Context, handler domain.EventHandler) error {
	s.subscribers.Add(1)
	s.active.Add(1)
	defer s.active.Add(-1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-s.feed:
			s.handlerErrs <- handler(ctx, &event)
		}
	}
}

func runArchiver(t *testing.T, a *BidArchiver, source BidEventSource) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, source) }()
	return cancel, done
}

func TestArchiverLeaderArchivesEvents(t *testing.T) {
	election := &fakeElection{}
	archive := &memoryArchive{}
	source := newChannelSource()
	a := NewBidArchiver(archive, election, "archiver-1", 5*time.Millisecond, logger.NewNop())

	cancel, done := runArchiver(t, a, source)
	require.Eventually(t, a.IsLeader, time.Second, time.Millisecond)

	for _, id := range []string{"e-1", "e-2", "e-1"} {
		source.feed <- domain.Event{ID: id, Type: domain.EventBidPlaced, AuctionID: "a-1"}
		require.NoError(t, <-source.handlerErrs)
	}
	assert.Equal(t, 2, archive.count())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, election.current(), "lease released on shutdown")
	assert.Zero(t, source.active.Load())
}

func TestArchiverFollowerWaitsForLease(t *testing.T) {
	election := &fakeElection{holder: "archiver-2"}
	source := newChannelSource()
	a := NewBidArchiver(&memoryArchive{}, election, "archiver-1", 5*time.Millisecond, logger.NewNop())

	cancel, done := runArchiver(t, a, source)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, a.IsLeader())
	assert.Zero(t, source.subscribers.Load())

	election.set("")
	require.Eventually(t, func() bool { return source.active.Load() == 1 }, time.Second, time.Millisecond)

	// another instance takes the lease over
	election.set("archiver-2")
	require.Eventually(t, func() bool { return source.active.Load() == 0 && !a.IsLeader() }, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, "archiver-2", election.current(), "a follower never releases someone else's lease")
}

type failingSource struct {
	calls atomic.Int32
}

func (s *failingSource) SubscribeToBidEvents(ctx context.Context, handler domain.EventHandler) error {
	s.calls.Add(1)
	return errors.New("redis: connection reset")
}

func TestArchiverResubscribesWhileHoldingLease(t *testing.T) {
	election := &fakeElection{}
	source := &failingSource{}
	a := NewBidArchiver(&memoryArchive{}, election, "archiver-1", 5*time.Millisecond, logger.NewNop())

	cancel, done := runArchiver(t, a, source)
	require.Eventually(t, func() bool { return source.calls.Load() >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, "archiver-1", election.current())

	cancel()
	<-done
}

func TestArchiverSurfacesSaveFailure(t *testing.T) {
	archive := &memoryArchive{err: errors.New("mysql: deadlock")}
	a := NewBidArchiver(archive, &fakeElection{}, "archiver-1", time.Minute, logger.NewNop())

	err := a.archive(context.Background(), &domain.Event{ID: "e-1"})
	assert.ErrorContains(t, err, "deadlock")
}
