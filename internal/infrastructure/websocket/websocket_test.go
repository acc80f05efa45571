package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bidding-core/internal/domain"
	"bidding-core/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu        sync.Mutex
	userID    string
	auctionID string
	sent      []string
	closed    bool
	sendErr   error
}

func (c *fakeConn) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, string(data))
	return nil
}

func (c *fakeConn) Close() error      { c.mu.Lock(); c.closed = true; c.mu.Unlock(); return nil }
func (c *fakeConn) UserID() string    { return c.userID }
func (c *fakeConn) AuctionID() string { return c.auctionID }

func TestConnectionManagerBroadcast(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	alice := &fakeConn{userID: "alice", auctionID: "a-1"}
	bob := &fakeConn{userID: "bob", auctionID: "a-1", sendErr: errors.New("broken pipe")}
	carol := &fakeConn{userID: "carol", auctionID: "a-2"}
	for _, c := range []*fakeConn{alice, bob, carol} {
		require.NoError(t, cm.RegisterConnection(c.userID, c.auctionID, c))
	}

	require.NoError(t, cm.BroadcastToAuction("a-1", map[string]string{"type": "bid_update"}))

	assert.Equal(t, []string{`{"type":"bid_update"}`}, alice.sent)
	assert.Empty(t, carol.sent)
}

func TestConnectionManagerReplacesSameUser(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	first := &fakeConn{userID: "alice", auctionID: "a-1"}
	second := &fakeConn{userID: "alice", auctionID: "a-1"}
	require.NoError(t, cm.RegisterConnection("alice", "a-1", first))
	require.NoError(t, cm.RegisterConnection("alice", "a-1", second))

	assert.True(t, first.closed)
	assert.Len(t, cm.GetConnectionsForAuction("a-1"), 1)
	assert.Len(t, cm.GetConnectionsForUser("alice"), 1)

	// the replaced read loop exiting must not evict the new connection
	cm.unregisterIfCurrent(first)
	assert.Len(t, cm.GetConnectionsForAuction("a-1"), 1)

	cm.unregisterIfCurrent(second)
	assert.Empty(t, cm.GetConnectionsForAuction("a-1"))
	assert.Empty(t, cm.GetConnectionsForUser("alice"))
}

func TestConnectionManagerNotifyUserAcrossAuctions(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	one := &fakeConn{userID: "alice", auctionID: "a-1"}
	two := &fakeConn{userID: "alice", auctionID: "a-2"}
	require.NoError(t, cm.RegisterConnection("alice", "a-1", one))
	require.NoError(t, cm.RegisterConnection("alice", "a-2", two))

	require.NoError(t, cm.NotifyUser("alice", map[string]string{"type": "outbid"}))
	assert.Len(t, one.sent, 1)
	assert.Len(t, two.sent, 1)

	require.NoError(t, cm.CloseAndUnregisterConnections("a-1"))
	assert.True(t, one.closed)
	assert.False(t, two.closed)
	assert.Len(t, cm.GetConnectionsForUser("alice"), 1)
}

type fakeAuctions struct {
	err error
}

func (f *fakeAuctions) LiveAuction(ctx context.Context, auctionID string, now time.Time) (*domain.Auction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Auction{ID: auctionID, Status: domain.AuctionActive}, nil
}

type fakeSnapshots struct{}

func (fakeSnapshots) Snapshot(ctx context.Context, auctionID string) (*domain.AuctionState, error) {
	return &domain.AuctionState{
		AuctionID:      auctionID,
		HighestAmount:  decimal.NewFromInt(40),
		MinimumNextBid: decimal.NewFromInt(45),
		BidCount:       1,
		Version:        3,
	}, nil
}

func newFeedServer(t *testing.T, auctions LiveChecker) (*httptest.Server, *ConnectionManager) {
	t.Helper()
	cm := NewConnectionManager(logger.NewNop())
	handler := NewWebSocketHandler(auctions, fakeSnapshots{}, cm, func(origin string) bool {
		return origin == "https://bids.example.com"
	}, logger.NewNop())

	router := mux.NewRouter()
	router.HandleFunc("/ws/auctions/{auctionID}", handler.HandleConnection)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, cm
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func TestHandleConnectionRefusals(t *testing.T) {
	tests := []struct {
		name       string
		auctions   *fakeAuctions
		path       string
		origin     string
		wantStatus int
	}{
		{name: "missing user", auctions: &fakeAuctions{}, path: "/ws/auctions/a-1", wantStatus: http.StatusBadRequest},
		{name: "unknown auction", auctions: &fakeAuctions{err: domain.NewBidError(domain.CodeAuctionNotFound, "auction a-1 not found")},
			path: "/ws/auctions/a-1?user_id=u-1", wantStatus: http.StatusNotFound},
		{name: "finished auction", auctions: &fakeAuctions{err: domain.NewBidError(domain.CodeAuctionNotLive, "auction a-1 is ended")},
			path: "/ws/auctions/a-1?user_id=u-1", wantStatus: http.StatusForbidden},
		{name: "directory down", auctions: &fakeAuctions{err: errors.New("connection refused")},
			path: "/ws/auctions/a-1?user_id=u-1", wantStatus: http.StatusInternalServerError},
		{name: "foreign origin", auctions: &fakeAuctions{}, path: "/ws/auctions/a-1?user_id=u-1",
			origin: "https://evil.example.com", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newFeedServer(t, tt.auctions)
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}

			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server, tt.path), header)
			require.Error(t, err)
			if conn != nil {
				conn.Close()
			}
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestHandleConnectionFeed(t *testing.T) {
	server, cm := newFeedServer(t, &fakeAuctions{})
	header := http.Header{"Origin": []string{"https://bids.example.com"}}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/ws/auctions/a-1?user_id=u-1"), header)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snapshot struct {
		Type  string              `json:"type"`
		State domain.AuctionState `json:"state"`
	}
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)
	assert.True(t, decimal.NewFromInt(45).Equal(snapshot.State.MinimumNextBid))
	assert.Equal(t, int64(3), snapshot.State.Version)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var pong map[string]string
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])

	require.Eventually(t, func() bool {
		return len(cm.GetConnectionsForAuction("a-1")) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, cm.BroadcastToAuction("a-1", map[string]interface{}{"type": "bid_update", "highest_amount": "50"}))
	var update map[string]interface{}
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "bid_update", update["type"])
	assert.Equal(t, "50", update["highest_amount"])

	require.NoError(t, cm.CloseAndUnregisterConnections("a-1"))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
