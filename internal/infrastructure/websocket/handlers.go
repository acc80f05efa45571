package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"bidding-core/internal/domain"
	"bidding-core/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// SnapshotProvider serves the current state sent to a watcher on connect.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, auctionID string) (*domain.AuctionState, error)
}

// LiveChecker decides whether an auction can still be watched.
type LiveChecker interface {
	LiveAuction(ctx context.Context, auctionID string, now time.Time) (*domain.Auction, error)
}

type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	auctions    LiveChecker
	snapshots   SnapshotProvider
	connManager *ConnectionManager
	clock       func() time.Time
	log         logger.Logger
}

// NewWebSocketHandler accepts connections whose Origin passes allowOrigin.
// A nil allowOrigin accepts every origin.
func NewWebSocketHandler(auctions LiveChecker, snapshots SnapshotProvider,
	connManager *ConnectionManager, allowOrigin func(origin string) bool, log logger.Logger) *WebSocketHandler {
	h := &WebSocketHandler{
		auctions:    auctions,
		snapshots:   snapshots,
		connManager: connManager,
		clock:       time.Now,
		log:         log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowOrigin == nil || origin == "" || allowOrigin(origin)
		},
	}
	return h
}

// HandleConnection serves GET /ws/auctions/{auctionID}?user_id=...
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["auctionID"]
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	if _, err := h.auctions.LiveAuction(r.Context(), auctionID, h.clock()); err != nil {
		switch {
		case errors.Is(err, domain.ErrAuctionNotFound):
			http.Error(w, "auction not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrAuctionNotLive):
			h.log.Info("Rejected connection - auction is not live", "auction_id", auctionID)
			http.Error(w, "auction is not live", http.StatusForbidden)
		default:
			h.log.Error("Failed to check auction", "auction_id", auctionID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	snapshot, err := h.snapshots.Snapshot(r.Context(), auctionID)
	if err != nil {
		h.log.Error("Failed to load auction snapshot", "auction_id", auctionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewWebSocketConnection(conn, userID, auctionID)
	if err := wsConn.Send(map[string]interface{}{"type": "snapshot", "state": snapshot}); err != nil {
		h.log.Warn("Failed to send snapshot", "user_id", userID, "auction_id", auctionID, "error", err)
		_ = wsConn.Close()
		return
	}
	if err := h.connManager.RegisterConnection(userID, auctionID, wsConn); err != nil {
		h.log.Error("Failed to register connection", "error", err)
		_ = wsConn.Close()
		return
	}

	go wsConn.keepAlive()
	go h.readLoop(wsConn)
}

// readLoop only answers pings; bids go through the HTTP API.
func (h *WebSocketHandler) readLoop(conn *WebSocketConnection) {
	defer func() {
		h.connManager.unregisterIfCurrent(conn)
		_ = conn.Close()
	}()

	conn.conn.SetReadLimit(maxMessageSize)
	_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg map[string]interface{}
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("Connection read failed", "user_id", conn.UserID(), "error", err)
			}
			return
		}

		if msgType, _ := msg["type"].(string); msgType == "ping" {
			if err := conn.Send(map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

// WebSocketConnection serializes writes; gorilla allows one writer at a time.
type WebSocketConnection struct {
	conn      *websocket.Conn
	userID    string
	auctionID string
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewWebSocketConnection(conn *websocket.Conn, userID, auctionID string) *WebSocketConnection {
	return &WebSocketConnection{
		conn:      conn,
		userID:    userID,
		auctionID: auctionID,
		done:      make(chan struct{}),
	}
}

func (wsc *WebSocketConnection) Send(message interface{}) error {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()
	if err := wsc.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return wsc.conn.WriteJSON(message)
}

func (wsc *WebSocketConnection) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-wsc.done:
			return
		case <-ticker.C:
			if err := wsc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Close sends a close frame and releases the socket. Safe to call twice.
func (wsc *WebSocketConnection) Close() error {
	var err error
	wsc.closeOnce.Do(func() {
		close(wsc.done)
		_ = wsc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = wsc.conn.Close()
	})
	return err
}

func (wsc *WebSocketConnection) UserID() string {
	return wsc.userID
}

func (wsc *WebSocketConnection) AuctionID() string {
	return wsc.auctionID
}
