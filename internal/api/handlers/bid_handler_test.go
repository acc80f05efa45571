package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bidding-core/internal/domain"
	"bidding-core/internal/infrastructure/memory"
	"bidding-core/internal/services"
	"bidding-core/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticDirectory map[string]*domain.Auction

func (d staticDirectory) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	a, ok := d[auctionID]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	c := *a
	return &c, nil
}

type fakeHistory struct {
	events []*domain.Event
	err    error
}

func (f *fakeHistory) GetBidHistory(ctx context.Context, auctionID string) ([]*domain.Event, error) {
	return f.events, f.err
}

func newTestServer(t *testing.T, history BidHistory) *echo.Echo {
	t.Helper()
	log := logger.NewNop()
	now := time.Now()
	directory := staticDirectory{
		"a-1": {ID: "a-1", SellerID: "seller", StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour), Status: domain.AuctionActive},
		"a-2": {ID: "a-2", SellerID: "seller", StartTime: now.Add(-2 * time.Hour), EndTime: now.Add(-time.Hour), Status: domain.AuctionEnded},
	}
	svc := services.NewBidService(
		memory.NewBidLedger(),
		services.NewAuctionGateway(directory, nil, log),
		services.NewIdempotencyGuard(memory.NewIdempotencyStore(), time.Hour, log),
		nil,
		services.BidServiceSettings{MaxCommitAttempts: 5, RetractWindow: 5 * time.Minute},
		log,
	)

	e := echo.New()
	NewBidHandler(svc, history, log).Register(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestPlaceBidEndpoint(t *testing.T) {
	e := newTestServer(t, nil)

	rec, body := do(t, e, http.MethodPost, "/api/v1/auctions/a-1/bids", `{"bidder_id":"u-1","bidder_username":"alice","amount":"40"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "45", body["minimum_next_bid"])
	assert.Equal(t, true, body["is_leading"])

	rec, body = do(t, e, http.MethodPost, "/api/v1/auctions/a-1/bids", `{"bidder_id":"u-2","amount":42}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "rejected", body["status"])
	assert.Equal(t, string(domain.CodeBidTooLow), body["error_code"])

	rec, body = do(t, e, http.MethodGet, "/api/v1/auctions/a-1/state", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "40", body["highest_amount"])
	assert.Equal(t, float64(1), body["bid_count"])
}

func TestPlaceBidEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "malformed body", path: "/api/v1/auctions/a-1/bids", body: `{"amount":`, wantStatus: http.StatusBadRequest},
		{name: "missing bidder", path: "/api/v1/auctions/a-1/bids", body: `{"amount":"40"}`, wantStatus: http.StatusBadRequest},
		{name: "unknown auction", path: "/api/v1/auctions/nope/bids", body: `{"bidder_id":"u-1","amount":"40"}`,
			wantStatus: http.StatusNotFound, wantCode: string(domain.CodeAuctionNotFound)},
		{name: "ended auction", path: "/api/v1/auctions/a-2/bids", body: `{"bidder_id":"u-1","amount":"40"}`,
			wantStatus: http.StatusUnprocessableEntity, wantCode: string(domain.CodeAuctionNotLive)},
		{name: "seller", path: "/api/v1/auctions/a-1/bids", body: `{"bidder_id":"seller","amount":"40"}`,
			wantStatus: http.StatusUnprocessableEntity, wantCode: string(domain.CodeSelfBidding)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestServer(t, nil)
			rec, body := do(t, e, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["error_code"])
			}
		})
	}
}

func TestPlaceBidEndpointIdempotent(t *testing.T) {
	e := newTestServer(t, nil)
	header := map[string]string{HeaderIdempotencyKey: "k-1"}

	_, first := do(t, e, http.MethodPost, "/api/v1/auctions/a-1/bids", `{"bidder_id":"u-1","amount":"40"}`, header)
	rec, second := do(t, e, http.MethodPost, "/api/v1/auctions/a-1/bids", `{"bidder_id":"u-1","amount":"40"}`, header)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, first["bid_id"], second["bid_id"])

	_, state := do(t, e, http.MethodGet, "/api/v1/auctions/a-1/state", "", nil)
	assert.Equal(t, float64(1), state["bid_count"])
}

func TestRetractEndpoint(t *testing.T) {
	e := newTestServer(t, nil)
	_, placed := do(t, e, http.MethodPost, "/api/v1/auctions/a-1/bids", `{"bidder_id":"u-1","amount":"40"}`, nil)
	bidID := placed["bid_id"].(string)

	rec, body := do(t, e, http.MethodPost, "/api/v1/bids/"+bidID+"/retract", `{"bidder_id":"u-2"}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(domain.CodeRetractUnauthorized), body["error_code"])

	rec, _ = do(t, e, http.MethodPost, "/api/v1/bids/missing/retract", `{"bidder_id":"u-1"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = do(t, e, http.MethodPost, "/api/v1/bids/"+bidID+"/retract", `{"bidder_id":"u-1","reason":"typo"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["was_highest_bid"])
	assert.NotContains(t, body, "new_highest_bid_id")
}

func TestAutoBidEndpoints(t *testing.T) {
	e := newTestServer(t, nil)
	do(t, e, http.MethodPost, "/api/v1/auctions/a-1/bids", `{"bidder_id":"u-1","amount":"100"}`, nil)

	rec, body := do(t, e, http.MethodPost, "/api/v1/auctions/a-1/autobids", `{"user_id":"u-2","username":"bob","max_amount":"300"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["is_leading"])
	assert.Equal(t, "110", body["highest_amount"])
	autoBidID := body["auto_bid"].(map[string]interface{})["id"].(string)

	rec, body = do(t, e, http.MethodPost, "/api/v1/auctions/a-1/autobids", `{"user_id":"u-2","max_amount":"500"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(domain.CodeAutoBidAlreadyActive), body["error_code"])

	rec, body = do(t, e, http.MethodPost, "/api/v1/autobids/"+autoBidID+"/toggle", `{"user_id":"u-2","active":false}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, body["auto_bid"].(map[string]interface{})["is_active"])

	rec, _ = do(t, e, http.MethodDelete, "/api/v1/autobids/"+autoBidID, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, e, http.MethodDelete, "/api/v1/autobids/"+autoBidID+"?user_id=u-2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotNil(t, body["auto_bid"].(map[string]interface{})["cancelled_at"])

	rec, body = do(t, e, http.MethodPost, "/api/v1/autobids/"+autoBidID+"/toggle", `{"user_id":"u-2","active":true}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(domain.CodeAutoBidCancelled), body["error_code"])
}

func TestHistoryEndpoint(t *testing.T) {
	e := newTestServer(t, nil)
	rec, _ := do(t, e, http.MethodGet, "/api/v1/auctions/a-1/history", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	history := &fakeHistory{events: []*domain.Event{{
		ID: "e-1", Type: domain.EventBidAccepted, AuctionID: "a-1",
		Payload: &domain.BidAcceptedDomainEvent{BidID: "b-1", AuctionID: "a-1", Amount: decimal.NewFromInt(40)},
	}}}
	e = newTestServer(t, history)
	rec, _ = do(t, e, http.MethodGet, "/api/v1/auctions/a-1/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []domain.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "e-1", events[0].ID)

	history.err = errors.New("mysql: connection refused")
	rec, body := do(t, e, http.MethodGet, "/api/v1/auctions/a-1/history", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", body["message"])
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, nil)
	rec, body := do(t, e, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
