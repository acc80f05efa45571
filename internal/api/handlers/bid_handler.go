package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bidding-core/internal/domain"
	"bidding-core/internal/services"
	"bidding-core/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// BidHistory reads archived events. Optional; the history route is only
// mounted when one is configured.
type BidHistory interface {
	GetBidHistory(ctx context.Context, auctionID string) ([]*domain.Event, error)
}

type BidHandler struct {
	bidService *services.BidService
	history    BidHistory
	log        logger.Logger
}

type PlaceBidRequest struct {
	BidderID       string          `json:"bidder_id"`
	BidderUsername string          `json:"bidder_username"`
	Amount         decimal.Decimal `json:"amount"`
}

type RetractBidRequest struct {
	BidderID string `json:"bidder_id"`
	Reason   string `json:"reason"`
}

type CreateAutoBidRequest struct {
	UserID    string          `json:"user_id"`
	Username  string          `json:"username"`
	MaxAmount decimal.Decimal `json:"max_amount"`
}

type ToggleAutoBidRequest struct {
	UserID string `json:"user_id"`
	Active bool   `json:"active"`
}

type AutoBidResponse struct {
	AutoBid         *domain.AutoBid `json:"auto_bid"`
	HighestBidID    string          `json:"highest_bid_id,omitempty"`
	HighestAmount   decimal.Decimal `json:"highest_amount"`
	HighestBidderID string          `json:"highest_bidder_id,omitempty"`
	IsLeading       bool            `json:"is_leading"`
}

type ErrorResponse struct {
	ErrorCode domain.ErrorCode `json:"error_code,omitempty"`
	Message   string           `json:"message"`
}

func NewBidHandler(bidService *services.BidService, history BidHistory, log logger.Logger) *BidHandler {
	return &BidHandler{
		bidService: bidService,
		history:    history,
		log:        log,
	}
}

// Register mounts the bidding routes under /api/v1 plus /health.
func (h *BidHandler) Register(e *echo.Echo) {
	api := e.Group("/api/v1")
	api.POST("/auctions/:auctionID/bids", h.PlaceBid)
	api.GET("/auctions/:auctionID/state", h.GetAuctionState)
	api.POST("/auctions/:auctionID/autobids", h.CreateAutoBid)
	api.POST("/bids/:bidID/retract", h.RetractBid)
	api.POST("/autobids/:autoBidID/toggle", h.ToggleAutoBid)
	api.DELETE("/autobids/:autoBidID", h.CancelAutoBid)
	if h.history != nil {
		api.GET("/auctions/:auctionID/history", h.GetBidHistory)
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "bidding-service",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
}

func (h *BidHandler) PlaceBid(c echo.Context) error {
	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	if req.BidderID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "bidder_id is required"})
	}

	result, err := h.bidService.PlaceBid(c.Request().Context(), services.PlaceBidRequest{
		AuctionID:      c.Param("auctionID"),
		BidderID:       req.BidderID,
		BidderUsername: req.BidderUsername,
		Amount:         req.Amount,
		IdempotencyKey: c.Request().Header.Get(HeaderIdempotencyKey),
	})
	if err != nil {
		// a rejection still carries the placement result
		if result != nil {
			return c.JSON(statusFor(err), result)
		}
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *BidHandler) RetractBid(c echo.Context) error {
	var req RetractBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	if req.BidderID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "bidder_id is required"})
	}

	result, err := h.bidService.RetractBid(c.Request().Context(), services.RetractBidRequest{
		BidID:    c.Param("bidID"),
		BidderID: req.BidderID,
		Reason:   req.Reason,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *BidHandler) CreateAutoBid(c echo.Context) error {
	var req CreateAutoBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "user_id is required"})
	}

	result, err := h.bidService.CreateAutoBid(c.Request().Context(), services.CreateAutoBidRequest{
		AuctionID: c.Param("auctionID"),
		UserID:    req.UserID,
		Username:  req.Username,
		MaxAmount: req.MaxAmount,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, autoBidResponse(result))
}

func (h *BidHandler) ToggleAutoBid(c echo.Context) error {
	var req ToggleAutoBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "user_id is required"})
	}

	result, err := h.bidService.ToggleAutoBid(c.Request().Context(), c.Param("autoBidID"), req.UserID, req.Active)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, autoBidResponse(result))
}

// CancelAutoBid takes the owner from the user_id query parameter.
func (h *BidHandler) CancelAutoBid(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "user_id is required"})
	}

	result, err := h.bidService.CancelAutoBid(c.Request().Context(), c.Param("autoBidID"), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, autoBidResponse(result))
}

func (h *BidHandler) GetAuctionState(c echo.Context) error {
	state, err := h.bidService.GetAuctionState(c.Request().Context(), c.Param("auctionID"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

func (h *BidHandler) GetBidHistory(c echo.Context) error {
	events, err := h.history.GetBidHistory(c.Request().Context(), c.Param("auctionID"))
	if err != nil {
		return h.fail(c, err)
	}
	if events == nil {
		events = []*domain.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

func (h *BidHandler) fail(c echo.Context, err error) error {
	status := statusFor(err)
	if be, ok := domain.AsBidError(err); ok {
		return c.JSON(status, ErrorResponse{ErrorCode: be.Code, Message: be.Message})
	}
	h.log.Error("Request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	return c.JSON(status, ErrorResponse{Message: "internal error"})
}

func statusFor(err error) int {
	be, ok := domain.AsBidError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
	switch be.Code {
	case domain.CodeAuctionNotFound, domain.CodeBidNotFound, domain.CodeAutoBidNotFound:
		return http.StatusNotFound
	}
	switch be.Category() {
	case domain.CategoryAuthorization:
		return http.StatusForbidden
	case domain.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func autoBidResponse(result *services.AutoBidResult) AutoBidResponse {
	return AutoBidResponse{
		AutoBid:         result.AutoBid,
		HighestBidID:    result.HighestBidID,
		HighestAmount:   result.HighestAmount,
		HighestBidderID: result.HighestBidderID,
		IsLeading:       result.IsLeading,
	}
}
