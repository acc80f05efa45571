package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeBidTooLow            ErrorCode = "BidTooLow"
	CodeInvalidAmount        ErrorCode = "InvalidAmount"
	CodeSelfBidding          ErrorCode = "SelfBidding"
	CodeAuctionNotLive       ErrorCode = "AuctionNotLive"
	CodeAuctionNotFound      ErrorCode = "AuctionNotFound"
	CodeBidNotFound          ErrorCode = "BidNotFound"
	CodeAutoBidNotFound      ErrorCode = "AutoBidNotFound"
	CodeAutoBidAlreadyActive ErrorCode = "AutoBidAlreadyActive"
	CodeAutoBidCancelled     ErrorCode = "AutoBidCancelled"
	CodeAlreadyRejected      ErrorCode = "AlreadyRejected"
	CodeRetractWindowExpired ErrorCode = "RetractWindowExpired"
	CodeRetractUnauthorized  ErrorCode = "RetractUnauthorized"
	CodeConcurrencyConflict  ErrorCode = "ConcurrencyConflict"
	CodeIdempotencyInFlight  ErrorCode = "IdempotencyInFlight"
)

type ErrorCategory int

const (
	CategoryValidation ErrorCategory = iota
	CategoryAuthorization
	CategoryConflict
)

// BidError is a business outcome with a stable code. Two BidErrors match
// under errors.Is when their codes are equal.
type BidError struct {
	Code    ErrorCode
	Message string
}

func NewBidError(code ErrorCode, format string, args ...interface{}) *BidError {
	return &BidError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *BidError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BidError) Is(target error) bool {
	var t *BidError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *BidError) Category() ErrorCategory {
	switch e.Code {
	case CodeRetractUnauthorized:
		return CategoryAuthorization
	case CodeConcurrencyConflict, CodeIdempotencyInFlight:
		return CategoryConflict
	default:
		return CategoryValidation
	}
}

// AsBidError extracts the business error from err, if any.
func AsBidError(err error) (*BidError, bool) {
	var be *BidError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

var (
	ErrBidTooLow            = &BidError{Code: CodeBidTooLow, Message: "bid is below the minimum next bid"}
	ErrInvalidAmount        = &BidError{Code: CodeInvalidAmount, Message: "amount must be positive"}
	ErrSelfBidding          = &BidError{Code: CodeSelfBidding, Message: "seller cannot bid on own auction"}
	ErrAuctionNotLive       = &BidError{Code: CodeAuctionNotLive, Message: "auction is not open for bidding"}
	ErrAuctionNotFound      = &BidError{Code: CodeAuctionNotFound, Message: "auction not found"}
	ErrBidNotFound          = &BidError{Code: CodeBidNotFound, Message: "bid not found"}
	ErrAutoBidNotFound      = &BidError{Code: CodeAutoBidNotFound, Message: "auto-bid not found"}
	ErrAutoBidAlreadyActive = &BidError{Code: CodeAutoBidAlreadyActive, Message: "an active auto-bid already exists for this auction"}
	ErrAutoBidCancelled     = &BidError{Code: CodeAutoBidCancelled, Message: "auto-bid was cancelled"}
	ErrAlreadyRejected      = &BidError{Code: CodeAlreadyRejected, Message: "bid is not in a retractable state"}
	ErrRetractWindowExpired = &BidError{Code: CodeRetractWindowExpired, Message: "retraction window has expired"}
	ErrRetractUnauthorized  = &BidError{Code: CodeRetractUnauthorized, Message: "caller does not own this bid"}
	ErrConcurrencyConflict  = &BidError{Code: CodeConcurrencyConflict, Message: "auction is busy, resubmit the bid"}
	ErrIdempotencyInFlight  = &BidError{Code: CodeIdempotencyInFlight, Message: "a request with this idempotency key is still in progress"}
)

var (
	// ErrVersionConflict is returned by ledgers when the stored version moved.
	ErrVersionConflict = errors.New("auction book version conflict")
	// ErrCascadeBoundExceeded means the auto-bid loop did not settle within its round bound.
	ErrCascadeBoundExceeded = errors.New("auto-bid cascade exceeded round bound")
)
