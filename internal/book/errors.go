package book

import "errors"

// Sentinel errors for order-book operations. The handler layer maps these
// to HTTP status codes.
var (
	ErrInvalidPrice         = errors.New("book: price must be positive")
	ErrInvalidQuantity      = errors.New("book: quantity must be positive")
	ErrInsufficientShares   = errors.New("book: insufficient free shares")
	ErrOrderNotFound        = errors.New("book: order not found")
	ErrNotOrderOwner        = errors.New("book: caller does not own order")
	ErrNoMatchingOrders     = errors.New("book: no orders at or below max price")
	ErrArithmeticOverflow   = errors.New("book: arithmetic overflow")
	ErrTransferFailed       = errors.New("book: quote-asset transfer failed")
	ErrTooManyOrdersAtLevel = errors.New("book: price level is full")
	ErrTooManyPriceLevels   = errors.New("book: too many price levels for policy")
	ErrTooManyOrdersPerUser = errors.New("book: too many open orders for user")
)
