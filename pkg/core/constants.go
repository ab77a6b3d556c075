package core

import "errors"

// Errors
var (
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrPriceOutOfRange    = errors.New("price out of range")
	ErrInvalidGrid        = errors.New("invalid price grid")
	ErrInvalidSide        = errors.New("invalid side")
	ErrNonexistentOrder   = errors.New("nonexistent order")
	ErrInvariantViolation = errors.New("order book invariant violated")
)

// NoIndex marks an absent best price on one side of the book.
const NoIndex = -1
