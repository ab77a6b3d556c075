package core

import (
	"encoding/json"
	"fmt"

	"github.com/nikolaydubina/fpdecimal"
)

// Side represents buy or sell side of the order
type Side int

// Order sides
const (
	Sell Side = iota
	Buy
)

// String returns side as string
func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the side an order of this side matches against
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Valid reports whether s is Buy or Sell
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// ParseSide converts "buy"/"BUY"/"sell"/"SELL" into a Side
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "BUY", "Buy":
		return Buy, nil
	case "sell", "SELL", "Sell":
		return Sell, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// Order is a resting limit order. Everything except the remaining quantity
// is fixed at creation; the quantity only shrinks as the order is matched.
type Order struct {
	id          string
	side        Side
	price       fpdecimal.Decimal
	index       int
	quantity    int64
	originalQty int64
}

func newOrder(id string, side Side, price fpdecimal.Decimal, index int, quantity int64) *Order {
	return &Order{
		id:          id,
		side:        side,
		price:       price,
		index:       index,
		quantity:    quantity,
		originalQty: quantity,
	}
}

// ID returns the order identifier
func (o *Order) ID() string { return o.id }

// Side returns the side of the order
func (o *Order) Side() Side { return o.side }

// Price returns the price the order was submitted with
func (o *Order) Price() fpdecimal.Decimal { return o.price }

// Index returns the tick index of the level holding the order
func (o *Order) Index() int { return o.index }

// Quantity returns the remaining quantity
func (o *Order) Quantity() int64 { return o.quantity }

// OriginalQty returns the quantity the order rested with
func (o *Order) OriginalQty() int64 { return o.originalQty }

// Filled returns the quantity executed since the order started resting
func (o *Order) Filled() int64 { return o.originalQty - o.quantity }

func (o *Order) decreaseQuantity(q int64) {
	o.quantity -= q
}

// String implements fmt.Stringer
func (o *Order) String() string {
	return fmt.Sprintf("%s %s %d@%s", o.id, o.side, o.quantity, o.price)
}

// MarshalJSON implements custom JSON marshaling for Order
func (o *Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID          string `json:"id"`
		Side        string `json:"side"`
		Price       string `json:"price"`
		Index       int    `json:"index"`
		Quantity    int64  `json:"quantity"`
		OriginalQty int64  `json:"originalQty"`
	}{
		ID:          o.id,
		Side:        o.side.String(),
		Price:       o.price.String(),
		Index:       o.index,
		Quantity:    o.quantity,
		OriginalQty: o.originalQty,
	})
}
