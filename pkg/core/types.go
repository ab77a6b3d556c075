package core

import (
	"encoding/json"

	"github.com/erain9/tickbook/pkg/messaging"
	"github.com/nikolaydubina/fpdecimal"
)

// Trade is one execution between the incoming order and a resting order
type Trade struct {
	MakerOrderID string
	MakerSide    Side
	Price        fpdecimal.Decimal
	Index        int
	Quantity     int64
	// MakerLeft is what remains of the resting order after this trade
	MakerLeft int64
}

// MarshalJSON implements Marshaler interface
func (t Trade) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MakerOrderID string `json:"makerOrderID"`
		MakerSide    string `json:"makerSide"`
		Price        string `json:"price"`
		Index        int    `json:"index"`
		Quantity     int64  `json:"quantity"`
		MakerLeft    int64  `json:"makerLeft"`
	}{
		MakerOrderID: t.MakerOrderID,
		MakerSide:    t.MakerSide.String(),
		Price:        t.Price.String(),
		Index:        t.Index,
		Quantity:     t.Quantity,
		MakerLeft:    t.MakerLeft,
	})
}

// Done contains information about the order execution result
type Done struct {
	// Side and Price as submitted
	Side  Side
	Price fpdecimal.Decimal
	// Index is the tick the price maps to
	Index int
	// Quantity submitted
	Quantity int64
	// Trades executed against resting orders, in execution order
	Trades []Trade
	// Processed is the total executed quantity
	Processed int64
	// Left is the quantity that did not execute
	Left int64
	// Stored is true when Left rests in the book as Order
	Stored bool
	// OrderID of the resting remainder; empty when nothing rests
	OrderID string
	// Order is the resting remainder, nil when nothing rests
	Order *Order
}

func newDone(side Side, price fpdecimal.Decimal, index int, quantity int64) *Done {
	return &Done{
		Side:     side,
		Price:    price,
		Index:    index,
		Quantity: quantity,
		Trades:   make([]Trade, 0),
		Left:     quantity,
	}
}

func (d *Done) appendTrade(maker *Order, quantity int64) {
	d.Trades = append(d.Trades, Trade{
		MakerOrderID: maker.ID(),
		MakerSide:    maker.Side(),
		Price:        maker.Price(),
		Index:        maker.Index(),
		Quantity:     quantity,
		MakerLeft:    maker.Quantity(),
	})
	d.Processed += quantity
	d.Left -= quantity
}

func (d *Done) setStored(order *Order) {
	d.Stored = true
	d.Order = order
	d.OrderID = order.ID()
}

// UnmatchedOrderID returns the resting order id only when the order rested
// without any execution. A partially filled remainder is reported through
// OrderID, not here.
func (d *Done) UnmatchedOrderID() (string, bool) {
	if d.Stored && d.Processed == 0 {
		return d.OrderID, true
	}
	return "", false
}

// FullyFilled reports whether the whole submitted quantity executed
func (d *Done) FullyFilled() bool {
	return d.Left == 0
}

// MarshalJSON implements json.Marshaler interface for Done
func (d *Done) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OrderID   string  `json:"orderID,omitempty"`
		Side      string  `json:"side"`
		Price     string  `json:"price"`
		Index     int     `json:"index"`
		Quantity  int64   `json:"quantity"`
		Trades    []Trade `json:"trades"`
		Processed int64   `json:"processed"`
		Left      int64   `json:"left"`
		Stored    bool    `json:"stored"`
	}{
		OrderID:   d.OrderID,
		Side:      d.Side.String(),
		Price:     d.Price.String(),
		Index:     d.Index,
		Quantity:  d.Quantity,
		Trades:    d.Trades,
		Processed: d.Processed,
		Left:      d.Left,
		Stored:    d.Stored,
	})
}

// ToMessagingDoneMessage converts the Done object to a messaging.DoneMessage.
func (d *Done) ToMessagingDoneMessage() *messaging.DoneMessage {
	if d == nil {
		return nil
	}
	return &messaging.DoneMessage{
		Event:        messaging.EventPlaced,
		OrderID:      d.OrderID,
		Side:         d.Side.String(),
		Price:        d.Price.String(),
		Quantity:     d.Quantity,
		ExecutedQty:  d.Processed,
		RemainingQty: d.Left,
		Stored:       d.Stored,
		Trades:       convertTrades(d.Trades),
	}
}

// CanceledMessage describes a successful cancellation
func CanceledMessage(order *Order) *messaging.DoneMessage {
	return &messaging.DoneMessage{
		Event:        messaging.EventCanceled,
		OrderID:      order.ID(),
		Side:         order.Side().String(),
		Price:        order.Price().String(),
		Quantity:     order.OriginalQty(),
		ExecutedQty:  order.Filled(),
		RemainingQty: order.Quantity(),
	}
}

func convertTrades(trades []Trade) []messaging.Trade {
	if len(trades) == 0 {
		return nil
	}
	out := make([]messaging.Trade, 0, len(trades))
	for _, t := range trades {
		out = append(out, messaging.Trade{
			MakerOrderID: t.MakerOrderID,
			Price:        t.Price.String(),
			Quantity:     t.Quantity,
			MakerLeft:    t.MakerLeft,
		})
	}
	return out
}

// Quote is the top of book (L1)
type Quote struct {
	BidIndex int
	BidPrice fpdecimal.Decimal
	BidSize  int64
	AskIndex int
	AskPrice fpdecimal.Decimal
	AskSize  int64
}

// HasBid reports whether there is a bid
func (q Quote) HasBid() bool { return q.BidIndex != NoIndex }

// HasAsk reports whether there is an ask
func (q Quote) HasAsk() bool { return q.AskIndex != NoIndex }

// MarshalJSON renders absent sides as null prices
func (q Quote) MarshalJSON() ([]byte, error) {
	var bid, ask *string
	if q.HasBid() {
		s := q.BidPrice.String()
		bid = &s
	}
	if q.HasAsk() {
		s := q.AskPrice.String()
		ask = &s
	}
	return json.Marshal(struct {
		BidIndex int     `json:"bidIndex"`
		BidPrice *string `json:"bidPrice"`
		BidSize  int64   `json:"bidSize"`
		AskIndex int     `json:"askIndex"`
		AskPrice *string `json:"askPrice"`
		AskSize  int64   `json:"askSize"`
	}{q.BidIndex, bid, q.BidSize, q.AskIndex, ask, q.AskSize})
}

// LevelDepth aggregates one non-empty price level (L2)
type LevelDepth struct {
	Index    int
	Price    fpdecimal.Decimal
	Quantity int64
	Orders   int
}

// MarshalJSON implements json.Marshaler interface for LevelDepth
func (l LevelDepth) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Index    int    `json:"index"`
		Price    string `json:"price"`
		Quantity int64  `json:"quantity"`
		Orders   int    `json:"orders"`
	}{l.Index, l.Price.String(), l.Quantity, l.Orders})
}
