package core

import "github.com/nikolaydubina/fpdecimal"

// FillFunc observes one execution against a resting order. quantity is the
// traded amount; maker.Quantity() is already reduced by it.
type FillFunc func(maker *Order, quantity int64)

// PriceLevel holds the resting orders of one side at one tick, oldest first.
type PriceLevel struct {
	side     Side
	index    int
	price    fpdecimal.Decimal
	queue    OrderQueue
	totalQty int64
}

func newPriceLevel(side Side, index int, price fpdecimal.Decimal) *PriceLevel {
	return &PriceLevel{side: side, index: index, price: price}
}

// Side returns the side of the book this level belongs to
func (pl *PriceLevel) Side() Side { return pl.side }

// Index returns the tick index
func (pl *PriceLevel) Index() int { return pl.index }

// Price returns the tick price
func (pl *PriceLevel) Price() fpdecimal.Decimal { return pl.price }

// IsEmpty reports whether the level has no resting orders
func (pl *PriceLevel) IsEmpty() bool { return pl.queue.IsEmpty() }

// Len returns the number of resting orders
func (pl *PriceLevel) Len() int { return pl.queue.Len() }

// TotalQuantity returns the sum of remaining quantity at this level
func (pl *PriceLevel) TotalQuantity() int64 { return pl.totalQty }

// Head returns the order with time priority
func (pl *PriceLevel) Head() *Order { return pl.queue.Head() }

// Append queues an order behind every order already at this level
func (pl *PriceLevel) Append(order *Order) Handle {
	pl.totalQty += order.Quantity()
	return pl.queue.Append(order)
}

// Remove takes the order behind h out of the queue
func (pl *PriceLevel) Remove(h Handle) (*Order, bool) {
	order, ok := pl.queue.Remove(h)
	if ok {
		pl.totalQty -= order.Quantity()
	}
	return order, ok
}

// Orders returns the resting orders in time priority
func (pl *PriceLevel) Orders() []*Order {
	orders := make([]*Order, 0, pl.queue.Len())
	pl.queue.Each(func(_ Handle, o *Order) bool {
		orders = append(orders, o)
		return true
	})
	return orders
}

// Match consumes resting orders head first against an incoming quantity and
// returns the quantity executed. Fully filled orders are popped before onFill
// sees them; a partially filled head stays in place and stops the match.
func (pl *PriceLevel) Match(quantity int64, onFill FillFunc) int64 {
	var matched int64
	for quantity > 0 {
		head := pl.queue.Head()
		if head == nil {
			break
		}

		trade := min(quantity, head.Quantity())
		quantity -= trade
		matched += trade
		head.decreaseQuantity(trade)
		pl.totalQty -= trade

		if head.Quantity() == 0 {
			pl.queue.PopHead()
		}
		if onFill != nil {
			onFill(head, trade)
		}
	}
	return matched
}
