package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/erain9/tickbook/pkg/logging"
	"github.com/erain9/tickbook/pkg/otel"
	"github.com/google/uuid"
	"github.com/nikolaydubina/fpdecimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type registryEntry struct {
	order  *Order
	index  int
	handle Handle
}

type volumeKey struct {
	side  Side
	index int
}

// OrderBook implements price-time priority matching over a fixed price grid.
//
// OrderBook is not safe for concurrent use. Every exported method runs to
// completion and leaves the book uncrossed; callers sharing a book must
// serialize access, see pkg/server.
type OrderBook struct {
	grid     PriceGrid
	bids     []PriceLevel
	asks     []PriceLevel
	bestBid  int
	bestAsk  int
	volumes  map[volumeKey]int64
	registry map[string]registryEntry
	newID    func() string
}

// Option configures an OrderBook
type Option func(*OrderBook)

// WithIDGenerator replaces the random UUID order ids
func WithIDGenerator(fn func() string) Option {
	return func(ob *OrderBook) {
		ob.newID = fn
	}
}

// NewOrderBook creates an empty book over grid. A zero PriceGrid yields a
// book that rejects every price with ErrInvalidGrid.
func NewOrderBook(grid PriceGrid, opts ...Option) *OrderBook {
	ob := &OrderBook{
		grid:     grid,
		bids:     make([]PriceLevel, grid.Size()),
		asks:     make([]PriceLevel, grid.Size()),
		bestBid:  NoIndex,
		bestAsk:  NoIndex,
		volumes:  make(map[volumeKey]int64),
		registry: make(map[string]registryEntry),
		newID:    uuid.NewString,
	}
	for i := 0; i < grid.Size(); i++ {
		price := grid.Price(i)
		ob.bids[i] = *newPriceLevel(Buy, i, price)
		ob.asks[i] = *newPriceLevel(Sell, i, price)
	}
	for _, opt := range opts {
		opt(ob)
	}
	return ob
}

// Grid returns the price grid of the book
func (ob *OrderBook) Grid() PriceGrid { return ob.grid }

// Len returns the number of resting orders
func (ob *OrderBook) Len() int { return len(ob.registry) }

// GetOrder returns a resting Order by id, or nil
func (ob *OrderBook) GetOrder(orderID string) *Order {
	if e, ok := ob.registry[orderID]; ok {
		return e.order
	}
	return nil
}

// PlaceOrder matches a limit order against the opposite side while prices
// cross and rests any remainder at its tick.
//
// A price outside the grid fails with ErrPriceOutOfRange and a non-positive
// quantity with ErrInvalidQuantity; neither touches the book.
func (ob *OrderBook) PlaceOrder(ctx context.Context, price fpdecimal.Decimal, quantity int64, side Side) (*Done, error) {
	ctx, span := otel.StartOrderSpan(ctx, otel.SpanPlaceOrder,
		attribute.String(otel.AttributeOrderSide, side.String()),
		attribute.String(otel.AttributeOrderPrice, price.String()),
		attribute.Int64(otel.AttributeOrderQuantity, quantity),
	)
	defer span.End()

	if !side.Valid() {
		span.SetStatus(codes.Error, "invalid side")
		return nil, fmt.Errorf("%w: %d", ErrInvalidSide, side)
	}
	if quantity <= 0 {
		span.SetStatus(codes.Error, "invalid quantity")
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	index, err := ob.grid.Index(price)
	if err != nil {
		span.SetStatus(codes.Error, "price out of range")
		return nil, err
	}

	logger := logging.FromContext(ctx)
	done := newDone(side, price, index, quantity)

	// the ledger takes the whole submission now; executions take it back below
	ob.addVolume(side, index, quantity)

	remaining := ob.match(ctx, done, side, index, quantity)

	if remaining > 0 {
		order := newOrder(ob.newID(), side, price, index, remaining)
		level := ob.level(side, index)
		h := level.Append(order)
		ob.registry[order.ID()] = registryEntry{order: order, index: index, handle: h}

		if side == Buy {
			if ob.bestBid == NoIndex || index > ob.bestBid {
				ob.bestBid = index
			}
		} else {
			if ob.bestAsk == NoIndex || index < ob.bestAsk {
				ob.bestAsk = index
			}
		}
		done.setStored(order)
	} else {
		logger.Debug().
			Str("side", side.String()).
			Str("price", price.String()).
			Int64("quantity", quantity).
			Msg("Order fully executed")
	}

	otel.AddAttributes(span,
		attribute.String(otel.AttributeOrderID, done.OrderID),
		attribute.Int(otel.AttributeOrderIndex, index),
		attribute.Int64(otel.AttributeExecutedQuantity, done.Processed),
		attribute.Int64(otel.AttributeRemainingQuantity, done.Left),
		attribute.Int(otel.AttributeTradeCount, len(done.Trades)),
	)
	span.SetStatus(codes.Ok, "order placed")
	return done, nil
}

// match walks the opposite side from its best level while it crosses index
// and returns the unexecuted quantity
func (ob *OrderBook) match(ctx context.Context, done *Done, side Side, index int, quantity int64) int64 {
	ctx, span := otel.StartOrderSpan(ctx, otel.SpanMatchOrder,
		attribute.String(otel.AttributeOrderSide, side.String()),
		attribute.Int(otel.AttributeOrderIndex, index),
	)
	defer span.End()

	logger := logging.FromContext(ctx)
	onFill := func(maker *Order, traded int64) {
		done.appendTrade(maker, traded)
		ob.addVolume(side, index, -traded)
		ob.addVolume(maker.Side(), maker.Index(), -traded)
		if maker.Quantity() == 0 {
			delete(ob.registry, maker.ID())
			logger.Debug().
				Str("order_id", maker.ID()).
				Str("side", maker.Side().String()).
				Str("price", maker.Price().String()).
				Msg("Order executed")
		}
	}

	remaining := quantity
	if side == Buy {
		for remaining > 0 && ob.bestAsk != NoIndex && ob.bestAsk <= index {
			level := &ob.asks[ob.bestAsk]
			remaining -= level.Match(remaining, onFill)
			if level.IsEmpty() {
				ob.UpdateBestPrice(Sell)
			}
		}
	} else {
		for remaining > 0 && ob.bestBid != NoIndex && ob.bestBid >= index {
			level := &ob.bids[ob.bestBid]
			remaining -= level.Match(remaining, onFill)
			if level.IsEmpty() {
				ob.UpdateBestPrice(Buy)
			}
		}
	}

	otel.AddAttributes(span, attribute.Int(otel.AttributeTradeCount, len(done.Trades)))
	return remaining
}

// CancelOrder removes a resting order. An unknown id, including one that has
// already been filled or canceled, yields ErrNonexistentOrder and changes nothing.
func (ob *OrderBook) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	ctx, span := otel.StartOrderSpan(ctx, otel.SpanCancelOrder,
		attribute.String(otel.AttributeOrderID, orderID),
	)
	defer span.End()

	logger := logging.FromContext(ctx)

	entry, ok := ob.registry[orderID]
	if !ok {
		logger.Info().Str("order_id", orderID).Msg("Order not found")
		span.SetStatus(codes.Error, "order not found")
		return nil, fmt.Errorf("%w: %s", ErrNonexistentOrder, orderID)
	}

	side := entry.order.Side()
	level := ob.level(side, entry.index)
	order, ok := level.Remove(entry.handle)
	if !ok || order != entry.order {
		span.SetStatus(codes.Error, "registry out of sync")
		return nil, fmt.Errorf("%w: order %s not at index %d", ErrInvariantViolation, orderID, entry.index)
	}

	delete(ob.registry, orderID)
	ob.addVolume(side, entry.index, -order.Quantity())

	if level.IsEmpty() && entry.index == ob.best(side) {
		ob.UpdateBestPrice(side)
	}

	logger.Debug().
		Str("order_id", orderID).
		Str("side", side.String()).
		Int64("quantity", order.Quantity()).
		Msg("Order canceled")
	span.SetStatus(codes.Ok, "order canceled")
	return order, nil
}

// UpdateBestPrice rescans one side for its best non-empty level. No level
// lies beyond the current best, so the scan starts there and walks away
// from the spread: down for bids, up for asks. This linear walk is the
// dominant cost of matching on sparse books.
func (ob *OrderBook) UpdateBestPrice(side Side) {
	size := ob.grid.Size()
	if side == Buy {
		start := ob.bestBid
		if start == NoIndex || start >= size {
			start = size - 1
		}
		for i := start; i >= 0; i-- {
			if !ob.bids[i].IsEmpty() {
				ob.bestBid = i
				return
			}
		}
		ob.bestBid = NoIndex
		return
	}

	start := ob.bestAsk
	if start == NoIndex || start < 0 {
		start = 0
	}
	for i := start; i < size; i++ {
		if !ob.asks[i].IsEmpty() {
			ob.bestAsk = i
			return
		}
	}
	ob.bestAsk = NoIndex
}

// GetVolumeAtPrice returns the resting quantity recorded for the tick of
// price on side. Prices off the grid and untouched ticks report zero.
func (ob *OrderBook) GetVolumeAtPrice(price fpdecimal.Decimal, side Side) int64 {
	index, err := ob.grid.Index(price)
	if err != nil {
		return 0
	}
	return ob.volumes[volumeKey{side: side, index: index}]
}

// BestBidIndex returns the highest index with resting bids
func (ob *OrderBook) BestBidIndex() (int, bool) {
	return ob.bestBid, ob.bestBid != NoIndex
}

// BestAskIndex returns the lowest index with resting asks
func (ob *OrderBook) BestAskIndex() (int, bool) {
	return ob.bestAsk, ob.bestAsk != NoIndex
}

// BestBid returns the tick price of the best bid
func (ob *OrderBook) BestBid() (fpdecimal.Decimal, bool) {
	if ob.bestBid == NoIndex {
		return fpdecimal.Zero, false
	}
	return ob.grid.Price(ob.bestBid), true
}

// BestAsk returns the tick price of the best ask
func (ob *OrderBook) BestAsk() (fpdecimal.Decimal, bool) {
	if ob.bestAsk == NoIndex {
		return fpdecimal.Zero, false
	}
	return ob.grid.Price(ob.bestAsk), true
}

// Quote returns the top of book
func (ob *OrderBook) Quote() Quote {
	q := Quote{BidIndex: ob.bestBid, AskIndex: ob.bestAsk}
	if ob.bestBid != NoIndex {
		q.BidPrice = ob.bids[ob.bestBid].Price()
		q.BidSize = ob.bids[ob.bestBid].TotalQuantity()
	}
	if ob.bestAsk != NoIndex {
		q.AskPrice = ob.asks[ob.bestAsk].Price()
		q.AskSize = ob.asks[ob.bestAsk].TotalQuantity()
	}
	return q
}

// Depth returns up to n non-empty levels of side, best first. n <= 0 returns all.
func (ob *OrderBook) Depth(side Side, n int) []LevelDepth {
	depth := make([]LevelDepth, 0)
	add := func(l *PriceLevel) bool {
		if l.IsEmpty() {
			return true
		}
		depth = append(depth, LevelDepth{
			Index:    l.Index(),
			Price:    l.Price(),
			Quantity: l.TotalQuantity(),
			Orders:   l.Len(),
		})
		return n <= 0 || len(depth) < n
	}

	if side == Buy {
		for i := ob.bestBid; i >= 0; i-- {
			if !add(&ob.bids[i]) {
				break
			}
		}
	} else if ob.bestAsk != NoIndex {
		for i := ob.bestAsk; i < len(ob.asks); i++ {
			if !add(&ob.asks[i]) {
				break
			}
		}
	}
	return depth
}

// Orders returns the resting orders at the tick of price in time priority
func (ob *OrderBook) Orders(side Side, price fpdecimal.Decimal) ([]*Order, error) {
	index, err := ob.grid.Index(price)
	if err != nil {
		return nil, err
	}
	return ob.level(side, index).Orders(), nil
}

// Level returns the price level of side at index, or nil when index is off the grid
func (ob *OrderBook) Level(side Side, index int) *PriceLevel {
	if index < 0 || index >= ob.grid.Size() {
		return nil
	}
	return ob.level(side, index)
}

// String implements fmt.Stringer interface
func (ob *OrderBook) String() string {
	sb := strings.Builder{}
	sb.WriteString("Asks:")
	asks := ob.Depth(Sell, 0)
	for i := len(asks) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "\n%s -> %d (%d orders)", asks[i].Price, asks[i].Quantity, asks[i].Orders)
	}
	sb.WriteString("\n------------------------------------------\nBids:")
	for _, l := range ob.Depth(Buy, 0) {
		fmt.Fprintf(&sb, "\n%s -> %d (%d orders)", l.Price, l.Quantity, l.Orders)
	}
	return sb.String()
}

func (ob *OrderBook) level(side Side, index int) *PriceLevel {
	if side == Buy {
		return &ob.bids[index]
	}
	return &ob.asks[index]
}

func (ob *OrderBook) best(side Side) int {
	if side == Buy {
		return ob.bestBid
	}
	return ob.bestAsk
}

func (ob *OrderBook) addVolume(side Side, index int, delta int64) {
	key := volumeKey{side: side, index: index}
	v := ob.volumes[key] + delta
	if v == 0 {
		delete(ob.volumes, key)
		return
	}
	ob.volumes[key] = v
}
