package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() Option {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("o%d", n)
	})
}

func newTestBook(t testing.TB) *OrderBook {
	t.Helper()
	return NewOrderBook(testGrid(t), sequentialIDs())
}

func place(t testing.TB, ob *OrderBook, side Side, price string, qty int64) *Done {
	t.Helper()
	done, err := ob.PlaceOrder(context.Background(), dec(price), qty, side)
	require.NoError(t, err)
	require.NoError(t, ob.CheckInvariants())
	return done
}

func TestNewOrderBookIsEmpty(t *testing.T) {
	ob := newTestBook(t)

	_, ok := ob.BestBidIndex()
	assert.False(t, ok)
	_, ok = ob.BestAskIndex()
	assert.False(t, ok)
	assert.Zero(t, ob.Len())
	assert.Zero(t, ob.GetVolumeAtPrice(dec("101"), Buy))
	assert.Empty(t, ob.Depth(Buy, 0))
	assert.Empty(t, ob.Depth(Sell, 0))

	q := ob.Quote()
	assert.False(t, q.HasBid())
	assert.False(t, q.HasAsk())
	require.NoError(t, ob.CheckInvariants())
}

func TestOrderBookScenario(t *testing.T) {
	ob := newTestBook(t)
	ctx := context.Background()

	first := place(t, ob, Buy, "101", 10)
	second := place(t, ob, Buy, "101", 5)
	assert.Empty(t, first.Trades)
	assert.Empty(t, second.Trades)
	id, ok := second.UnmatchedOrderID()
	require.True(t, ok)
	assert.Equal(t, "o2", id)

	place(t, ob, Sell, "103", 15)

	done := place(t, ob, Sell, "100.5", 8)
	require.Len(t, done.Trades, 1)
	assert.Equal(t, "o1", done.Trades[0].MakerOrderID)
	assert.Equal(t, int64(8), done.Trades[0].Quantity)
	assert.Equal(t, int64(2), done.Trades[0].MakerLeft)
	assert.Equal(t, 2, done.Trades[0].Index)
	assert.True(t, done.FullyFilled())
	assert.False(t, done.Stored)
	_, ok = done.UnmatchedOrderID()
	assert.False(t, ok)

	assert.Equal(t, int64(7), ob.GetVolumeAtPrice(dec("101"), Buy))
	assert.Zero(t, ob.GetVolumeAtPrice(dec("100.5"), Sell))
	assert.Equal(t, int64(15), ob.GetVolumeAtPrice(dec("103"), Sell))

	bid, ok := ob.BestBidIndex()
	require.True(t, ok)
	assert.Equal(t, 2, bid)
	ask, ok := ob.BestAskIndex()
	require.True(t, ok)
	assert.Equal(t, 6, ask)

	canceled, err := ob.CancelOrder(ctx, "o2")
	require.NoError(t, err)
	assert.Equal(t, int64(5), canceled.Quantity())
	require.NoError(t, ob.CheckInvariants())

	assert.Equal(t, int64(2), ob.GetVolumeAtPrice(dec("101"), Buy))
	bid, _ = ob.BestBidIndex()
	assert.Equal(t, 2, bid)
	assert.Equal(t, 2, ob.Len())
}

func TestOrderBookFIFOWithinLevel(t *testing.T) {
	ob := newTestBook(t)
	place(t, ob, Sell, "102", 3)
	place(t, ob, Sell, "102", 3)
	place(t, ob, Sell, "102", 3)

	done := place(t, ob, Buy, "102", 7)
	require.Len(t, done.Trades, 3)
	assert.Equal(t, []string{"o1", "o2", "o3"}, []string{
		done.Trades[0].MakerOrderID, done.Trades[1].MakerOrderID, done.Trades[2].MakerOrderID,
	})
	assert.Equal(t, []int64{3, 3, 1}, []int64{
		done.Trades[0].Quantity, done.Trades[1].Quantity, done.Trades[2].Quantity,
	})

	orders, err := ob.Orders(Sell, dec("102"))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o3", orders[0].ID())
	assert.Equal(t, int64(2), orders[0].Quantity())
	assert.Nil(t, ob.GetOrder("o1"))
	assert.Nil(t, ob.GetOrder("o2"))
}

func TestOrderBookPricePriority(t *testing.T) {
	ob := newTestBook(t)
	place(t, ob, Sell, "104", 5)
	place(t, ob, Sell, "102", 5)
	place(t, ob, Sell, "103", 5)

	done := place(t, ob, Buy, "103.5", 12)
	require.Len(t, done.Trades, 2)
	assert.Equal(t, 4, done.Trades[0].Index)
	assert.Equal(t, 6, done.Trades[1].Index)
	assert.Equal(t, int64(10), done.Processed)
	assert.Equal(t, int64(2), done.Left)

	require.True(t, done.Stored)
	assert.Equal(t, "o4", done.OrderID)
	_, ok := done.UnmatchedOrderID()
	assert.False(t, ok, "a partially filled remainder is not an unmatched order")

	bid, _ := ob.BestBidIndex()
	ask, _ := ob.BestAskIndex()
	assert.Equal(t, 7, bid)
	assert.Equal(t, 8, ask)
	assert.Equal(t, int64(2), ob.GetVolumeAtPrice(dec("103.5"), Buy))
	assert.Equal(t, int64(5), ob.GetVolumeAtPrice(dec("104"), Sell))
}

func TestOrderBookSellSweepsBids(t *testing.T) {
	ob := newTestBook(t)
	place(t, ob, Buy, "100", 1)
	place(t, ob, Buy, "101", 2)
	place(t, ob, Buy, "102", 3)

	done := place(t, ob, Sell, "100", 10)
	require.Len(t, done.Trades, 3)
	assert.Equal(t, []int{4, 2, 0}, []int{done.Trades[0].Index, done.Trades[1].Index, done.Trades[2].Index})
	assert.Equal(t, int64(4), done.Left)

	_, ok := ob.BestBidIndex()
	assert.False(t, ok)
	ask, _ := ob.BestAskIndex()
	assert.Equal(t, 0, ask)
	assert.Equal(t, int64(4), ob.GetVolumeAtPrice(dec("100"), Sell))
	assert.Zero(t, ob.GetVolumeAtPrice(dec("102"), Buy))
}

func TestOrderBookTradesAtMakerPrice(t *testing.T) {
	ob := newTestBook(t)
	place(t, ob, Sell, "101", 5)

	done := place(t, ob, Buy, "105", 5)
	require.Len(t, done.Trades, 1)
	assert.True(t, done.Trades[0].Price.Equal(dec("101")))
}

func TestOrderBookSameTickDifferentPrices(t *testing.T) {
	ob := newTestBook(t)
	// 101.2 and 101 share tick 2, so they cross even though 101.2 > 101
	place(t, ob, Sell, "101.2", 5)
	done := place(t, ob, Buy, "101", 3)
	require.Len(t, done.Trades, 1)
	assert.Equal(t, int64(3), done.Processed)
}

func TestOrderBookNoCrossNoTrade(t *testing.T) {
	ob := newTestBook(t)
	place(t, ob, Sell, "102", 5)
	done := place(t, ob, Buy, "101.5", 5)
	assert.Empty(t, done.Trades)
	assert.True(t, done.Stored)

	q := ob.Quote()
	assert.Equal(t, 3, q.BidIndex)
	assert.Equal(t, 4, q.AskIndex)
	assert.Equal(t, int64(5), q.BidSize)
	assert.Equal(t, int64(5), q.AskSize)
}

func TestOrderBookBestAskExtendsDownward(t *testing.T) {
	ob := newTestBook(t)
	place(t, ob, Sell, "105", 1)
	place(t, ob, Sell, "103", 1)
	ask, _ := ob.BestAskIndex()
	assert.Equal(t, 6, ask)

	place(t, ob, Sell, "108", 1)
	ask, _ = ob.BestAskIndex()
	assert.Equal(t, 6, ask)
}

func TestOrderBookCancel(t *testing.T) {
	ob := newTestBook(t)
	ctx := context.Background()

	place(t, ob, Buy, "104", 4)
	place(t, ob, Buy, "102", 6)

	order, err := ob.CancelOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "o1", order.ID())
	require.NoError(t, ob.CheckInvariants())

	bid, _ := ob.BestBidIndex()
	assert.Equal(t, 4, bid, "best bid falls back to the next level")
	assert.Zero(t, ob.GetVolumeAtPrice(dec("104"), Buy))

	_, err = ob.CancelOrder(ctx, "o1")
	assert.ErrorIs(t, err, ErrNonexistentOrder)

	_, err = ob.CancelOrder(ctx, "never-existed")
	assert.ErrorIs(t, err, ErrNonexistentOrder)

	_, err = ob.CancelOrder(ctx, "o2")
	require.NoError(t, err)
	_, ok := ob.BestBidIndex()
	assert.False(t, ok)
	require.NoError(t, ob.CheckInvariants())
}

func TestOrderBookCancelFilledOrder(t *testing.T) {
	ob := newTestBook(t)
	place(t, ob, Sell, "102", 5)
	place(t, ob, Buy, "102", 5)

	_, err := ob.CancelOrder(context.Background(), "o1")
	assert.ErrorIs(t, err, ErrNonexistentOrder)
}

func TestOrderBookCancelPartiallyFilled(t *testing.T) {
	ob := newTestBook(t)
	place(t, ob, Sell, "102", 10)
	place(t, ob, Buy, "102", 4)

	order, err := ob.CancelOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), order.Quantity())
	assert.Equal(t, int64(4), order.Filled())
	assert.Zero(t, ob.GetVolumeAtPrice(dec("102"), Sell))
	require.NoError(t, ob.CheckInvariants())
}

func TestOrderBookPlaceCancelRoundTrip(t *testing.T) {
	ob := newTestBook(t)
	place(t, ob, Buy, "101", 3)
	place(t, ob, Sell, "104", 3)
	before := ob.String()
	quote := ob.Quote()

	done := place(t, ob, Buy, "102.5", 9)
	_, err := ob.CancelOrder(context.Background(), done.OrderID)
	require.NoError(t, err)

	assert.Equal(t, before, ob.String())
	assert.Equal(t, quote, ob.Quote())
	assert.Zero(t, ob.GetVolumeAtPrice(dec("102.5"), Buy))
}

func TestOrderBookRejections(t *testing.T) {
	ob := newTestBook(t)
	place(t, ob, Buy, "101", 3)
	before := ob.String()
	ctx := context.Background()

	_, err := ob.PlaceOrder(ctx, dec("99.5"), 5, Buy)
	assert.ErrorIs(t, err, ErrPriceOutOfRange)

	_, err = ob.PlaceOrder(ctx, dec("110.5"), 5, Sell)
	assert.ErrorIs(t, err, ErrPriceOutOfRange)

	_, err = ob.PlaceOrder(ctx, dec("101"), 0, Sell)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = ob.PlaceOrder(ctx, dec("101"), -4, Sell)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = ob.PlaceOrder(ctx, dec("101"), 4, Side(9))
	assert.ErrorIs(t, err, ErrInvalidSide)

	assert.Equal(t, before, ob.String())
	assert.Equal(t, int64(3), ob.GetVolumeAtPrice(dec("101"), Buy))
	require.NoError(t, ob.CheckInvariants())
}

func TestOrderBookGridBounds(t *testing.T) {
	ob := newTestBook(t)
	place(t, ob, Buy, "100", 1)
	place(t, ob, Sell, "110", 1)

	bid, _ := ob.BestBidIndex()
	ask, _ := ob.BestAskIndex()
	assert.Equal(t, 0, bid)
	assert.Equal(t, 20, ask)

	done := place(t, ob, Buy, "110", 2)
	assert.Equal(t, int64(1), done.Processed)
	_, ok := ob.BestAskIndex()
	assert.False(t, ok)
	bid, _ = ob.BestBidIndex()
	assert.Equal(t, 20, bid)
}

func TestOrderBookDepth(t *testing.T) {
	ob := newTestBook(t)
	place(t, ob, Buy, "101", 1)
	place(t, ob, Buy, "101", 2)
	place(t, ob, Buy, "100", 4)
	place(t, ob, Buy, "102", 8)
	place(t, ob, Sell, "105", 3)
	place(t, ob, Sell, "106", 5)

	bids := ob.Depth(Buy, 0)
	require.Len(t, bids, 3)
	assert.Equal(t, []int{4, 2, 0}, []int{bids[0].Index, bids[1].Index, bids[2].Index})
	assert.Equal(t, int64(3), bids[1].Quantity)
	assert.Equal(t, 2, bids[1].Orders)

	top := ob.Depth(Buy, 2)
	assert.Len(t, top, 2)

	asks := ob.Depth(Sell, 1)
	require.Len(t, asks, 1)
	assert.Equal(t, 10, asks[0].Index)
	assert.True(t, asks[0].Price.Equal(dec("105")))
}

func TestOrderBookUpdateBestPriceIdempotent(t *testing.T) {
	ob := newTestBook(t)
	place(t, ob, Buy, "101", 1)
	place(t, ob, Sell, "104", 1)

	ob.UpdateBestPrice(Buy)
	ob.UpdateBestPrice(Sell)
	bid, _ := ob.BestBidIndex()
	ask, _ := ob.BestAskIndex()
	assert.Equal(t, 2, bid)
	assert.Equal(t, 8, ask)
}

func TestOrderBookDefaultIDs(t *testing.T) {
	ob := NewOrderBook(testGrid(t))
	done, err := ob.PlaceOrder(context.Background(), dec("101"), 1, Buy)
	require.NoError(t, err)

	_, err = uuid.Parse(done.OrderID)
	assert.NoError(t, err)
	assert.Same(t, done.Order, ob.GetOrder(done.OrderID))
}

func TestOrderBookInvariantDetectsCorruption(t *testing.T) {
	ob := newTestBook(t)
	place(t, ob, Buy, "101", 3)

	ob.volumes[volumeKey{side: Buy, index: 2}] = 4
	assert.ErrorIs(t, ob.CheckInvariants(), ErrInvariantViolation)

	ob.volumes[volumeKey{side: Buy, index: 2}] = 3
	ob.bestBid = 5
	assert.ErrorIs(t, ob.CheckInvariants(), ErrInvariantViolation)
}
