package marketmaker

import (
	"context"

	"github.com/erain9/tickbook/pkg/core"
	"github.com/nikolaydubina/fpdecimal"
)

// PriceFetcher defines the interface for fetching current market prices
type PriceFetcher interface {
	// FetchPrice returns the current mid price for the configured symbol
	FetchPrice(ctx context.Context) (float64, error)
	// Close releases any resources held by the price fetcher
	Close() error
}

// OrderPlacer places and cancels limit orders on one book.
// *server.BookServer satisfies it.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, price fpdecimal.Decimal, quantity int64, side core.Side) (*core.Done, error)
	CancelOrder(ctx context.Context, orderID string) (core.Order, error)
}

// MarketMakerStrategy defines the interface for market making strategies
type MarketMakerStrategy interface {
	// CalculateOrders calculates the orders to be placed based on the current price
	CalculateOrders(ctx context.Context, currentPrice float64) ([]QuoteOrder, error)
}

// QuoteOrder is one order the strategy wants resting on the book
type QuoteOrder struct {
	Level    int
	Side     core.Side
	Price    fpdecimal.Decimal
	Index    int
	Quantity int64
}
