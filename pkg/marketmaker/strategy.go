package marketmaker

import (
	"context"
	"fmt"
	"math"

	"github.com/erain9/tickbook/pkg/core"
	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"
)

// LayeredSymmetricQuoting implements a symmetric market making strategy with multiple price levels.
// Bids are rounded down and asks up onto the book's tick grid, and every level
// sits on its own tick.
type LayeredSymmetricQuoting struct {
	cfg    *Config
	grid   core.PriceGrid
	logger zerolog.Logger
}

// NewLayeredSymmetricQuoting creates a new LayeredSymmetricQuoting strategy
func NewLayeredSymmetricQuoting(cfg *Config, grid core.PriceGrid, logger zerolog.Logger) *LayeredSymmetricQuoting {
	return &LayeredSymmetricQuoting{
		cfg:    cfg,
		grid:   grid,
		logger: logger.With().Str("component", "LayeredSymmetricQuoting").Logger(),
	}
}

// CalculateOrders implements MarketMakerStrategy. Levels that fall outside
// the grid are dropped.
func (s *LayeredSymmetricQuoting) CalculateOrders(ctx context.Context, currentPrice float64) ([]QuoteOrder, error) {
	if currentPrice <= 0 || math.IsNaN(currentPrice) || math.IsInf(currentPrice, 0) {
		return nil, fmt.Errorf("invalid mid price %v", currentPrice)
	}

	baseHalfSpread := currentPrice * (s.cfg.BaseSpreadPercent / 2 / 100)
	priceStep := currentPrice * (s.cfg.PriceStepPercent / 100)

	orders := make([]QuoteOrder, 0, s.cfg.NumLevels*2)
	prevBid, prevAsk := s.grid.Size(), core.NoIndex

	for i := 1; i <= s.cfg.NumLevels; i++ {
		bidPrice := currentPrice - baseHalfSpread - float64(i-1)*priceStep
		askPrice := currentPrice + baseHalfSpread + float64(i-1)*priceStep

		if idx, ok := s.bidIndex(bidPrice); ok {
			idx = min(idx, prevBid-1)
			if idx >= 0 {
				orders = append(orders, s.order(i, core.Buy, idx))
				prevBid = idx
				if i == 1 {
					// never quote an ask at or below the first bid
					prevAsk = max(prevAsk, idx)
				}
			}
		}

		if idx, ok := s.askIndex(askPrice); ok {
			idx = max(idx, prevAsk+1)
			if idx < s.grid.Size() {
				orders = append(orders, s.order(i, core.Sell, idx))
				prevAsk = idx
			}
		}

		s.logger.Debug().
			Int("level", i).
			Float64("bid_price", bidPrice).
			Float64("ask_price", askPrice).
			Int64("quantity", s.cfg.OrderSize).
			Msg("Calculated order pair")
	}

	return orders, nil
}

func (s *LayeredSymmetricQuoting) order(level int, side core.Side, idx int) QuoteOrder {
	return QuoteOrder{
		Level:    level,
		Side:     side,
		Price:    s.grid.Price(idx),
		Index:    idx,
		Quantity: s.cfg.OrderSize,
	}
}

// bidIndex rounds price down onto the grid
func (s *LayeredSymmetricQuoting) bidIndex(price float64) (int, bool) {
	p := fpdecimal.FromFloat(price)
	if p.LessThan(s.grid.Min()) {
		return core.NoIndex, false
	}
	if p.GreaterThan(s.grid.Max()) {
		return s.grid.Size() - 1, true
	}
	idx, err := s.grid.Index(p)
	return idx, err == nil
}

// askIndex rounds price up onto the grid
func (s *LayeredSymmetricQuoting) askIndex(price float64) (int, bool) {
	p := fpdecimal.FromFloat(price)
	if p.GreaterThan(s.grid.Max()) {
		return core.NoIndex, false
	}
	if p.LessThan(s.grid.Min()) {
		return 0, true
	}
	idx, err := s.grid.Index(p)
	if err != nil {
		return core.NoIndex, false
	}
	if s.grid.Price(idx).LessThan(p) {
		idx++
	}
	return idx, idx < s.grid.Size()
}
