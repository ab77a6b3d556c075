package marketmaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erain9/tickbook/pkg/core"
	"github.com/rs/zerolog"
)

// MarketMaker represents the market making service
type MarketMaker struct {
	cfg          *Config
	logger       zerolog.Logger
	orderPlacer  OrderPlacer
	priceFetcher PriceFetcher
	strategy     MarketMakerStrategy

	mu           sync.Mutex
	activeOrders map[string]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMarketMaker creates a new market maker service
func NewMarketMaker(cfg *Config, logger zerolog.Logger, orderPlacer OrderPlacer, priceFetcher PriceFetcher, strategy MarketMakerStrategy) *MarketMaker {
	return &MarketMaker{
		cfg:          cfg,
		logger:       logger.With().Str("component", "MarketMaker").Logger(),
		orderPlacer:  orderPlacer,
		priceFetcher: priceFetcher,
		strategy:     strategy,
		activeOrders: make(map[string]struct{}),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the market making process
func (m *MarketMaker) Start(ctx context.Context) {
	m.logger.Info().
		Dur("update_interval", m.cfg.UpdateInterval).
		Int("num_levels", m.cfg.NumLevels).
		Msg("Starting market maker service")

	m.wg.Add(1)
	go m.run(ctx)
}

// Stop shuts down the loop and cancels every order it still has resting
func (m *MarketMaker) Stop(ctx context.Context) error {
	m.logger.Info().Msg("Stopping market maker service")

	m.stopOnce.Do(func() { close(m.stopCh) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for market maker to stop: %w", ctx.Err())
	}

	if err := m.cancelAllOrders(ctx); err != nil {
		m.logger.Error().Err(err).Msg("Failed to cancel all orders during shutdown")
		return fmt.Errorf("failed to cancel orders during shutdown: %w", err)
	}

	m.logger.Info().Msg("Market maker stopped successfully")
	return nil
}

// ActiveOrders returns the number of orders the market maker believes are resting
func (m *MarketMaker) ActiveOrders() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeOrders)
}

// run is the main market making loop
func (m *MarketMaker) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Context cancelled, stopping market maker loop")
			return
		case <-m.stopCh:
			m.logger.Info().Msg("Stop signal received, stopping market maker loop")
			return
		case <-ticker.C:
			if err := m.UpdateOrders(ctx); err != nil {
				m.logger.Error().Err(err).Msg("Failed to update orders")
			}
		}
	}
}

// UpdateOrders performs a single iteration: fetch the mid price, pull the
// previous quotes and place a fresh ladder
func (m *MarketMaker) UpdateOrders(ctx context.Context) error {
	price, err := m.priceFetcher.FetchPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch price: %w", err)
	}

	orders, err := m.strategy.CalculateOrders(ctx, price)
	if err != nil {
		return fmt.Errorf("failed to calculate orders: %w", err)
	}

	if err := m.cancelAllOrders(ctx); err != nil {
		return fmt.Errorf("failed to cancel existing orders: %w", err)
	}

	var failed int
	for _, order := range orders {
		done, err := m.orderPlacer.PlaceOrder(ctx, order.Price, order.Quantity, order.Side)
		if err != nil {
			failed++
			m.logger.Error().
				Int("level", order.Level).
				Stringer("side", order.Side).
				Str("price", order.Price.String()).
				Err(err).
				Msg("Failed to place order")
			continue
		}

		if done.Stored {
			m.mu.Lock()
			m.activeOrders[done.OrderID] = struct{}{}
			m.mu.Unlock()
		}

		m.logger.Debug().
			Str("order_id", done.OrderID).
			Stringer("side", order.Side).
			Str("price", order.Price.String()).
			Int64("processed", done.Processed).
			Msg("Successfully placed order")
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d orders rejected", failed, len(orders))
	}
	return nil
}

// cancelAllOrders cancels all tracked active orders. Orders that already
// traded away are forgotten silently.
func (m *MarketMaker) cancelAllOrders(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.activeOrders))
	for id := range m.activeOrders {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		_, err := m.orderPlacer.CancelOrder(ctx, id)
		if err != nil && !errors.Is(err, core.ErrNonexistentOrder) {
			m.logger.Error().Str("order_id", id).Err(err).Msg("Failed to cancel order")
			errs = append(errs, err)
			continue
		}

		m.mu.Lock()
		delete(m.activeOrders, id)
		m.mu.Unlock()
		m.logger.Debug().Str("order_id", id).Msg("Cancelled order")
	}

	return errors.Join(errs...)
}
