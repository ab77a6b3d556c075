package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/erain9/tickbook/pkg/otel"
)

var (
	// orderBookMetrics holds the singleton instance
	orderBookMetrics     *OrderBookMetrics
	orderBookMetricsOnce sync.Once
)

// OrderBookMetrics holds metrics for order book operations
type OrderBookMetrics struct {
	ordersPlaced   metric.Int64Counter
	trades         metric.Int64Counter
	tradedQuantity metric.Int64Counter
	ordersCanceled metric.Int64Counter
	ordersRejected metric.Int64Counter
	restingOrders  metric.Int64UpDownCounter
}

// NewOrderBookMetrics creates the instruments on the given meter
func NewOrderBookMetrics(meter metric.Meter) (*OrderBookMetrics, error) {
	ordersPlaced, err := meter.Int64Counter(
		"orderbook.orders.placed",
		metric.WithDescription("Total number of accepted orders"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	trades, err := meter.Int64Counter(
		"orderbook.trades",
		metric.WithDescription("Total number of executions against resting orders"),
		metric.WithUnit("{trade}"),
	)
	if err != nil {
		return nil, err
	}

	tradedQuantity, err := meter.Int64Counter(
		"orderbook.traded_quantity",
		metric.WithDescription("Total executed quantity"),
	)
	if err != nil {
		return nil, err
	}

	ordersCanceled, err := meter.Int64Counter(
		"orderbook.orders.canceled",
		metric.WithDescription("Total number of cancellations by outcome"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	ordersRejected, err := meter.Int64Counter(
		"orderbook.orders.rejected",
		metric.WithDescription("Total number of rejected submissions by reason"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	restingOrders, err := meter.Int64UpDownCounter(
		"orderbook.orders.resting",
		metric.WithDescription("Number of orders resting in the book"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	return &OrderBookMetrics{
		ordersPlaced:   ordersPlaced,
		trades:         trades,
		tradedQuantity: tradedQuantity,
		ordersCanceled: ordersCanceled,
		ordersRejected: ordersRejected,
		restingOrders:  restingOrders,
	}, nil
}

// GetOrderBookMetrics returns the OrderBookMetrics singleton built on the
// global meter provider. On instrument errors an inert value is returned.
func GetOrderBookMetrics() *OrderBookMetrics {
	orderBookMetricsOnce.Do(func() {
		m, err := NewOrderBookMetrics(otel.GetMeterProvider().Meter(instrumentationName))
		if err != nil {
			m = &OrderBookMetrics{}
		}
		orderBookMetrics = m
	})
	return orderBookMetrics
}

// RecordPlaced counts an accepted order and what it executed
func (m *OrderBookMetrics) RecordPlaced(ctx context.Context, book, side string, trades int, quantity int64, stored bool) {
	if m.ordersPlaced == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttributeBook, book),
		attribute.String(AttributeOrderSide, side),
	)
	m.ordersPlaced.Add(ctx, 1, attrs)
	if trades > 0 {
		m.trades.Add(ctx, int64(trades), attrs)
		m.tradedQuantity.Add(ctx, quantity, attrs)
	}
	if stored {
		m.restingOrders.Add(ctx, 1, metric.WithAttributes(attribute.String(AttributeBook, book)))
	}
}

// RecordFilledMakers lowers the resting gauge by the number of makers fully consumed
func (m *OrderBookMetrics) RecordFilledMakers(ctx context.Context, book string, count int) {
	if m.restingOrders == nil || count == 0 {
		return
	}
	m.restingOrders.Add(ctx, -int64(count), metric.WithAttributes(attribute.String(AttributeBook, book)))
}

// RecordCanceled counts a cancellation attempt by outcome
func (m *OrderBookMetrics) RecordCanceled(ctx context.Context, book string, found bool) {
	if m.ordersCanceled == nil {
		return
	}
	status := "canceled"
	if !found {
		status = "not_found"
	}
	m.ordersCanceled.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttributeBook, book),
		attribute.String(AttributeOrderStatus, status),
	))
	if found {
		m.restingOrders.Add(ctx, -1, metric.WithAttributes(attribute.String(AttributeBook, book)))
	}
}

// RecordRejected counts a submission rejected before any mutation
func (m *OrderBookMetrics) RecordRejected(ctx context.Context, book, reason string) {
	if m.ordersRejected == nil {
		return
	}
	m.ordersRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttributeBook, book),
		attribute.String("reason", reason),
	))
}
