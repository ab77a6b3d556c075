package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Span names
	SpanPlaceOrder  = "place_order"
	SpanMatchOrder  = "match_order"
	SpanCancelOrder = "cancel_order"
	SpanPublishDone = "publish_done"
	SpanStatusQuery = "status_query"

	// Attribute keys
	AttributeBook              = "book.name"
	AttributeOrderID           = "order.id"
	AttributeOrderSide         = "order.side"
	AttributeOrderQuantity     = "order.quantity"
	AttributeOrderPrice        = "order.price"
	AttributeOrderIndex        = "order.index"
	AttributeOrderStatus       = "order.status"
	AttributeExecutedQuantity  = "order.executed_quantity"
	AttributeRemainingQuantity = "order.remaining_quantity"
	AttributeTradeCount        = "trade.count"
	AttributeHTTPPath          = "http.path"
)

// StartOrderSpan starts a new span for order processing. When Init has not
// configured a tracer the global provider is used, which is a no-op unless
// something else installed one.
func StartOrderSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	var tracer trace.Tracer

	// Use appropriate tracer based on the span name
	switch name {
	case SpanMatchOrder:
		tracer = GetMatchingEngineTracer()
	default:
		tracer = GetBookServerTracer()
	}

	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddAttributes adds attributes to a span
func AddAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}
