package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erain9/tickbook/config"
	"github.com/erain9/tickbook/pkg/backend/memory"
	"github.com/erain9/tickbook/pkg/core"
	"github.com/erain9/tickbook/pkg/messaging/kafka"
	"github.com/erain9/tickbook/pkg/otel"
	"github.com/erain9/tickbook/pkg/server"
	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gootel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestManager(t *testing.T) *server.OrderBookManager {
	t.Helper()
	grid, err := core.ParsePriceGrid("100", "110", "0.5")
	require.NoError(t, err)

	manager := server.NewOrderBookManager()
	t.Cleanup(func() { _ = manager.Close() })

	book, err := manager.CreateOrderBook(context.Background(), server.Config{Name: "TEST", Grid: grid})
	require.NoError(t, err)

	ctx := context.Background()
	for _, o := range []struct {
		price string
		qty   int64
		side  core.Side
	}{
		{"101", 5, core.Buy},
		{"101", 2, core.Buy},
		{"100.5", 4, core.Buy},
		{"103", 7, core.Sell},
	} {
		price, err := fpdecimal.FromString(o.price)
		require.NoError(t, err)
		_, err = book.PlaceOrder(ctx, price, o.qty, o.side)
		require.NoError(t, err)
	}
	return manager
}

func get(t *testing.T, h http.Handler, target string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestStatusHandler(t *testing.T) {
	h := newStatusHandler(newTestManager(t), "TEST", zerolog.Nop())

	var infos []map[string]any
	require.Equal(t, http.StatusOK, get(t, h, "/", &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "TEST", infos[0]["name"])
	assert.EqualValues(t, 4, infos[0]["orderCount"])

	var quote map[string]any
	require.Equal(t, http.StatusOK, get(t, h, "/quote", &quote))
	assert.EqualValues(t, 2, quote["bidIndex"])
	assert.EqualValues(t, 7, quote["bidSize"])
	assert.EqualValues(t, 6, quote["askIndex"])

	var depth struct {
		Book string           `json:"book"`
		Bids []map[string]any `json:"bids"`
		Asks []map[string]any `json:"asks"`
	}
	require.Equal(t, http.StatusOK, get(t, h, "/depth?book=TEST&levels=1", &depth))
	assert.Equal(t, "TEST", depth.Book)
	require.Len(t, depth.Bids, 1)
	assert.EqualValues(t, 2, depth.Bids[0]["orders"])
	require.Len(t, depth.Asks, 1)

	require.Equal(t, http.StatusOK, get(t, h, "/depth", &depth))
	assert.Len(t, depth.Bids, 2)
}

func TestStatusHandlerErrors(t *testing.T) {
	h := newStatusHandler(newTestManager(t), "TEST", zerolog.Nop())

	var body map[string]string
	assert.Equal(t, http.StatusNotFound, get(t, h, "/quote?book=NOPE", &body))
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/depth?levels=-1", &body))
	assert.Equal(t, http.StatusNotFound, get(t, h, "/orders", nil))
}

func TestNewSender(t *testing.T) {
	cfg, err := config.LoadConfig(nil)
	require.NoError(t, err)

	sender, err := newSender(cfg)
	require.NoError(t, err)
	assert.Nil(t, sender)

	cfg.Kafka.Driver = config.DriverKafkaGo
	sender, err = newSender(cfg)
	require.NoError(t, err)
	assert.IsType(t, &kafka.KafkaMessageSender{}, sender)
	require.NoError(t, sender.Close())

	cfg.Kafka.Driver = "carrier-pigeon"
	_, err = newSender(cfg)
	assert.Error(t, err)
}

func TestNewQuoteBackendDefaultsToMemory(t *testing.T) {
	cfg, err := config.LoadConfig(nil)
	require.NoError(t, err)

	quotes, err := newQuoteBackend(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &memory.MemoryBackend{}, quotes)
	require.NoError(t, quotes.Close())
}

func TestStatusHandlerJoinsRemoteTrace(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, otel.InitForTesting(tp.Tracer("test")))
	t.Cleanup(otel.ResetForTesting)

	prev := gootel.GetTextMapPropagator()
	gootel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { gootel.SetTextMapPropagator(prev) })

	h := newStatusHandler(newTestManager(t), "TEST", zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/quote", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var found bool
	for _, s := range recorder.Ended() {
		if s.Name() != otel.SpanStatusQuery {
			continue
		}
		found = true
		assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", s.SpanContext().TraceID().String())
		assert.Equal(t, "00f067aa0ba902b7", s.Parent().SpanID().String())
		assert.Contains(t, s.Attributes(), attribute.String(otel.AttributeHTTPPath, "/quote"))
	}
	assert.True(t, found)
}
