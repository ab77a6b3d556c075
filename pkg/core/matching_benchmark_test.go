package core

import (
	"context"
	"testing"

	"github.com/nikolaydubina/fpdecimal"
)

func benchmarkBook(b *testing.B) *OrderBook {
	grid, err := ParsePriceGrid("0", "1000", "0.01")
	if err != nil {
		b.Fatal(err)
	}
	return NewOrderBook(grid)
}

// BenchmarkPlaceRestingOrder measures placement without crossing
func BenchmarkPlaceRestingOrder(b *testing.B) {
	ob := benchmarkBook(b)
	ctx := context.Background()
	prices := make([]fpdecimal.Decimal, 100)
	for i := range prices {
		prices[i] = fpdecimal.FromFloat(400 + float64(i)*0.01)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ob.PlaceOrder(ctx, prices[i%len(prices)], 10, Buy); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkPlaceCancel measures a place followed by a cancel of the same order
func BenchmarkPlaceCancel(b *testing.B) {
	ob := benchmarkBook(b)
	ctx := context.Background()
	price := fpdecimal.FromFloat(500)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		done, err := ob.PlaceOrder(ctx, price, 10, Sell)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := ob.CancelOrder(ctx, done.OrderID); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCrossingOrder measures an aggressive order consuming one resting order
func BenchmarkCrossingOrder(b *testing.B) {
	ob := benchmarkBook(b)
	ctx := context.Background()
	ask := fpdecimal.FromFloat(500.5)

	// a deeper resting ask bounds the rescan after each fill
	if _, err := ob.PlaceOrder(ctx, fpdecimal.FromFloat(501), 1_000_000, Sell); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ob.PlaceOrder(ctx, ask, 5, Sell); err != nil {
			b.Fatal(err)
		}
		if _, err := ob.PlaceOrder(ctx, ask, 5, Buy); err != nil {
			b.Fatal(err)
		}
	}
}
