package main

import (
	"context"
	"fmt"
	"os"
	"time"

	redisbackend "github.com/erain9/tickbook/pkg/backend/redis"
	"github.com/erain9/tickbook/pkg/core"
	"github.com/erain9/tickbook/pkg/server"
	"github.com/fatih/color"
	"github.com/nikolaydubina/fpdecimal"
	"go.uber.org/zap"
)

const (
	redisAddr = "localhost:6379"
	redisDB   = 0
	prefix    = "tickbook-example"
)

// Places a few orders on a book whose top of book is mirrored to Redis, and
// prints every quote published on the Redis channel.
func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redisbackend.NewClient(redisbackend.RedisOptions{Addr: redisAddr, DB: redisDB})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to Redis: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Redis connection established: %s\n", pong)

	backend := redisbackend.NewRedisBackend(client, prefix, zap.NewExample())
	defer backend.Close()

	sub := backend.Subscribe(ctx)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to subscribe: %v\n", err)
		os.Exit(1)
	}

	grid, err := core.ParsePriceGrid("9", "11", "0.1")
	if err != nil {
		panic(err)
	}
	book, err := server.NewBookServer(server.Config{Name: "REDIS-EXAMPLE", Grid: grid, Quotes: backend})
	if err != nil {
		panic(err)
	}

	for _, o := range []struct {
		side  core.Side
		price float64
		qty   int64
	}{
		{core.Sell, 10.2, 10},
		{core.Buy, 9.8, 4},
		{core.Buy, 10.2, 5},
	} {
		done, err := book.PlaceOrder(ctx, fpdecimal.FromFloat(o.price), o.qty, o.side)
		if err != nil {
			panic(err)
		}
		fmt.Printf("%s %d @ %.1f -> processed %d\n", o.side, o.qty, o.price, done.Processed)
	}

	// Close flushes the last quote to Redis
	if err := book.Close(); err != nil {
		panic(err)
	}

	quote, err := backend.GetQuote(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("\nStored under %s:\n  bid %s x %d\n  ask %s x %d\n",
		backend.QuoteKey(), quote.BidPrice, quote.BidSize, quote.AskPrice, quote.AskSize)

	fmt.Printf("\nPublished on %s:\n", backend.Channel())
	ch := sub.Channel()
	for {
		select {
		case msg := <-ch:
			fmt.Println(" ", color.CyanString(msg.Payload))
		case <-time.After(200 * time.Millisecond):
			return
		}
	}
}
