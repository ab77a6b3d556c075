package main

import (
	"context"
	"flag"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erain9/tickbook/pkg/core"
	"github.com/erain9/tickbook/pkg/logging"
	"github.com/erain9/tickbook/pkg/marketmaker"
	"github.com/erain9/tickbook/pkg/server"
	"github.com/rs/zerolog"
)

// Runs the market maker against an in-process book together with a random
// taker, logging the top of book. Market maker settings come from
// TICKBOOK_MM_* environment variables.
func main() {
	priceMin := flag.String("price-min", "50", "Lowest price of the book")
	priceMax := flag.String("price-max", "150", "Highest price of the book")
	tick := flag.String("tick", "0.01", "Tick size of the book")
	takerEvery := flag.Duration("taker-every", 250*time.Millisecond, "Interval between random taker orders, 0 disables")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	logger := logging.Setup(logging.Config{Level: *logLevel, Pretty: true, Output: os.Stderr})

	cfg, err := marketmaker.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	grid, err := core.ParsePriceGrid(*priceMin, *priceMax, *tick)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid grid")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	book, err := server.NewBookServer(server.Config{Name: "MM-SIM", Grid: grid, Paranoid: true, Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create book")
	}
	defer book.Close()

	fetcher, err := marketmaker.NewPriceFetcherFromConfig(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create price fetcher")
	}
	defer fetcher.Close()

	strategy := marketmaker.NewLayeredSymmetricQuoting(cfg, grid, logger)
	mm := marketmaker.NewMarketMaker(cfg, logger, book, fetcher, strategy)
	mm.Start(ctx)

	if *takerEvery > 0 {
		go runTaker(ctx, book, cfg.OrderSize, *takerEvery, logger)
	}

	report := time.NewTicker(cfg.UpdateInterval)
	defer report.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-book.Done():
			logger.Error().Err(book.Err()).Msg("Book stopped")
			break loop
		case <-report.C:
			info, err := book.Info(ctx)
			if err != nil {
				continue
			}
			logger.Info().
				Interface("quote", info.Quote).
				Int("orders", info.OrderCount).
				Uint64("sequence", info.Sequence).
				Msg("Book")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mm.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
		os.Exit(1)
	}
	logger.Info().Msg("Market maker stopped")
}

// runTaker sends marketable orders at the opposite best price
func runTaker(ctx context.Context, book *server.BookServer, size int64, every time.Duration, logger zerolog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		quote, err := book.Quote(ctx)
		if err != nil {
			return
		}
		side := core.Buy
		if rand.IntN(2) == 0 {
			side = core.Sell
		}
		if side == core.Buy && !quote.HasAsk() || side == core.Sell && !quote.HasBid() {
			continue
		}
		price := quote.AskPrice
		if side == core.Sell {
			price = quote.BidPrice
		}

		qty := 1 + rand.Int64N(size)
		done, err := book.PlaceOrder(ctx, price, qty, side)
		if err != nil {
			logger.Warn().Err(err).Msg("Taker order rejected")
			continue
		}
		logger.Debug().
			Str("side", side.String()).
			Str("price", price.String()).
			Int64("processed", done.Processed).
			Msg("Taker order")
	}
}
