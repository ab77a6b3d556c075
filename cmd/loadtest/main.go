package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/erain9/tickbook/pkg/core"
	"github.com/erain9/tickbook/pkg/logging"
	"github.com/erain9/tickbook/pkg/server"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type options struct {
	workers     int
	perWorker   int
	ratePerSec  int
	cancelRatio float64
	spreadTicks int
	maxQuantity int64
	priceMin    string
	priceMax    string
	tick        string
	paranoid    bool
	queueSize   int
}

type stats struct {
	mu       sync.Mutex
	place    *hdrhistogram.Histogram
	cancel   *hdrhistogram.Histogram
	placed   atomic.Int64
	trades   atomic.Int64
	canceled atomic.Int64
	notFound atomic.Int64
	rejected atomic.Int64
}

func newStats() *stats {
	// microseconds, up to 10s, 3 significant digits
	return &stats{
		place:  hdrhistogram.New(1, 10_000_000, 3),
		cancel: hdrhistogram.New(1, 10_000_000, 3),
	}
}

func (s *stats) record(h *hdrhistogram.Histogram, d time.Duration) {
	s.mu.Lock()
	_ = h.RecordValue(d.Microseconds())
	s.mu.Unlock()
}

func main() {
	var opts options
	flag.IntVar(&opts.workers, "workers", 64, "Concurrent clients")
	flag.IntVar(&opts.perWorker, "orders", 2000, "Orders per client")
	flag.IntVar(&opts.ratePerSec, "rate", 0, "Global request rate limit per second, 0 for unlimited")
	flag.Float64Var(&opts.cancelRatio, "cancel-ratio", 0.3, "Probability that a client cancels one of its resting orders instead of placing")
	flag.IntVar(&opts.spreadTicks, "spread", 20, "Orders are priced within this many ticks of the grid midpoint")
	flag.Int64Var(&opts.maxQuantity, "max-qty", 100, "Largest order quantity")
	flag.StringVar(&opts.priceMin, "price-min", "0", "Lowest price of the book")
	flag.StringVar(&opts.priceMax, "price-max", "200", "Highest price of the book")
	flag.StringVar(&opts.tick, "tick", "0.01", "Tick size")
	flag.BoolVar(&opts.paranoid, "paranoid", false, "Check invariants after every operation")
	flag.IntVar(&opts.queueSize, "queue", 4096, "Book server request queue size")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	logger := logging.Setup(logging.Config{Level: *logLevel, Pretty: true, Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("load test failed: %v", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger zerolog.Logger) error {
	grid, err := core.ParsePriceGrid(opts.priceMin, opts.priceMax, opts.tick)
	if err != nil {
		return err
	}

	book, err := server.NewBookServer(server.Config{
		Name:      "load-test",
		Grid:      grid,
		QueueSize: opts.queueSize,
		Paranoid:  opts.paranoid,
		Logger:    &logger,
	})
	if err != nil {
		return err
	}
	defer book.Close()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.ratePerSec), opts.ratePerSec)
	}

	st := newStats()
	mid := grid.Size() / 2

	fmt.Printf("Starting %d workers, %d operations each on %s\n", opts.workers, opts.perWorker, grid)
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < opts.workers; w++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			worker(ctx, book, limiter, st, opts, grid, mid, rand.New(rand.NewPCG(seed, seed+1)))
		}(uint64(w) + 1)
	}
	wg.Wait()
	elapsed := time.Since(start)

	checkErr := book.Check(context.Background())
	report(st, elapsed)

	if checkErr != nil {
		return fmt.Errorf("invariant check: %w", checkErr)
	}
	fmt.Println(color.GreenString("Invariants hold"))
	return nil
}

func worker(ctx context.Context, book *server.BookServer, limiter *rate.Limiter, st *stats, opts options, grid core.PriceGrid, mid int, r *rand.Rand) {
	var resting []string

	for i := 0; i < opts.perWorker; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		if len(resting) > 0 && r.Float64() < opts.cancelRatio {
			j := r.IntN(len(resting))
			id := resting[j]
			resting[j] = resting[len(resting)-1]
			resting = resting[:len(resting)-1]

			t0 := time.Now()
			_, err := book.CancelOrder(ctx, id)
			st.record(st.cancel, time.Since(t0))
			if err != nil {
				st.notFound.Add(1)
				continue
			}
			st.canceled.Add(1)
			continue
		}

		side := core.Buy
		offset := r.IntN(opts.spreadTicks + 1)
		idx := mid - offset
		if r.IntN(2) == 0 {
			side = core.Sell
			idx = mid + offset
		}
		// a third of the orders are marketable
		if r.IntN(3) == 0 {
			idx = mid*2 - idx
		}
		idx = max(0, min(idx, grid.Size()-1))
		qty := 1 + r.Int64N(opts.maxQuantity)

		t0 := time.Now()
		done, err := book.PlaceOrder(ctx, grid.Price(idx), qty, side)
		st.record(st.place, time.Since(t0))
		if err != nil {
			st.rejected.Add(1)
			continue
		}
		st.placed.Add(1)
		st.trades.Add(int64(len(done.Trades)))
		if done.Stored {
			resting = append(resting, done.OrderID)
		}
	}
}

func report(st *stats, elapsed time.Duration) {
	head := color.New(color.FgCyan, color.Bold).SprintFunc()
	ops := st.place.TotalCount() + st.cancel.TotalCount()

	fmt.Println()
	fmt.Printf("%s %v, %d ops, %.0f ops/s\n", head("Elapsed"), elapsed.Round(time.Millisecond), ops, float64(ops)/elapsed.Seconds())
	fmt.Printf("%s placed=%d trades=%d canceled=%d not_found=%d rejected=%d\n",
		head("Counts "), st.placed.Load(), st.trades.Load(), st.canceled.Load(), st.notFound.Load(), st.rejected.Load())

	for _, row := range []struct {
		name string
		h    *hdrhistogram.Histogram
	}{{"place ", st.place}, {"cancel", st.cancel}} {
		if row.h.TotalCount() == 0 {
			continue
		}
		fmt.Printf("%s p50=%dus p90=%dus p99=%dus p99.9=%dus max=%dus\n",
			head(row.name),
			row.h.ValueAtQuantile(50),
			row.h.ValueAtQuantile(90),
			row.h.ValueAtQuantile(99),
			row.h.ValueAtQuantile(99.9),
			row.h.Max())
	}
}
