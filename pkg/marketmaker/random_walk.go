package marketmaker

import (
	"context"
	"math/rand/v2"
	"sync"
)

// RandomWalkFetcher produces a multiplicative random walk, for running the
// market maker without network access
type RandomWalkFetcher struct {
	mu    sync.Mutex
	price float64
	step  float64
	rng   *rand.Rand
}

// NewRandomWalkFetcher starts the walk at start. Each FetchPrice moves the
// price by a uniform factor in [-stepPercent, +stepPercent] percent. A zero
// seed draws a random one.
func NewRandomWalkFetcher(start, stepPercent float64, seed uint64) *RandomWalkFetcher {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &RandomWalkFetcher{
		price: start,
		step:  stepPercent / 100,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// FetchPrice implements PriceFetcher
func (f *RandomWalkFetcher) FetchPrice(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	move := (f.rng.Float64()*2 - 1) * f.step
	f.price *= 1 + move
	return f.price, nil
}

// Close implements PriceFetcher
func (f *RandomWalkFetcher) Close() error { return nil }

var _ PriceFetcher = (*RandomWalkFetcher)(nil)
