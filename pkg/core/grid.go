package core

import (
	"fmt"

	"github.com/nikolaydubina/fpdecimal"
)

// MaxGridLevels bounds the number of ticks per side. Each book allocates two
// level arrays of this length up front.
const MaxGridLevels = 1 << 24

// PriceGrid discretizes [Min, Max] into ticks of TickSize.
//
// The price to index mapping is index = floor((price - Min) / TickSize). Any
// price inside the range between two ticks belongs to the lower tick.
type PriceGrid struct {
	min  fpdecimal.Decimal
	max  fpdecimal.Decimal
	tick fpdecimal.Decimal
	size int
}

// NewPriceGrid validates the bounds and returns a grid of
// floor((max - min) / tick) + 1 levels
func NewPriceGrid(priceMin, priceMax, tickSize fpdecimal.Decimal) (PriceGrid, error) {
	if tickSize.LessThanOrEqual(fpdecimal.Zero) {
		return PriceGrid{}, fmt.Errorf("%w: tick size %s must be positive", ErrInvalidGrid, tickSize)
	}
	if priceMin.LessThan(fpdecimal.Zero) {
		return PriceGrid{}, fmt.Errorf("%w: price min %s must not be negative", ErrInvalidGrid, priceMin)
	}
	if priceMax.LessThan(priceMin) {
		return PriceGrid{}, fmt.Errorf("%w: price max %s below price min %s", ErrInvalidGrid, priceMax, priceMin)
	}

	g := PriceGrid{min: priceMin, max: priceMax, tick: tickSize}
	n := g.steps(priceMax)
	if n >= MaxGridLevels {
		return PriceGrid{}, fmt.Errorf("%w: [%s, %s] step %s exceeds %d levels", ErrInvalidGrid, priceMin, priceMax, tickSize, MaxGridLevels)
	}
	g.size = n + 1
	return g, nil
}

// ParsePriceGrid builds a grid from decimal strings
func ParsePriceGrid(priceMin, priceMax, tickSize string) (PriceGrid, error) {
	lo, err := fpdecimal.FromString(priceMin)
	if err != nil {
		return PriceGrid{}, fmt.Errorf("%w: price min %q: %v", ErrInvalidGrid, priceMin, err)
	}
	hi, err := fpdecimal.FromString(priceMax)
	if err != nil {
		return PriceGrid{}, fmt.Errorf("%w: price max %q: %v", ErrInvalidGrid, priceMax, err)
	}
	tick, err := fpdecimal.FromString(tickSize)
	if err != nil {
		return PriceGrid{}, fmt.Errorf("%w: tick size %q: %v", ErrInvalidGrid, tickSize, err)
	}
	return NewPriceGrid(lo, hi, tick)
}

// Min returns the lowest accepted price
func (g PriceGrid) Min() fpdecimal.Decimal { return g.min }

// Max returns the highest accepted price
func (g PriceGrid) Max() fpdecimal.Decimal { return g.max }

// TickSize returns the price increment between levels
func (g PriceGrid) TickSize() fpdecimal.Decimal { return g.tick }

// Size returns the number of levels per side
func (g PriceGrid) Size() int { return g.size }

// Contains reports whether price lies inside [Min, Max]
func (g PriceGrid) Contains(price fpdecimal.Decimal) bool {
	return price.GreaterThanOrEqual(g.min) && price.LessThanOrEqual(g.max)
}

// Index maps a price to its tick index. The zero PriceGrid maps nothing.
func (g PriceGrid) Index(price fpdecimal.Decimal) (int, error) {
	if g.size == 0 {
		return NoIndex, fmt.Errorf("%w: grid has no levels", ErrInvalidGrid)
	}
	if !g.Contains(price) {
		return NoIndex, fmt.Errorf("%w: %s not in [%s, %s]", ErrPriceOutOfRange, price, g.min, g.max)
	}
	idx := g.steps(price)
	if idx >= g.size {
		idx = g.size - 1
	}
	return idx, nil
}

// Price returns the price of the tick at index
func (g PriceGrid) Price(index int) fpdecimal.Decimal {
	return fpdecimal.FromIntScaled(g.min.Scaled() + g.tick.Scaled()*int64(index))
}

// steps counts whole ticks between Min and price on the scaled integers.
// Both operands are non-negative so truncation is a floor, and price - Min
// cannot overflow for 0 <= Min <= price.
func (g PriceGrid) steps(price fpdecimal.Decimal) int {
	n := (price.Scaled() - g.min.Scaled()) / g.tick.Scaled()
	if n > MaxGridLevels {
		return MaxGridLevels
	}
	return int(n)
}

// String implements fmt.Stringer
func (g PriceGrid) String() string {
	return fmt.Sprintf("[%s, %s] step %s (%d levels)", g.min, g.max, g.tick, g.size)
}
