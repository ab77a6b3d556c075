package core

import "fmt"

// CheckInvariants walks the whole book and verifies its bookkeeping: best
// indices point at the extreme non-empty levels, the book is not crossed,
// every resting order is registered at the level holding it, and the volume
// ledger equals the resting quantity per tick. It is O(size + orders) and
// meant for tests and paranoid mode.
func (ob *OrderBook) CheckInvariants() error {
	if err := ob.checkBest(); err != nil {
		return err
	}
	if ob.bestBid != NoIndex && ob.bestAsk != NoIndex && ob.bestBid >= ob.bestAsk {
		return fmt.Errorf("%w: crossed book, best bid %d >= best ask %d", ErrInvariantViolation, ob.bestBid, ob.bestAsk)
	}

	seen := 0
	resting := make(map[volumeKey]int64)
	for _, levels := range [][]PriceLevel{ob.bids, ob.asks} {
		for i := range levels {
			l := &levels[i]
			var total int64
			var err error
			l.queue.Each(func(h Handle, o *Order) bool {
				e, ok := ob.registry[o.ID()]
				switch {
				case !ok:
					err = fmt.Errorf("%w: order %s resting but not registered", ErrInvariantViolation, o.ID())
				case e.order != o || e.index != l.Index() || e.handle != h:
					err = fmt.Errorf("%w: registry entry of %s does not point at its level", ErrInvariantViolation, o.ID())
				case o.Quantity() <= 0:
					err = fmt.Errorf("%w: order %s rests with quantity %d", ErrInvariantViolation, o.ID(), o.Quantity())
				case o.Side() != l.Side():
					err = fmt.Errorf("%w: order %s on the wrong side", ErrInvariantViolation, o.ID())
				}
				total += o.Quantity()
				seen++
				return err == nil
			})
			if err != nil {
				return err
			}
			if total != l.TotalQuantity() {
				return fmt.Errorf("%w: level %s/%d totals %d, orders sum to %d", ErrInvariantViolation, l.Side(), i, l.TotalQuantity(), total)
			}
			if total != 0 {
				resting[volumeKey{side: l.Side(), index: i}] = total
			}
		}
	}

	if seen != len(ob.registry) {
		return fmt.Errorf("%w: %d orders resting, %d registered", ErrInvariantViolation, seen, len(ob.registry))
	}
	if len(resting) != len(ob.volumes) {
		return fmt.Errorf("%w: ledger has %d entries, %d levels hold orders", ErrInvariantViolation, len(ob.volumes), len(resting))
	}
	for k, v := range resting {
		if ob.volumes[k] != v {
			return fmt.Errorf("%w: ledger %s/%d is %d, resting %d", ErrInvariantViolation, k.side, k.index, ob.volumes[k], v)
		}
	}
	return nil
}

func (ob *OrderBook) checkBest() error {
	wantBid := NoIndex
	for i := len(ob.bids) - 1; i >= 0; i-- {
		if !ob.bids[i].IsEmpty() {
			wantBid = i
			break
		}
	}
	wantAsk := NoIndex
	for i := range ob.asks {
		if !ob.asks[i].IsEmpty() {
			wantAsk = i
			break
		}
	}
	if wantBid != ob.bestBid {
		return fmt.Errorf("%w: best bid %d, highest resting bid %d", ErrInvariantViolation, ob.bestBid, wantBid)
	}
	if wantAsk != ob.bestAsk {
		return fmt.Errorf("%w: best ask %d, lowest resting ask %d", ErrInvariantViolation, ob.bestAsk, wantAsk)
	}
	return nil
}
