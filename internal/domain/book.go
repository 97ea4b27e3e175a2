package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Level is one price level of an order book side.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// BookState is the in-memory order book for one market.
// Bids are sorted descending, asks ascending. Sizes are never negative;
// a level whose size reaches zero is removed.
type BookState struct {
	MarketID string
	Bids     []Level
	Asks     []Level

	LastTrade *Trade

	LastUpdateTS time.Time // source time of the last applied event
	LastLocalTS  time.Time // local monotonic stamp of the last applied event
	Seq          uint64    // last applied sequence number, 0 if the source has none
}

// BestBid returns the highest bid level, if any.
func (b *BookState) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level, if any.
func (b *BookState) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// Mid returns (best_bid + best_ask) / 2. ok is false when either side is empty.
func (b *BookState) Mid() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(two), true
}

// Crossed reports best_bid >= best_ask with both sides present.
func (b *BookState) Crossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	return okB && okA && bid.Price.GreaterThanOrEqual(ask.Price)
}

// SpreadBPS returns (ask - bid) / mid in basis points, 0 when not computable.
func (b *BookState) SpreadBPS() float64 {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0
	}
	mid, _ := b.Mid()
	if !mid.IsPositive() {
		return 0
	}
	spread := ask.Price.Sub(bid.Price)
	return spread.Div(mid).InexactFloat64() * 10_000
}

// ApplySnapshot replaces both sides of the book.
func (b *BookState) ApplySnapshot(bids, asks []Level, sourceTS, localTS time.Time, seq uint64) {
	b.Bids = normalizeSide(bids, true)
	b.Asks = normalizeSide(asks, false)
	b.LastUpdateTS = sourceTS
	b.LastLocalTS = localTS
	b.Seq = seq
}

// ApplyDelta merges changed levels into the book. A zero size removes the level.
func (b *BookState) ApplyDelta(bids, asks []Level, sourceTS, localTS time.Time, seq uint64) {
	for _, lv := range bids {
		b.Bids = upsertLevel(b.Bids, lv, true)
	}
	for _, lv := range asks {
		b.Asks = upsertLevel(b.Asks, lv, false)
	}
	b.LastUpdateTS = sourceTS
	b.LastLocalTS = localTS
	if seq != 0 {
		b.Seq = seq
	}
}

var two = decimal.NewFromInt(2)

// normalizeSide drops zero-size levels and sorts bids desc / asks asc.
func normalizeSide(levels []Level, isBid bool) []Level {
	out := make([]Level, 0, len(levels))
	for _, lv := range levels {
		if lv.Size.IsPositive() {
			out = append(out, lv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if isBid {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// upsertLevel inserts, replaces or removes one level keeping the side sorted.
func upsertLevel(side []Level, lv Level, isBid bool) []Level {
	idx := sort.Search(len(side), func(i int) bool {
		if isBid {
			return !side[i].Price.GreaterThan(lv.Price) // first <= price
		}
		return !side[i].Price.LessThan(lv.Price) // first >= price
	})
	found := idx < len(side) && side[idx].Price.Equal(lv.Price)

	switch {
	case !lv.Size.IsPositive() && found:
		return append(side[:idx], side[idx+1:]...)
	case !lv.Size.IsPositive():
		return side
	case found:
		side[idx].Size = lv.Size
		return side
	default:
		side = append(side, Level{})
		copy(side[idx+1:], side[idx:])
		side[idx] = lv
		return side
	}
}
