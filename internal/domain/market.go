package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus is the lifecycle state of a market as reported upstream.
type MarketStatus string

const (
	MarketOpen   MarketStatus = "open"
	MarketClosed MarketStatus = "closed"
)

// Market is a binary-outcome prediction market. Prices live in [0, 1]:
// one share pays $1 on "yes" resolution and $0 on "no".
// Metadata is immutable once observed; closed markets are retained in
// storage but dropped from the watchlist.
type Market struct {
	MarketID string
	EventID  string // groups related markets for aggregate exposure
	Question string
	TickSize decimal.Decimal // minimum price increment
	MinSize  decimal.Decimal // minimum order size
	Status   MarketStatus
	EndTS    time.Time // resolution time, zero if unknown

	// Selection signals from the metadata API (not money, plain floats).
	Volume24hUSD float64
	LiquidityUSD float64

	// CLOB identifiers used by the websocket market channel.
	ConditionID string
	TokenID     string // token id of the primary ("Yes") outcome
}

// DefaultTickSize is used when the metadata API does not report one.
var DefaultTickSize = decimal.RequireFromString("0.001")

// Tick returns the market's tick size, falling back to the default.
func (m Market) Tick() decimal.Decimal {
	if m.TickSize.IsPositive() {
		return m.TickSize
	}
	return DefaultTickSize
}

// HoursToEnd returns the hours until resolution, 0 if EndTS is unset or past.
func (m Market) HoursToEnd(now time.Time) float64 {
	if m.EndTS.IsZero() {
		return 0
	}
	h := m.EndTS.Sub(now).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// WatchlistEntry is one ranked market published by the selector.
type WatchlistEntry struct {
	MarketID      string
	Score         float64
	Rank          int
	EligibleUntil time.Time
}

// Watchlist is the selector's ordered top-N output for one tick.
type Watchlist struct {
	TS      time.Time
	Entries []WatchlistEntry
}

// IDs returns the market ids in rank order.
func (w Watchlist) IDs() []string {
	ids := make([]string, len(w.Entries))
	for i, e := range w.Entries {
		ids[i] = e.MarketID
	}
	return ids
}

// Contains reports whether the watchlist includes the market.
func (w Watchlist) Contains(marketID string) bool {
	for _, e := range w.Entries {
		if e.MarketID == marketID {
			return true
		}
	}
	return false
}

// WatchlistDiff describes how a selector tick changed the watchlist.
type WatchlistDiff struct {
	Added    []string
	Removed  []string
	Reranked []string
}

// Empty reports whether the tick changed nothing.
func (d WatchlistDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Reranked) == 0
}
