package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind discriminates tape events.
type EventKind string

const (
	EventSnapshot EventKind = "snapshot"
	EventDelta    EventKind = "delta"
	EventTrade    EventKind = "trade"
)

// Trade is a trade print from the feed.
type Trade struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Side  Side            `json:"side"`
	TS    time.Time       `json:"ts"`
}

// TapeEvent is one normalized feed event: a full book snapshot, a book
// delta (changed levels only, size 0 removes), or a trade print.
// LocalTS is stamped on arrival with local monotonic time; SourceTS is
// the venue's timestamp. feed_lag = LocalTS - SourceTS.
type TapeEvent struct {
	MarketID string
	Kind     EventKind
	LocalTS  time.Time
	SourceTS time.Time
	Seq      uint64 // 0 when the source supplies no sequence numbers

	// Snapshot: full sides. Delta: changed levels only.
	Bids []Level
	Asks []Level

	// Trade events only.
	Trade *Trade
}

// tapePayload is the persisted JSON shape of an event's variable part.
type tapePayload struct {
	Seq   uint64  `json:"seq,omitempty"`
	Bids  []Level `json:"bids,omitempty"`
	Asks  []Level `json:"asks,omitempty"`
	Trade *Trade  `json:"trade,omitempty"`
}

// EncodePayload serializes the event's variable part for the tape table.
// Decimal fields marshal as JSON strings, so the round trip is exact.
func (e TapeEvent) EncodePayload() ([]byte, error) {
	return json.Marshal(tapePayload{Seq: e.Seq, Bids: e.Bids, Asks: e.Asks, Trade: e.Trade})
}

// DecodeTapeEvent rebuilds an event from a persisted tape row.
func DecodeTapeEvent(marketID string, kind EventKind, localTS, sourceTS time.Time, payload []byte) (TapeEvent, error) {
	var p tapePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return TapeEvent{}, fmt.Errorf("domain.DecodeTapeEvent: %w", err)
	}
	ev := TapeEvent{
		MarketID: marketID,
		Kind:     kind,
		LocalTS:  localTS,
		SourceTS: sourceTS,
		Seq:      p.Seq,
		Bids:     p.Bids,
		Asks:     p.Asks,
		Trade:    p.Trade,
	}
	if kind == EventTrade && ev.Trade == nil {
		return TapeEvent{}, fmt.Errorf("domain.DecodeTapeEvent: trade event without trade payload")
	}
	return ev, nil
}
