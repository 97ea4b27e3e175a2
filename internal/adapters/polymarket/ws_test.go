package polymarket

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

func newTestFeed() *WSFeed {
	w := NewWSFeed("", 16, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.subs["tok-yes"] = domain.Market{MarketID: "0xcond", TokenID: "tok-yes"}
	return w
}

func drainOne(t *testing.T, w *WSFeed) domain.TapeEvent {
	t.Helper()
	select {
	case ev := <-w.out:
		return ev
	default:
		t.Fatal("no event emitted")
		return domain.TapeEvent{}
	}
}

func TestHandleFrame_BookBecomesSnapshot(t *testing.T) {
	w := newTestFeed()
	now := time.Now()

	frame := []byte(`{"event_type":"book","asset_id":"tok-yes","market":"0xcond","timestamp":"1750000000000",
		"bids":[{"price":"0.48","size":"120"}],"asks":[{"price":"0.52","size":"80"}]}`)
	w.handleFrame(frame, now)

	ev := drainOne(t, w)
	assert.Equal(t, domain.EventSnapshot, ev.Kind)
	assert.Equal(t, "0xcond", ev.MarketID)
	require.Len(t, ev.Bids, 1)
	assert.True(t, ev.Bids[0].Price.Equal(decimal.RequireFromString("0.48")))
	assert.Equal(t, time.UnixMilli(1750000000000).UTC(), ev.SourceTS)
	assert.Equal(t, now, ev.LocalTS)
}

func TestHandleFrame_PriceChangeBeforeSnapshotIsDiscarded(t *testing.T) {
	w := newTestFeed()
	now := time.Now()

	change := []byte(`{"event_type":"price_change","asset_id":"tok-yes","timestamp":"1750000000000",
		"changes":[{"price":"0.49","side":"BUY","size":"10"}]}`)
	w.handleFrame(change, now)
	assert.Empty(t, w.out, "no trusted snapshot yet")

	book := []byte(`{"event_type":"book","asset_id":"tok-yes","timestamp":"1750000000000",
		"bids":[{"price":"0.48","size":"120"}],"asks":[{"price":"0.52","size":"80"}]}`)
	w.handleFrame(book, now)
	drainOne(t, w)

	w.handleFrame(change, now)
	ev := drainOne(t, w)
	assert.Equal(t, domain.EventDelta, ev.Kind)
	require.Len(t, ev.Bids, 1)
	assert.True(t, ev.Bids[0].Size.Equal(decimal.RequireFromString("10")))
	assert.Empty(t, ev.Asks)
}

func TestHandleFrame_LastTradePrice(t *testing.T) {
	w := newTestFeed()

	frame := []byte(`{"event_type":"last_trade_price","asset_id":"tok-yes","timestamp":"1750000000000",
		"price":"0.505","size":"33","side":"SELL"}`)
	w.handleFrame(frame, time.Now())

	ev := drainOne(t, w)
	assert.Equal(t, domain.EventTrade, ev.Kind)
	require.NotNil(t, ev.Trade)
	assert.True(t, ev.Trade.Price.Equal(decimal.RequireFromString("0.505")))
	assert.Equal(t, domain.Sell, ev.Trade.Side)
}

func TestHandleFrame_BatchedArray(t *testing.T) {
	w := newTestFeed()

	frame := []byte(`[
		{"event_type":"book","asset_id":"tok-yes","timestamp":"1750000000000",
		 "bids":[{"price":"0.48","size":"120"}],"asks":[{"price":"0.52","size":"80"}]},
		{"event_type":"last_trade_price","asset_id":"tok-yes","timestamp":"1750000000001",
		 "price":"0.50","size":"5","side":"BUY"}
	]`)
	w.handleFrame(frame, time.Now())

	first := drainOne(t, w)
	second := drainOne(t, w)
	assert.Equal(t, domain.EventSnapshot, first.Kind)
	assert.Equal(t, domain.EventTrade, second.Kind)
}

func TestHandleFrame_UnknownAssetAndMalformedInputAreDropped(t *testing.T) {
	w := newTestFeed()
	now := time.Now()

	w.handleFrame([]byte(`{"event_type":"book","asset_id":"tok-unknown","bids":[],"asks":[]}`), now)
	assert.Empty(t, w.out)

	w.handleFrame([]byte(`not json at all`), now)
	assert.Empty(t, w.out)

	// Unparseable price in a book event drops the whole event.
	w.handleFrame([]byte(`{"event_type":"book","asset_id":"tok-yes",
		"bids":[{"price":"abc","size":"1"}],"asks":[]}`), now)
	assert.Empty(t, w.out)
}

func TestHandleFrame_IgnoresNonTapeEventTypes(t *testing.T) {
	w := newTestFeed()
	w.handleFrame([]byte(`{"event_type":"tick_size_change","asset_id":"tok-yes"}`), time.Now())
	assert.Empty(t, w.out)
}
