package feed

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

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestManager() *Manager {
	return NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func snapshotEvent(market string, bid, ask string, ts time.Time, seq uint64) domain.TapeEvent {
	return domain.TapeEvent{
		MarketID: market,
		Kind:     domain.EventSnapshot,
		LocalTS:  ts,
		SourceTS: ts,
		Seq:      seq,
		Bids:     []domain.Level{{Price: d(bid), Size: d("50")}},
		Asks:     []domain.Level{{Price: d(ask), Size: d("50")}},
	}
}

func deltaEvent(market string, bid string, ts time.Time, seq uint64) domain.TapeEvent {
	return domain.TapeEvent{
		MarketID: market,
		Kind:     domain.EventDelta,
		LocalTS:  ts,
		SourceTS: ts,
		Seq:      seq,
		Bids:     []domain.Level{{Price: d(bid), Size: d("10")}},
	}
}

func TestManager_DeltaBeforeSnapshotIsDropped(t *testing.T) {
	m := newTestManager()
	m.Track("m1")
	now := time.Now()

	_, ok := m.Apply(deltaEvent("m1", "0.48", now, 1))
	assert.False(t, ok, "no trusted snapshot underneath")
	assert.True(t, m.Health("m1").Suspended)

	_, ok = m.Apply(snapshotEvent("m1", "0.48", "0.52", now, 1))
	require.True(t, ok)
	assert.False(t, m.Health("m1").Suspended)

	_, ok = m.Apply(deltaEvent("m1", "0.49", now.Add(time.Second), 2))
	assert.True(t, ok)
	assert.True(t, m.Book("m1").Bids[0].Price.Equal(d("0.49")))
}

func TestManager_UntrackedMarketIsIgnored(t *testing.T) {
	m := newTestManager()
	_, ok := m.Apply(snapshotEvent("ghost", "0.48", "0.52", time.Now(), 1))
	assert.False(t, ok)
	assert.Nil(t, m.Book("ghost"))
}

func TestManager_SequenceGapSuspendsUntilSnapshot(t *testing.T) {
	m := newTestManager()
	m.Track("m1")
	now := time.Now()
	m.Apply(snapshotEvent("m1", "0.48", "0.52", now, 10))

	// Gap: expected 11, got 13.
	_, ok := m.Apply(deltaEvent("m1", "0.49", now.Add(time.Second), 13))
	assert.False(t, ok)
	assert.True(t, m.Health("m1").Suspended)

	// Further deltas stay dropped while suspended.
	_, ok = m.Apply(deltaEvent("m1", "0.49", now.Add(2*time.Second), 14))
	assert.False(t, ok)

	// A fresh snapshot resynchronizes.
	_, ok = m.Apply(snapshotEvent("m1", "0.48", "0.52", now.Add(3*time.Second), 20))
	require.True(t, ok)
	assert.False(t, m.Health("m1").Suspended)
	_, ok = m.Apply(deltaEvent("m1", "0.49", now.Add(4*time.Second), 21))
	assert.True(t, ok)
}

func TestManager_TradeUpdatesLastTrade(t *testing.T) {
	m := newTestManager()
	m.Track("m1")
	now := time.Now()
	m.Apply(snapshotEvent("m1", "0.48", "0.52", now, 0))

	trade := &domain.Trade{Price: d("0.50"), Size: d("20"), Side: domain.Buy, TS: now}
	_, ok := m.Apply(domain.TapeEvent{
		MarketID: "m1", Kind: domain.EventTrade,
		LocalTS: now.Add(time.Second), SourceTS: now.Add(time.Second),
		Trade: trade,
	})
	require.True(t, ok)
	require.NotNil(t, m.Book("m1").LastTrade)
	assert.True(t, m.Book("m1").LastTrade.Price.Equal(d("0.50")))
}

func TestManager_CrossedBookReportedInHealth(t *testing.T) {
	m := newTestManager()
	m.Track("m1")
	now := time.Now()

	m.Apply(snapshotEvent("m1", "0.53", "0.52", now, 0))
	assert.True(t, m.Health("m1").Crossed)

	m.Apply(snapshotEvent("m1", "0.48", "0.52", now.Add(time.Second), 0))
	assert.False(t, m.Health("m1").Crossed)
}

func TestManager_FeedLagP99(t *testing.T) {
	m := newTestManager()
	m.Track("m1")
	base := time.Now()

	// Ten events arriving 5ms after their source stamps.
	for i := 0; i < 10; i++ {
		local := base.Add(time.Duration(i) * time.Second)
		ev := snapshotEvent("m1", "0.48", "0.52", local, 0)
		ev.SourceTS = local.Add(-5 * time.Millisecond)
		m.Apply(ev)
	}

	h := m.Health("m1")
	assert.InDelta(t, 5, h.FeedLagP99MS, 0.01)
	assert.Greater(t, h.UpdatesPerMin, 0.0, "update rate estimated from arrivals")
}

func TestManager_UntrackDropsState(t *testing.T) {
	m := newTestManager()
	m.Track("m1")
	now := time.Now()
	m.Apply(snapshotEvent("m1", "0.48", "0.52", now, 0))

	m.Untrack("m1")
	assert.False(t, m.Tracked("m1"))
	assert.Nil(t, m.Book("m1"))
	assert.True(t, m.Health("m1").Suspended, "unknown markets report suspended")
}

func TestManager_SuspendForcesQuietUntilSnapshot(t *testing.T) {
	m := newTestManager()
	m.Track("m1")
	now := time.Now()
	m.Apply(snapshotEvent("m1", "0.48", "0.52", now, 1))

	m.Suspend("m1")
	_, ok := m.Apply(deltaEvent("m1", "0.49", now.Add(time.Second), 2))
	assert.False(t, ok)

	_, ok = m.Apply(snapshotEvent("m1", "0.48", "0.52", now.Add(2*time.Second), 3))
	assert.True(t, ok)
	assert.False(t, m.Health("m1").Suspended)
}
