package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polypaper/config"
	"github.com/alejandrodnm/polypaper/internal/adapters/storage"
	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/feed"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func backtestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Run.Mode = config.ModeBacktest
	cfg.Strategy.Enabled = []string{"market_maker"}
	cfg.Paper.ResetOnStart = true
	cfg.Backtest.Speed = 0 // replay at full speed
	return cfg
}

func snapEvent(market, bid, ask string, ts time.Time) domain.TapeEvent {
	return domain.TapeEvent{
		MarketID: market,
		Kind:     domain.EventSnapshot,
		LocalTS:  ts,
		SourceTS: ts,
		Bids:     []domain.Level{{Price: d(bid), Size: d("50")}},
		Asks:     []domain.Level{{Price: d(ask), Size: d("50")}},
	}
}

// seedBacktestStore writes market metadata and a short tape where the
// ask eventually collapses onto the market maker's resting bid.
func seedBacktestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.UpsertMarkets(ctx, []domain.Market{{
		MarketID: "m1", EventID: "ev1", Question: "test market",
		TickSize: d("0.01"), MinSize: d("1"), Status: domain.MarketOpen,
	}}))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []domain.TapeEvent{
		snapEvent("m1", "0.48", "0.52", base),
		snapEvent("m1", "0.48", "0.52", base.Add(500*time.Millisecond)),
		snapEvent("m1", "0.48", "0.52", base.Add(time.Second)),
		// Quotes rest at 0.47/0.53; the ask collapsing to 0.47 after the
		// minimum rest fills the bid maker-touch.
		snapEvent("m1", "0.44", "0.47", base.Add(2*time.Second)),
		snapEvent("m1", "0.45", "0.49", base.Add(3*time.Second)),
	}
	require.NoError(t, store.AppendTape(ctx, events))
	return store
}

func runBacktest(t *testing.T, cfg *config.Config, store *storage.SQLiteStore) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tape := NewTapeClock()
	eng := New(Options{
		Config:    cfg,
		Log:       log,
		Store:     store,
		Source:    feed.NewReplay(store, cfg.Backtest.Speed, time.Time{}, time.Time{}, cfg.Feed.QueueSize, log),
		Clock:     tape,
		TapeClock: tape,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, eng.Run(ctx), "backtest runs to tape EOF")
}

func TestBacktest_RunsToEOFAndFillsMakerTouch(t *testing.T) {
	store := seedBacktestStore(t)
	runBacktest(t, backtestConfig(t), store)

	ctx := context.Background()
	positions, err := store.GetPositions(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, positions, "the collapsed ask filled the resting bid")

	var pos domain.Position
	for _, p := range positions {
		if p.MarketID == "m1" {
			pos = p
		}
	}
	assert.True(t, pos.NetSize.IsPositive(), "net long after the bid fill, got %s", pos.NetSize)
	assert.True(t, pos.AvgPrice.Equal(d("0.47")), "filled at the resting limit, got %s", pos.AvgPrice)

	open, err := store.GetOpenOrders(ctx)
	require.NoError(t, err)
	for _, o := range open {
		assert.Contains(t, o.OrderID, "bt-", "backtest ids are sequential")
	}
}

func TestBacktest_DeterministicAcrossRuns(t *testing.T) {
	run := func() ([]string, []domain.Position) {
		store := seedBacktestStore(t)
		runBacktest(t, backtestConfig(t), store)

		open, err := store.GetOpenOrders(context.Background())
		require.NoError(t, err)
		ids := make([]string, 0, len(open))
		for _, o := range open {
			ids = append(ids, o.OrderID)
		}
		sort.Strings(ids)

		positions, err := store.GetPositions(context.Background())
		require.NoError(t, err)
		sort.Slice(positions, func(i, j int) bool { return positions[i].MarketID < positions[j].MarketID })
		return ids, positions
	}

	ids1, pos1 := run()
	ids2, pos2 := run()

	assert.Equal(t, ids1, ids2, "identical order ids across replays")
	require.Equal(t, len(pos1), len(pos2))
	for i := range pos1 {
		assert.True(t, pos1[i].NetSize.Equal(pos2[i].NetSize))
		assert.True(t, pos1[i].AvgPrice.Equal(pos2[i].AvgPrice))
		assert.True(t, pos1[i].RealizedPnL.Equal(pos2[i].RealizedPnL))
	}
}

func TestNew_KillSwitchWiredFromConfig(t *testing.T) {
	cfg := backtestConfig(t)
	cfg.Risk.KillSwitch = true
	store := seedBacktestStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tape := NewTapeClock()

	eng := New(Options{
		Config:    cfg,
		Log:       log,
		Store:     store,
		Source:    feed.NewReplay(store, cfg.Backtest.Speed, time.Time{}, time.Time{}, cfg.Feed.QueueSize, log),
		Clock:     tape,
		TapeClock: tape,
	})
	assert.True(t, eng.riskEng.KillSwitch(), "config flag trips the switch before the first intent")
}

func TestFlattenIntent_ReducesAtTouch(t *testing.T) {
	now := time.Now()
	book := &domain.BookState{}
	book.ApplySnapshot(
		[]domain.Level{{Price: d("0.48"), Size: d("50")}},
		[]domain.Level{{Price: d("0.52"), Size: d("50")}},
		now, now, 1)

	long := domain.Position{MarketID: "m1", NetSize: d("10"), AvgPrice: d("0.50")}
	intent, ok := flattenIntent(long, book)
	require.True(t, ok)
	assert.Equal(t, domain.Sell, intent.Side)
	assert.Equal(t, domain.IOC, intent.Type)
	assert.True(t, intent.Price.Equal(d("0.48")), "sells into the bid")
	assert.True(t, intent.Size.Equal(d("10")))

	short := domain.Position{MarketID: "m1", NetSize: d("-4"), AvgPrice: d("0.50")}
	intent, ok = flattenIntent(short, book)
	require.True(t, ok)
	assert.Equal(t, domain.Buy, intent.Side)
	assert.True(t, intent.Price.Equal(d("0.52")), "buys back at the ask")
	assert.True(t, intent.Size.Equal(d("4")))

	_, ok = flattenIntent(domain.Position{MarketID: "m1"}, book)
	assert.False(t, ok, "flat position has nothing to unwind")
}

func TestBacktest_UnknownTapeMarketIsSynthesized(t *testing.T) {
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendTape(context.Background(), []domain.TapeEvent{
		snapEvent("ghost", "0.48", "0.52", base),
		snapEvent("ghost", "0.48", "0.52", base.Add(time.Second)),
	}))

	// No metadata row exists for "ghost"; the run must still complete.
	runBacktest(t, backtestConfig(t), store)
}
