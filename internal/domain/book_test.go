package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func lv(price, size string) Level {
	return Level{Price: d(price), Size: d(size)}
}

func TestBookState_ApplySnapshot_SortsAndDropsZeroLevels(t *testing.T) {
	b := &BookState{MarketID: "m1"}
	now := time.Now()

	b.ApplySnapshot(
		[]Level{lv("0.45", "10"), lv("0.48", "20"), lv("0.46", "0")},
		[]Level{lv("0.55", "5"), lv("0.52", "15")},
		now, now, 7,
	)

	require.Len(t, b.Bids, 2)
	require.Len(t, b.Asks, 2)
	assert.True(t, b.Bids[0].Price.Equal(d("0.48")), "bids sorted descending")
	assert.True(t, b.Asks[0].Price.Equal(d("0.52")), "asks sorted ascending")
	assert.Equal(t, uint64(7), b.Seq)
}

func TestBookState_ApplyDelta_UpsertAndRemove(t *testing.T) {
	b := &BookState{MarketID: "m1"}
	now := time.Now()
	b.ApplySnapshot(
		[]Level{lv("0.48", "20"), lv("0.47", "10")},
		[]Level{lv("0.52", "15")},
		now, now, 1,
	)

	// Replace an existing level, insert a new one, remove another.
	b.ApplyDelta(
		[]Level{lv("0.48", "5"), lv("0.49", "8"), lv("0.47", "0")},
		nil,
		now, now, 2,
	)

	require.Len(t, b.Bids, 2)
	assert.True(t, b.Bids[0].Price.Equal(d("0.49")))
	assert.True(t, b.Bids[0].Size.Equal(d("8")))
	assert.True(t, b.Bids[1].Size.Equal(d("5")))
	assert.Equal(t, uint64(2), b.Seq)
}

func TestBookState_ApplyDelta_ZeroSizeOnMissingLevelIsNoop(t *testing.T) {
	b := &BookState{MarketID: "m1"}
	now := time.Now()
	b.ApplySnapshot([]Level{lv("0.48", "20")}, []Level{lv("0.52", "15")}, now, now, 1)

	b.ApplyDelta([]Level{lv("0.40", "0")}, nil, now, now, 2)

	require.Len(t, b.Bids, 1)
	assert.True(t, b.Bids[0].Price.Equal(d("0.48")))
}

func TestBookState_MidAndSpread(t *testing.T) {
	b := &BookState{MarketID: "m1"}
	now := time.Now()
	b.ApplySnapshot([]Level{lv("0.48", "10")}, []Level{lv("0.52", "10")}, now, now, 0)

	mid, ok := b.Mid()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("0.5")))
	assert.InDelta(t, 800, b.SpreadBPS(), 0.01)
	assert.False(t, b.Crossed())
}

func TestBookState_MidUnavailableOnOneSidedBook(t *testing.T) {
	b := &BookState{MarketID: "m1"}
	now := time.Now()
	b.ApplySnapshot([]Level{lv("0.48", "10")}, nil, now, now, 0)

	_, ok := b.Mid()
	assert.False(t, ok)
	assert.Equal(t, 0.0, b.SpreadBPS())
}

func TestBookState_Crossed(t *testing.T) {
	b := &BookState{MarketID: "m1"}
	now := time.Now()
	b.ApplySnapshot([]Level{lv("0.53", "10")}, []Level{lv("0.52", "10")}, now, now, 0)
	assert.True(t, b.Crossed())

	// Equal touch counts as crossed too.
	b.ApplySnapshot([]Level{lv("0.52", "10")}, []Level{lv("0.52", "10")}, now, now, 0)
	assert.True(t, b.Crossed())
}
