package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

func newTestWriter(t *testing.T) (*Writer, *SQLiteStore) {
	t.Helper()
	s := newTestStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWriter(s, 10, 100, log), s
}

func TestWriter_DrainsPendingWritesOnShutdown(t *testing.T) {
	w, s := newTestWriter(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		w.EnqueueTape(domain.TapeEvent{
			MarketID: "m1", Kind: domain.EventSnapshot,
			LocalTS: now.Add(time.Duration(i) * time.Second), SourceTS: now,
		})
	}
	w.EnqueueOrder(domain.Order{
		OrderID: "o1", MarketID: "m1", Side: domain.Buy, Type: domain.Limit,
		Price: decimal.RequireFromString("0.49"), Size: decimal.RequireFromString("10"),
		Status: domain.StatusOpen, CreatedTS: now, RestedSinceTS: now,
		FilledSize: decimal.Zero, AvgFillPrice: decimal.Zero,
	})

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not stop")
	}

	count := 0
	require.NoError(t, s.ReadTape(context.Background(), time.Time{}, time.Time{}, func(domain.TapeEvent) error {
		count++
		return nil
	}))
	assert.Equal(t, 3, count, "queued tape rows land before shutdown completes")

	open, err := s.GetOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestWriter_FlushesTapeAtBatchSize(t *testing.T) {
	w, s := newTestWriter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		w.EnqueueTape(domain.TapeEvent{
			MarketID: "m1", Kind: domain.EventSnapshot,
			LocalTS: now.Add(time.Duration(i) * time.Millisecond), SourceTS: now,
		})
	}

	require.Eventually(t, func() bool {
		count := 0
		if err := s.ReadTape(context.Background(), time.Time{}, time.Time{}, func(domain.TapeEvent) error {
			count++
			return nil
		}); err != nil {
			return false
		}
		return count == 10
	}, 3*time.Second, 20*time.Millisecond)
}
