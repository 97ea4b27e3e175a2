package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/metrics"
	"github.com/alejandrodnm/polypaper/internal/ports"
)

// Two write classes. Tape rows are best-effort: when the queue is full
// the newest row is dropped and counted. Trading rows (orders, fills,
// positions, pnl, watchlist, markets) are never dropped; enqueue blocks
// and the writer retries failed writes indefinitely with backoff.

const tapeFlushInterval = 200 * time.Millisecond

type ackWrite struct {
	order     *domain.Order
	fill      *domain.Fill
	position  *domain.Position
	snapshot  *domain.PnLSnapshot
	watchlist *domain.Watchlist
	markets   []domain.Market
}

// Writer batches storage writes off the hot path.
type Writer struct {
	store ports.Store
	log   *slog.Logger

	tapeCh chan domain.TapeEvent
	ackCh  chan ackWrite

	batchSize    int
	retryBackoff func(attempt int) time.Duration
}

// NewWriter builds a writer over the store. Run must be started before
// any enqueue.
func NewWriter(store ports.Store, batchSize, queueSize int, log *slog.Logger) *Writer {
	return &Writer{
		store:     store,
		log:       log.With("component", "storage_writer"),
		tapeCh:    make(chan domain.TapeEvent, queueSize),
		ackCh:     make(chan ackWrite, queueSize),
		batchSize: batchSize,
		retryBackoff: func(attempt int) time.Duration {
			d := time.Second * time.Duration(1<<uint(attempt))
			if d > 30*time.Second {
				d = 30 * time.Second
			}
			return d
		},
	}
}

// EnqueueTape queues a tape row, dropping it when the queue is full.
func (w *Writer) EnqueueTape(ev domain.TapeEvent) {
	select {
	case w.tapeCh <- ev:
	default:
		metrics.TapeWritesDroppedTotal.Inc()
	}
}

// EnqueueOrder queues an order upsert. Blocks when the queue is full.
func (w *Writer) EnqueueOrder(o domain.Order) { w.ackCh <- ackWrite{order: &o} }

// EnqueueFill queues a fill insert.
func (w *Writer) EnqueueFill(f domain.Fill) { w.ackCh <- ackWrite{fill: &f} }

// EnqueuePosition queues a position upsert.
func (w *Writer) EnqueuePosition(p domain.Position) { w.ackCh <- ackWrite{position: &p} }

// EnqueueSnapshot queues a PnL snapshot insert.
func (w *Writer) EnqueueSnapshot(s domain.PnLSnapshot) { w.ackCh <- ackWrite{snapshot: &s} }

// EnqueueWatchlist queues the selector's tick output.
func (w *Writer) EnqueueWatchlist(wl domain.Watchlist) { w.ackCh <- ackWrite{watchlist: &wl} }

// EnqueueMarkets queues a metadata cache refresh.
func (w *Writer) EnqueueMarkets(ms []domain.Market) { w.ackCh <- ackWrite{markets: ms} }

// Run consumes the queues until ctx is cancelled, then drains every
// pending write before returning. Trading writes block the drain until
// they succeed.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(tapeFlushInterval)
	defer ticker.Stop()

	batch := make([]domain.TapeEvent, 0, w.batchSize)

	for {
		select {
		case <-ctx.Done():
			w.drain(batch)
			return nil
		case ev := <-w.tapeCh:
			batch = append(batch, ev)
			if len(batch) >= w.batchSize {
				w.flushTape(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flushTape(batch)
				batch = batch[:0]
			}
		case wr := <-w.ackCh:
			w.applyAcked(wr)
		}
	}
}

// drain empties both queues after shutdown started.
func (w *Writer) drain(batch []domain.TapeEvent) {
	for {
		select {
		case ev := <-w.tapeCh:
			batch = append(batch, ev)
		case wr := <-w.ackCh:
			w.applyAcked(wr)
		default:
			if len(batch) > 0 {
				w.flushTape(batch)
			}
			w.log.Info("writer drained")
			return
		}
	}
}

// flushTape writes one tape batch. Best-effort: a failed batch is
// dropped and counted, never retried.
func (w *Writer) flushTape(batch []domain.TapeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.store.AppendTape(ctx, batch); err != nil {
		for range batch {
			metrics.TapeWritesDroppedTotal.Inc()
		}
		w.log.Error("tape batch write failed", "err", err, "events", len(batch))
	}
}

// applyAcked retries until the write lands.
func (w *Writer) applyAcked(wr ackWrite) {
	for attempt := 0; ; attempt++ {
		err := w.writeAcked(wr)
		if err == nil {
			return
		}
		delay := w.retryBackoff(attempt)
		w.log.Error("trading write failed, retrying", "err", err, "attempt", attempt, "delay", delay)
		time.Sleep(delay)
	}
}

func (w *Writer) writeAcked(wr ackWrite) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case wr.order != nil:
		return w.store.UpsertOrder(ctx, *wr.order)
	case wr.fill != nil:
		return w.store.SaveFill(ctx, *wr.fill)
	case wr.position != nil:
		return w.store.UpsertPosition(ctx, *wr.position)
	case wr.snapshot != nil:
		return w.store.SavePnLSnapshot(ctx, *wr.snapshot)
	case wr.watchlist != nil:
		return w.store.SaveWatchlist(ctx, *wr.watchlist)
	case wr.markets != nil:
		return w.store.UpsertMarkets(ctx, wr.markets)
	default:
		return fmt.Errorf("storage.Writer: empty write")
	}
}
