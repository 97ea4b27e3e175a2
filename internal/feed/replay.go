package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/ports"
)

// Replay feeds persisted tape rows back in local_ts order, paced at
// speed x wall clock. It implements ports.FeedSource for backtests;
// Subscribe and Unsubscribe are no-ops because the tape decides which
// markets appear.
type Replay struct {
	store ports.Store
	log   *slog.Logger
	out   chan domain.TapeEvent

	speed      float64
	start, end time.Time
}

// NewReplay builds the replay source. speed 0 replays as fast as the
// consumer keeps up.
func NewReplay(store ports.Store, speed float64, start, end time.Time, queueSize int, log *slog.Logger) *Replay {
	return &Replay{
		store: store,
		log:   log.With("component", "replay"),
		out:   make(chan domain.TapeEvent, queueSize),
		speed: speed,
		start: start,
		end:   end,
	}
}

// Events returns the output channel. It closes on tape EOF.
func (r *Replay) Events() <-chan domain.TapeEvent {
	return r.out
}

// Subscribe is a no-op; the tape defines the market set.
func (r *Replay) Subscribe(context.Context, domain.Market) error { return nil }

// Unsubscribe is a no-op.
func (r *Replay) Unsubscribe(string) {}

// Close is a no-op; Run owns the channel lifecycle.
func (r *Replay) Close() error { return nil }

// Run streams the tape until EOF or ctx cancellation. The channel is
// closed on return so the scheduler can drain and exit cleanly.
func (r *Replay) Run(ctx context.Context) error {
	defer close(r.out)

	var prev time.Time
	count := 0
	err := r.store.ReadTape(ctx, r.start, r.end, func(ev domain.TapeEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.speed > 0 && !prev.IsZero() {
			gap := ev.LocalTS.Sub(prev)
			if gap > 0 {
				wait := time.Duration(float64(gap) / r.speed)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		prev = ev.LocalTS
		count++

		select {
		case r.out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("feed.Replay: %w", err)
	}

	r.log.Info("tape replay finished", "events", count)
	return nil
}
