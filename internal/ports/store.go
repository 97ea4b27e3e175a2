package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// Store is the durable local store. All writes are append-only except
// markets and positions, which are upserted. Only the storage writer
// task touches the store on the hot path; the scheduler posts messages.
type Store interface {
	ApplySchema(ctx context.Context) error

	// Markets metadata cache.
	UpsertMarkets(ctx context.Context, markets []domain.Market) error
	GetMarkets(ctx context.Context) ([]domain.Market, error)

	// Watchlist history, one row per (ts, market).
	SaveWatchlist(ctx context.Context, wl domain.Watchlist) error

	// Tape.
	AppendTape(ctx context.Context, events []domain.TapeEvent) error
	// ReadTape streams persisted events ordered by local_ts, bounded by
	// [start, end] when non-zero, calling fn for each. fn returning an
	// error stops the scan.
	ReadTape(ctx context.Context, start, end time.Time, fn func(domain.TapeEvent) error) error

	// Paper trading state.
	UpsertOrder(ctx context.Context, o domain.Order) error
	SaveFill(ctx context.Context, f domain.Fill) error
	UpsertPosition(ctx context.Context, p domain.Position) error
	SavePnLSnapshot(ctx context.Context, s domain.PnLSnapshot) error

	// Rehydration on start.
	GetOpenOrders(ctx context.Context) ([]domain.Order, error)
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// ResetPaperState wipes orders, fills, positions and pnl rows.
	// The tape and markets cache survive.
	ResetPaperState(ctx context.Context) error

	Close() error
}
