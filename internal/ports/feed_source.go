package ports

import (
	"context"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// FeedSource streams normalized tape events for subscribed markets.
// Implementations own the network connection and reconnect logic; after
// a reconnect the first event per market is always a snapshot.
type FeedSource interface {
	// Subscribe starts streaming events for the market into the
	// source's shared output channel.
	Subscribe(ctx context.Context, m domain.Market) error

	// Unsubscribe stops the market's stream. Idempotent.
	Unsubscribe(marketID string)

	// Events returns the shared output channel. Per-market order is
	// preserved; there is no cross-market ordering guarantee.
	Events() <-chan domain.TapeEvent

	// Close tears down all subscriptions and the connection.
	Close() error
}
