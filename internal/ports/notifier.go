package ports

import "github.com/alejandrodnm/polypaper/internal/domain"

// Notifier renders operator-facing output: the scanner table, the paper
// status line, and the end-of-session report.
type Notifier interface {
	// NotifyWatchlist renders the current watchlist with scores.
	NotifyWatchlist(wl domain.Watchlist, markets map[string]domain.Market)

	// NotifySessionReport renders positions and PnL at shutdown.
	NotifySessionReport(positions []domain.Position, snap domain.PnLSnapshot, fills int)
}
