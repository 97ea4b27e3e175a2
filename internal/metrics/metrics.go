// Package metrics provides Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FeedEventsTotal counts normalized feed events by kind.
	FeedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypaper_feed_events_total",
		Help: "Normalized tape events received",
	}, []string{"kind"})

	// FeedDroppedTotal counts book deltas dropped on queue overflow.
	FeedDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polypaper_feed_dropped_total",
		Help: "Book deltas dropped when the merged feed queue overflowed",
	})

	// FeedReconnectsTotal counts websocket reconnects.
	FeedReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polypaper_feed_reconnects_total",
		Help: "Websocket reconnect attempts",
	})

	// MalformedEventsTotal counts events dropped for schema mismatch.
	MalformedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypaper_malformed_events_total",
		Help: "Feed events dropped as unparseable",
	}, []string{"kind"})

	// TapeWritesDroppedTotal counts tape rows dropped on writer saturation.
	TapeWritesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polypaper_tape_writes_dropped_total",
		Help: "Tape rows dropped when the storage writer queue was full",
	})

	// RiskRejectsTotal counts risk rejections by rule.
	RiskRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypaper_risk_rejects_total",
		Help: "Order intents rejected by the risk engine",
	}, []string{"rule"})

	// OrdersTotal counts simulated order placements by strategy and side.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypaper_orders_total",
		Help: "Simulated orders placed",
	}, []string{"strategy", "side"})

	// FillsTotal counts simulated fills by side.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypaper_fills_total",
		Help: "Simulated fills",
	}, []string{"side"})

	// WatchlistSize tracks the current number of watched markets.
	WatchlistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polypaper_watchlist_size",
		Help: "Markets currently on the watchlist",
	})

	// OpenPositions tracks the number of non-flat positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polypaper_open_positions",
		Help: "Markets with a non-zero position",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
