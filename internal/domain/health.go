package domain

// FeedHealth is the per-market freshness view the risk engine gates on.
type FeedHealth struct {
	MarketID      string
	FeedLagP99MS  float64
	UpdatesPerMin float64
	Crossed       bool
	Suspended     bool // waiting for a post-reconnect snapshot
}
