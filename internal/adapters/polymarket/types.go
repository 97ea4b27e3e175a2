package polymarket

import "encoding/json"

// Raw API DTOs. They never leave this package; mapping to domain
// entities happens in gamma.go and ws.go.

// --- Gamma API ---

// gammaMarketsResponse is the paginated GET /markets response.
type gammaMarketsResponse []gammaMarket

// gammaMarket is one market's metadata. Gamma returns several numeric
// fields as JSON strings, hence json.Number.
type gammaMarket struct {
	ID               string       `json:"id"`
	ConditionID      string       `json:"conditionId"`
	Question         string       `json:"question"`
	Slug             string       `json:"slug"`
	EndDateISO       string       `json:"endDateIso"`
	Volume24h        json.Number  `json:"volume24hr"`
	Liquidity        json.Number  `json:"liquidity"`
	OrderMinTickSize json.Number  `json:"orderPriceMinTickSize"`
	OrderMinSize     json.Number  `json:"orderMinSize"`
	ClobTokenIDs     string       `json:"clobTokenIds"` // JSON array encoded as a string
	Active           bool         `json:"active"`
	Closed           bool         `json:"closed"`
	Events           []gammaEvent `json:"events"`
}

// gammaEvent groups related markets.
type gammaEvent struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// --- WebSocket market channel ---

// wsSubscription is the subscribe/unsubscribe frame.
type wsSubscription struct {
	Type      string   `json:"type,omitempty"`
	AssetIDs  []string `json:"assets_ids"`
	Operation string   `json:"operation,omitempty"` // subscribe | unsubscribe
}

// wsMessage is the envelope shared by every market-channel event.
type wsMessage struct {
	EventType string `json:"event_type"` // book | price_change | last_trade_price
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"` // condition id
	Timestamp string `json:"timestamp"`
	Hash      string `json:"hash"`

	// book
	Bids []wsLevel `json:"bids"`
	Asks []wsLevel `json:"asks"`

	// price_change
	Changes []wsPriceChange `json:"changes"`

	// last_trade_price
	Price string `json:"price"`
	Size  string `json:"size"`
	Side  string `json:"side"`
}

// wsLevel is one raw price level. Strings keep full precision.
type wsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wsPriceChange is one changed level in a price_change event.
type wsPriceChange struct {
	Price string `json:"price"`
	Side  string `json:"side"` // BUY (bid) | SELL (ask)
	Size  string `json:"size"`
}
