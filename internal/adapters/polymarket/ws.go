package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/alejandrodnm/polypaper/internal/metrics"
)

const (
	defaultWSBase = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	// writeWait is the time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong.
	pongWait = 30 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// WSFeed streams the CLOB market channel and normalizes it into tape
// events. It implements ports.FeedSource.
//
// After every (re)connect the venue sends a full "book" event per
// subscribed asset; price changes received before that snapshot are
// discarded so the in-memory book can never be built on a stale base.
type WSFeed struct {
	wsURL string
	log   *slog.Logger
	out   chan domain.TapeEvent

	mu           sync.Mutex
	conn         *websocket.Conn
	subs         map[string]domain.Market // token id -> market
	snapshotSeen map[string]bool          // market id -> snapshot applied since connect
	closed       bool

	errLogged map[string]bool // (market, kind) pairs already logged at error
	done      chan struct{}
}

// NewWSFeed builds the feed source. queueSize caps the merged output
// channel; on overflow deltas are dropped (the next snapshot resyncs),
// snapshots and trades are never dropped.
func NewWSFeed(wsURL string, queueSize int, log *slog.Logger) *WSFeed {
	if wsURL == "" {
		wsURL = defaultWSBase
	}
	return &WSFeed{
		wsURL:        wsURL,
		log:          log.With("component", "feed_ws"),
		out:          make(chan domain.TapeEvent, queueSize),
		subs:         make(map[string]domain.Market),
		snapshotSeen: make(map[string]bool),
		errLogged:    make(map[string]bool),
		done:         make(chan struct{}),
	}
}

// Events returns the merged output channel.
func (w *WSFeed) Events() <-chan domain.TapeEvent {
	return w.out
}

// Subscribe starts streaming the market. The first call dials the
// connection; later calls add the asset on the live socket.
func (w *WSFeed) Subscribe(ctx context.Context, m domain.Market) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket.Subscribe: feed closed")
	}
	if _, ok := w.subs[m.TokenID]; ok {
		return nil
	}
	w.subs[m.TokenID] = m
	delete(w.snapshotSeen, m.MarketID)

	if w.conn == nil {
		return w.connectLocked(ctx)
	}
	return w.writeJSONLocked(wsSubscription{AssetIDs: []string{m.TokenID}, Operation: "subscribe"})
}

// Unsubscribe stops the market's stream. Idempotent.
func (w *WSFeed) Unsubscribe(marketID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for token, m := range w.subs {
		if m.MarketID != marketID {
			continue
		}
		delete(w.subs, token)
		delete(w.snapshotSeen, marketID)
		if w.conn != nil {
			_ = w.writeJSONLocked(wsSubscription{AssetIDs: []string{token}, Operation: "unsubscribe"})
		}
		return
	}
}

// Close tears down the connection and all subscriptions.
func (w *WSFeed) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		return w.conn.Close()
	}
	return nil
}

// connectLocked dials and announces every tracked subscription.
// Caller holds w.mu.
func (w *WSFeed) connectLocked(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket.connect: dial %s: %w", w.wsURL, err)
	}
	w.conn = conn
	w.snapshotSeen = make(map[string]bool)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	tokens := make([]string, 0, len(w.subs))
	for token := range w.subs {
		tokens = append(tokens, token)
	}
	if len(tokens) > 0 {
		if err := w.writeJSONLocked(wsSubscription{AssetIDs: tokens, Type: "market"}); err != nil {
			conn.Close()
			w.conn = nil
			return fmt.Errorf("polymarket.connect: subscribe: %w", err)
		}
	}

	go w.readLoop(conn)
	go w.pingLoop(conn)
	return nil
}

func (w *WSFeed) writeJSONLocked(v any) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(v)
}

// pingLoop keeps the connection alive until it dies or the feed closes.
func (w *WSFeed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readLoop parses frames until the connection breaks, then triggers a
// reconnect with backoff.
func (w *WSFeed) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			closed := w.closed
			if w.conn == conn {
				w.conn = nil
			}
			w.mu.Unlock()
			if !closed {
				w.log.Warn("connection lost, reconnecting", "err", err)
				go w.reconnect()
			}
			return
		}
		w.handleFrame(raw, time.Now())
	}
}

// reconnect redials with exponential backoff until it succeeds or the
// feed closes.
func (w *WSFeed) reconnect() {
	delay := reconnectDelay
	for {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		metrics.FeedReconnectsTotal.Inc()
		w.mu.Lock()
		if w.closed || w.conn != nil {
			w.mu.Unlock()
			return
		}
		err := w.connectLocked(context.Background())
		w.mu.Unlock()
		if err == nil {
			w.log.Info("reconnected")
			return
		}

		w.log.Warn("reconnect failed", "err", err, "next_in", delay)
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// handleFrame decodes one websocket frame. The market channel batches
// events into JSON arrays; single objects also occur.
func (w *WSFeed) handleFrame(raw []byte, localTS time.Time) {
	var batch []wsMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		var single wsMessage
		if err := json.Unmarshal(raw, &single); err != nil {
			metrics.MalformedEventsTotal.WithLabelValues("frame").Inc()
			return
		}
		batch = []wsMessage{single}
	}
	for _, msg := range batch {
		w.handleMessage(msg, localTS)
	}
}

func (w *WSFeed) handleMessage(msg wsMessage, localTS time.Time) {
	w.mu.Lock()
	m, ok := w.subs[msg.AssetID]
	w.mu.Unlock()
	if !ok {
		return
	}

	sourceTS := parseMillis(msg.Timestamp)

	switch msg.EventType {
	case "book":
		bids, asks, err := mapLevels(msg.Bids, msg.Asks)
		if err != nil {
			w.dropMalformed(m.MarketID, "book", err)
			return
		}
		w.mu.Lock()
		w.snapshotSeen[m.MarketID] = true
		w.mu.Unlock()
		w.emit(domain.TapeEvent{
			MarketID: m.MarketID,
			Kind:     domain.EventSnapshot,
			LocalTS:  localTS,
			SourceTS: sourceTS,
			Bids:     bids,
			Asks:     asks,
		})

	case "price_change":
		w.mu.Lock()
		seen := w.snapshotSeen[m.MarketID]
		w.mu.Unlock()
		if !seen {
			// No trusted base yet; the pending snapshot supersedes this.
			return
		}
		bids, asks, err := mapChanges(msg.Changes)
		if err != nil {
			w.dropMalformed(m.MarketID, "price_change", err)
			return
		}
		w.emit(domain.TapeEvent{
			MarketID: m.MarketID,
			Kind:     domain.EventDelta,
			LocalTS:  localTS,
			SourceTS: sourceTS,
			Bids:     bids,
			Asks:     asks,
		})

	case "last_trade_price":
		price, err1 := decimal.NewFromString(msg.Price)
		size, err2 := decimal.NewFromString(msg.Size)
		if err1 != nil || err2 != nil {
			w.dropMalformed(m.MarketID, "last_trade_price", fmt.Errorf("price %q size %q", msg.Price, msg.Size))
			return
		}
		side := domain.Buy
		if msg.Side == "SELL" {
			side = domain.Sell
		}
		w.emit(domain.TapeEvent{
			MarketID: m.MarketID,
			Kind:     domain.EventTrade,
			LocalTS:  localTS,
			SourceTS: sourceTS,
			Trade:    &domain.Trade{Price: price, Size: size, Side: side, TS: sourceTS},
		})

	default:
		// tick_size_change and friends are not tape events.
	}
}

// emit pushes the event to the merged channel. Deltas are dropped when
// the queue is full; snapshots and trades block until accepted because
// dropping either would corrupt books or miss fills.
func (w *WSFeed) emit(ev domain.TapeEvent) {
	metrics.FeedEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Kind == domain.EventDelta {
		select {
		case w.out <- ev:
		default:
			metrics.FeedDroppedTotal.Inc()
		}
		return
	}
	select {
	case w.out <- ev:
	case <-w.done:
	}
}

// dropMalformed counts the event and logs once per (market, kind).
func (w *WSFeed) dropMalformed(marketID, kind string, err error) {
	metrics.MalformedEventsTotal.WithLabelValues(kind).Inc()
	key := marketID + "/" + kind
	w.mu.Lock()
	logged := w.errLogged[key]
	w.errLogged[key] = true
	w.mu.Unlock()
	if !logged {
		w.log.Error("malformed event dropped", "market", marketID, "kind", kind, "err", err)
	}
}

func mapLevels(rawBids, rawAsks []wsLevel) (bids, asks []domain.Level, err error) {
	for _, lv := range rawBids {
		l, err := mapLevel(lv.Price, lv.Size)
		if err != nil {
			return nil, nil, err
		}
		bids = append(bids, l)
	}
	for _, lv := range rawAsks {
		l, err := mapLevel(lv.Price, lv.Size)
		if err != nil {
			return nil, nil, err
		}
		asks = append(asks, l)
	}
	return bids, asks, nil
}

func mapChanges(changes []wsPriceChange) (bids, asks []domain.Level, err error) {
	for _, ch := range changes {
		l, err := mapLevel(ch.Price, ch.Size)
		if err != nil {
			return nil, nil, err
		}
		if ch.Side == "BUY" {
			bids = append(bids, l)
		} else {
			asks = append(asks, l)
		}
	}
	return bids, asks, nil
}

func mapLevel(price, size string) (domain.Level, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Level{}, fmt.Errorf("price %q: %w", price, err)
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return domain.Level{}, fmt.Errorf("size %q: %w", size, err)
	}
	return domain.Level{Price: p, Size: s}, nil
}

// parseMillis converts the channel's epoch-millisecond string.
func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
