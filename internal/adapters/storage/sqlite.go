// Package storage persists the tape and the paper trading state in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/polypaper/internal/domain"
)

// All money columns are TEXT holding exact decimal strings. Floats never
// touch the trading tables; only selection signals in markets are REAL.
const schema = `
CREATE TABLE IF NOT EXISTS markets (
    market_id     TEXT PRIMARY KEY,
    event_id      TEXT NOT NULL DEFAULT '',
    question      TEXT NOT NULL DEFAULT '',
    tick_size     TEXT NOT NULL,
    min_size      TEXT NOT NULL,
    status        TEXT NOT NULL,
    end_ts        TEXT,
    volume_24h    REAL NOT NULL DEFAULT 0,
    liquidity     REAL NOT NULL DEFAULT 0,
    condition_id  TEXT NOT NULL DEFAULT '',
    token_id      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS watchlist (
    ts        TEXT NOT NULL,
    market_id TEXT NOT NULL,
    score     REAL NOT NULL,
    rank      INTEGER NOT NULL,
    PRIMARY KEY (ts, market_id)
);

CREATE TABLE IF NOT EXISTS tape (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    market_id TEXT NOT NULL,
    local_ts  TEXT NOT NULL,
    source_ts TEXT NOT NULL,
    kind      TEXT NOT NULL,
    payload   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    order_id        TEXT PRIMARY KEY,
    market_id       TEXT NOT NULL,
    side            TEXT NOT NULL,
    order_type      TEXT NOT NULL,
    price           TEXT NOT NULL,
    size            TEXT NOT NULL,
    status          TEXT NOT NULL,
    created_ts      TEXT NOT NULL,
    rested_since_ts TEXT NOT NULL,
    filled_size     TEXT NOT NULL,
    avg_fill_price  TEXT NOT NULL,
    reason          TEXT NOT NULL DEFAULT '',
    strategy        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS fills (
    fill_id   TEXT PRIMARY KEY,
    order_id  TEXT NOT NULL,
    market_id TEXT NOT NULL,
    side      TEXT NOT NULL,
    price     TEXT NOT NULL,
    size      TEXT NOT NULL,
    ts        TEXT NOT NULL,
    fees      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    market_id    TEXT PRIMARY KEY,
    net_size     TEXT NOT NULL,
    avg_price    TEXT NOT NULL,
    realized_pnl TEXT NOT NULL,
    opened_ts    TEXT,
    updated_ts   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pnl (
    ts           TEXT PRIMARY KEY,
    unrealized   TEXT NOT NULL,
    realized     TEXT NOT NULL,
    open_markets INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tape_local   ON tape(local_ts);
CREATE INDEX IF NOT EXISTS idx_tape_market  ON tape(market_id, local_ts);
CREATE INDEX IF NOT EXISTS idx_orders_mkt   ON orders(market_id, status);
CREATE INDEX IF NOT EXISTS idx_fills_order  ON fills(order_id);
CREATE INDEX IF NOT EXISTS idx_fills_market ON fills(market_id, ts);
`

// SQLiteStore implements ports.Store on SQLite (pure Go, no CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at the given DSN.
// ":memory:" is accepted for tests.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", dsn, err)
	}
	// SQLite is single-writer; one connection also keeps :memory: stable.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: pragmas: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.ApplySchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// ApplySchema creates the tables if they do not exist.
func (s *SQLiteStore) ApplySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage.ApplySchema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertMarkets refreshes the metadata cache.
func (s *SQLiteStore) UpsertMarkets(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.UpsertMarkets: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO markets (market_id, event_id, question, tick_size, min_size, status,
		                     end_ts, volume_24h, liquidity, condition_id, token_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET
		    event_id=excluded.event_id, question=excluded.question,
		    tick_size=excluded.tick_size, min_size=excluded.min_size,
		    status=excluded.status, end_ts=excluded.end_ts,
		    volume_24h=excluded.volume_24h, liquidity=excluded.liquidity,
		    condition_id=excluded.condition_id, token_id=excluded.token_id`)
	if err != nil {
		return fmt.Errorf("storage.UpsertMarkets: prepare: %w", err)
	}
	defer stmt.Close()

	for _, m := range markets {
		if _, err := stmt.ExecContext(ctx,
			m.MarketID, m.EventID, m.Question, m.Tick().String(), m.MinSize.String(),
			string(m.Status), encodeTime(m.EndTS), m.Volume24hUSD, m.LiquidityUSD,
			m.ConditionID, m.TokenID,
		); err != nil {
			return fmt.Errorf("storage.UpsertMarkets: upsert %s: %w", m.MarketID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.UpsertMarkets: commit: %w", err)
	}
	return nil
}

// GetMarkets returns the cached metadata for all known markets.
func (s *SQLiteStore) GetMarkets(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id, event_id, question, tick_size, min_size, status,
		       end_ts, volume_24h, liquidity, condition_id, token_id
		FROM markets`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetMarkets: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		var m domain.Market
		var tick, minSize, status string
		var endTS sql.NullString
		if err := rows.Scan(&m.MarketID, &m.EventID, &m.Question, &tick, &minSize,
			&status, &endTS, &m.Volume24hUSD, &m.LiquidityUSD, &m.ConditionID, &m.TokenID,
		); err != nil {
			return nil, fmt.Errorf("storage.GetMarkets: scan: %w", err)
		}
		if m.TickSize, err = decimal.NewFromString(tick); err != nil {
			return nil, fmt.Errorf("storage.GetMarkets: tick_size %q: %w", tick, err)
		}
		if m.MinSize, err = decimal.NewFromString(minSize); err != nil {
			return nil, fmt.Errorf("storage.GetMarkets: min_size %q: %w", minSize, err)
		}
		m.Status = domain.MarketStatus(status)
		if m.EndTS, err = decodeTime(endTS); err != nil {
			return nil, fmt.Errorf("storage.GetMarkets: end_ts: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveWatchlist appends one row per watched market for this tick.
func (s *SQLiteStore) SaveWatchlist(ctx context.Context, wl domain.Watchlist) error {
	if len(wl.Entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveWatchlist: begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := encodeTime(wl.TS)
	for _, e := range wl.Entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO watchlist (ts, market_id, score, rank) VALUES (?, ?, ?, ?)`,
			ts, e.MarketID, e.Score, e.Rank,
		); err != nil {
			return fmt.Errorf("storage.SaveWatchlist: insert %s: %w", e.MarketID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveWatchlist: commit: %w", err)
	}
	return nil
}

// AppendTape writes a batch of events in one transaction.
func (s *SQLiteStore) AppendTape(ctx context.Context, events []domain.TapeEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.AppendTape: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tape (market_id, local_ts, source_ts, kind, payload) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.AppendTape: prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		payload, err := ev.EncodePayload()
		if err != nil {
			return fmt.Errorf("storage.AppendTape: encode %s: %w", ev.MarketID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			ev.MarketID, encodeTime(ev.LocalTS), encodeTime(ev.SourceTS),
			string(ev.Kind), string(payload),
		); err != nil {
			return fmt.Errorf("storage.AppendTape: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.AppendTape: commit: %w", err)
	}
	return nil
}

// ReadTape streams events ordered by local_ts within [start, end].
func (s *SQLiteStore) ReadTape(ctx context.Context, start, end time.Time, fn func(domain.TapeEvent) error) error {
	q := `SELECT market_id, local_ts, source_ts, kind, payload FROM tape`
	var args []any
	var conds []string
	if !start.IsZero() {
		conds = append(conds, "local_ts >= ?")
		args = append(args, encodeTime(start))
	}
	if !end.IsZero() {
		conds = append(conds, "local_ts <= ?")
		args = append(args, encodeTime(end))
	}
	for i, c := range conds {
		if i == 0 {
			q += " WHERE " + c
		} else {
			q += " AND " + c
		}
	}
	q += " ORDER BY local_ts ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("storage.ReadTape: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var marketID, localTS, sourceTS, kind, payload string
		if err := rows.Scan(&marketID, &localTS, &sourceTS, &kind, &payload); err != nil {
			return fmt.Errorf("storage.ReadTape: scan: %w", err)
		}
		lt, err := decodeTime(sql.NullString{String: localTS, Valid: true})
		if err != nil {
			return fmt.Errorf("storage.ReadTape: local_ts: %w", err)
		}
		st, err := decodeTime(sql.NullString{String: sourceTS, Valid: true})
		if err != nil {
			return fmt.Errorf("storage.ReadTape: source_ts: %w", err)
		}
		ev, err := domain.DecodeTapeEvent(marketID, domain.EventKind(kind), lt, st, []byte(payload))
		if err != nil {
			return fmt.Errorf("storage.ReadTape: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

// UpsertOrder writes the full current state of an order.
func (s *SQLiteStore) UpsertOrder(ctx context.Context, o domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, market_id, side, order_type, price, size, status,
		                    created_ts, rested_since_ts, filled_size, avg_fill_price, reason, strategy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
		    status=excluded.status, rested_since_ts=excluded.rested_since_ts,
		    filled_size=excluded.filled_size, avg_fill_price=excluded.avg_fill_price,
		    reason=excluded.reason`,
		o.OrderID, o.MarketID, string(o.Side), string(o.Type), o.Price.String(), o.Size.String(),
		string(o.Status), encodeTime(o.CreatedTS), encodeTime(o.RestedSinceTS),
		o.FilledSize.String(), o.AvgFillPrice.String(), o.Reason, o.Strategy,
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertOrder: %s: %w", o.OrderID, err)
	}
	return nil
}

// SaveFill appends a fill. Fills are never updated.
func (s *SQLiteStore) SaveFill(ctx context.Context, f domain.Fill) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fills (fill_id, order_id, market_id, side, price, size, ts, fees)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.FillID, f.OrderID, f.MarketID, string(f.Side),
		f.Price.String(), f.Size.String(), encodeTime(f.TS), f.Fees.String(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveFill: %s: %w", f.FillID, err)
	}
	return nil
}

// UpsertPosition writes the authoritative position row for a market.
func (s *SQLiteStore) UpsertPosition(ctx context.Context, p domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (market_id, net_size, avg_price, realized_pnl, opened_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET
		    net_size=excluded.net_size, avg_price=excluded.avg_price,
		    realized_pnl=excluded.realized_pnl, opened_ts=excluded.opened_ts,
		    updated_ts=excluded.updated_ts`,
		p.MarketID, p.NetSize.String(), p.AvgPrice.String(), p.RealizedPnL.String(),
		encodeTime(p.OpenedTS), encodeTime(p.UpdatedTS),
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertPosition: %s: %w", p.MarketID, err)
	}
	return nil
}

// SavePnLSnapshot appends one snapshot row.
func (s *SQLiteStore) SavePnLSnapshot(ctx context.Context, snap domain.PnLSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pnl (ts, unrealized, realized, open_markets) VALUES (?, ?, ?, ?)`,
		encodeTime(snap.TS), snap.Unrealized.String(), snap.Realized.String(), snap.OpenMarkets,
	)
	if err != nil {
		return fmt.Errorf("storage.SavePnLSnapshot: %w", err)
	}
	return nil
}

// GetOpenOrders returns orders still resting from a previous session.
func (s *SQLiteStore) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, market_id, side, order_type, price, size, status,
		       created_ts, rested_since_ts, filled_size, avg_fill_price, reason, strategy
		FROM orders WHERE status IN ('open', 'partial')`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetOpenOrders: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.GetOpenOrders: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetPositions returns all persisted positions, flat ones included.
func (s *SQLiteStore) GetPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT market_id, net_size, avg_price, realized_pnl, opened_ts, updated_ts FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetPositions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var netSize, avgPrice, realized string
		var openedTS, updatedTS sql.NullString
		if err := rows.Scan(&p.MarketID, &netSize, &avgPrice, &realized, &openedTS, &updatedTS); err != nil {
			return nil, fmt.Errorf("storage.GetPositions: scan: %w", err)
		}
		if p.NetSize, err = decimal.NewFromString(netSize); err != nil {
			return nil, fmt.Errorf("storage.GetPositions: net_size %q: %w", netSize, err)
		}
		if p.AvgPrice, err = decimal.NewFromString(avgPrice); err != nil {
			return nil, fmt.Errorf("storage.GetPositions: avg_price %q: %w", avgPrice, err)
		}
		if p.RealizedPnL, err = decimal.NewFromString(realized); err != nil {
			return nil, fmt.Errorf("storage.GetPositions: realized_pnl %q: %w", realized, err)
		}
		if p.OpenedTS, err = decodeTime(openedTS); err != nil {
			return nil, fmt.Errorf("storage.GetPositions: opened_ts: %w", err)
		}
		if p.UpdatedTS, err = decodeTime(updatedTS); err != nil {
			return nil, fmt.Errorf("storage.GetPositions: updated_ts: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ResetPaperState wipes trading state. The tape and markets cache survive.
func (s *SQLiteStore) ResetPaperState(ctx context.Context) error {
	for _, table := range []string{"orders", "fills", "positions", "pnl"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("storage.ResetPaperState: %s: %w", table, err)
		}
	}
	return nil
}

func scanOrder(rows *sql.Rows) (domain.Order, error) {
	var o domain.Order
	var side, typ, price, size, status, createdTS, restedTS, filled, avgFill string
	if err := rows.Scan(&o.OrderID, &o.MarketID, &side, &typ, &price, &size, &status,
		&createdTS, &restedTS, &filled, &avgFill, &o.Reason, &o.Strategy,
	); err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.Side(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)

	var err error
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Order{}, fmt.Errorf("price %q: %w", price, err)
	}
	if o.Size, err = decimal.NewFromString(size); err != nil {
		return domain.Order{}, fmt.Errorf("size %q: %w", size, err)
	}
	if o.FilledSize, err = decimal.NewFromString(filled); err != nil {
		return domain.Order{}, fmt.Errorf("filled_size %q: %w", filled, err)
	}
	if o.AvgFillPrice, err = decimal.NewFromString(avgFill); err != nil {
		return domain.Order{}, fmt.Errorf("avg_fill_price %q: %w", avgFill, err)
	}
	if o.CreatedTS, err = decodeTime(sql.NullString{String: createdTS, Valid: true}); err != nil {
		return domain.Order{}, fmt.Errorf("created_ts: %w", err)
	}
	if o.RestedSinceTS, err = decodeTime(sql.NullString{String: restedTS, Valid: true}); err != nil {
		return domain.Order{}, fmt.Errorf("rested_since_ts: %w", err)
	}
	return o, nil
}

// timeLayout keeps a fixed-width fraction so UTC timestamps sort
// lexicographically, which ReadTape's ORDER BY relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// encodeTime serializes to fixed-width RFC3339 UTC. Zero times become "".
func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func decodeTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s.String)
}
