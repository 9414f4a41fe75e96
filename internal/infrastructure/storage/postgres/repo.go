package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"mdcollector/internal/application/port"
	"mdcollector/internal/domain/model"
)

// Repo is the archive mirror. Candles are upserted, everything else appended.
type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
  id BIGSERIAL PRIMARY KEY,
  symbol TEXT NOT NULL,
  ts_ms BIGINT NOT NULL,
  price DOUBLE PRECISION NOT NULL,
  quantity DOUBLE PRECISION NOT NULL,
  is_buyer_maker BOOLEAN NOT NULL,
  trade_id BIGINT NOT NULL,
  UNIQUE (symbol, trade_id)
);
CREATE TABLE IF NOT EXISTS orderbook (
  id BIGSERIAL PRIMARY KEY,
  symbol TEXT NOT NULL,
  ts_ms BIGINT NOT NULL,
  bids JSONB NOT NULL,
  asks JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orderbook_symbol_ts ON orderbook(symbol, ts_ms);
CREATE TABLE IF NOT EXISTS klines (
  symbol TEXT NOT NULL,
  interval TEXT NOT NULL,
  open_time BIGINT NOT NULL,
  open DOUBLE PRECISION NOT NULL,
  high DOUBLE PRECISION NOT NULL,
  low DOUBLE PRECISION NOT NULL,
  close DOUBLE PRECISION NOT NULL,
  volume DOUBLE PRECISION NOT NULL,
  close_time BIGINT NOT NULL,
  quote_volume DOUBLE PRECISION NOT NULL,
  trades_count BIGINT NOT NULL,
  taker_buy_base DOUBLE PRECISION NOT NULL,
  taker_buy_quote DOUBLE PRECISION NOT NULL,
  PRIMARY KEY (symbol, interval, open_time)
);
CREATE TABLE IF NOT EXISTS ticker_24h (
  id BIGSERIAL PRIMARY KEY,
  symbol TEXT NOT NULL,
  ts_ms BIGINT NOT NULL,
  payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ticker_symbol_ts ON ticker_24h(symbol, ts_ms);
CREATE TABLE IF NOT EXISTS futures_metrics (
  id BIGSERIAL PRIMARY KEY,
  kind TEXT NOT NULL,
  symbol TEXT NOT NULL,
  ts_ms BIGINT NOT NULL,
  payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_futures_kind_symbol_ts ON futures_metrics(kind, symbol, ts_ms);
`

const upsertKline = `
INSERT INTO klines(symbol, interval, open_time, open, high, low, close, volume, close_time,
  quote_volume, trades_count, taker_buy_base, taker_buy_quote)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (symbol, interval, open_time) DO UPDATE SET
  open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close,
  volume = EXCLUDED.volume, close_time = EXCLUDED.close_time,
  quote_volume = EXCLUDED.quote_volume, trades_count = EXCLUDED.trades_count,
  taker_buy_base = EXCLUDED.taker_buy_base, taker_buy_quote = EXCLUDED.taker_buy_quote`

func klineArgs(c *model.Candle) []any {
	return []any{
		c.Symbol, string(c.Interval), c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.CloseTime,
		c.QuoteVolume, c.TradeCount, c.TakerBuyVolume, c.TakerBuyQuoteVolume,
	}
}

func (r *Repo) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO trades(symbol, ts_ms, price, quantity, is_buyer_maker, trade_id)
VALUES($1, $2, $3, $4, $5, $6) ON CONFLICT (symbol, trade_id) DO NOTHING`,
		t.Symbol, t.Timestamp, t.Price, t.Quantity, t.IsBuyerMaker, t.TradeID)
	return err
}

func (r *Repo) InsertOrderBook(ctx context.Context, ob *model.OrderBookSnapshot) error {
	bids, err := json.Marshal(levels(ob.Bids))
	if err != nil {
		return err
	}
	asks, err := json.Marshal(levels(ob.Asks))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO orderbook(symbol, ts_ms, bids, asks) VALUES($1, $2, $3, $4)`,
		ob.Symbol, ob.Timestamp, string(bids), string(asks))
	return err
}

func (r *Repo) InsertTicker(ctx context.Context, t *model.Ticker24h) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO ticker_24h(symbol, ts_ms, payload) VALUES($1, $2, $3)`,
		t.Symbol, t.Timestamp, string(b))
	return err
}

func (r *Repo) InsertFuturesMetric(ctx context.Context, m model.FuturesMetric) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	meta := m.Meta()
	_, err = r.db.ExecContext(ctx, `INSERT INTO futures_metrics(kind, symbol, ts_ms, payload) VALUES($1, $2, $3, $4)`,
		string(m.Kind()), meta.Symbol, meta.Timestamp, string(b))
	return err
}

func (r *Repo) UpsertCandle(ctx context.Context, c *model.Candle) error {
	_, err := r.db.ExecContext(ctx, upsertKline, klineArgs(c)...)
	return err
}

func (r *Repo) UpsertCandles(ctx context.Context, cs []model.Candle) error {
	if len(cs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertKline)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range cs {
		if _, err := stmt.ExecContext(ctx, klineArgs(&cs[i])...); err != nil {
			return fmt.Errorf("kline %s %s %d: %w", cs[i].Symbol, cs[i].Interval, cs[i].OpenTime, err)
		}
	}
	return tx.Commit()
}

func levels(lv []model.PriceLevel) [][2]float64 {
	out := make([][2]float64, len(lv))
	for i, l := range lv {
		out[i] = [2]float64{l.Price, l.Size}
	}
	return out
}

var _ port.MarketStore = (*Repo)(nil)
