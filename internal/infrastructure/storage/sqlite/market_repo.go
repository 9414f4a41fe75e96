package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"mdcollector/internal/domain/model"
)

// ErrUnknownMetric 不支持的合约指标类型
var ErrUnknownMetric = errors.New("unknown futures metric")

const upsertCandleSQL = `
INSERT INTO klines(
  symbol, interval, open_time, open, high, low, close, volume, close_time,
  quote_volume, trades_count, taker_buy_volume, taker_buy_quote_volume
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(symbol, interval, open_time) DO UPDATE SET
  open=excluded.open, high=excluded.high, low=excluded.low, close=excluded.close,
  volume=excluded.volume, close_time=excluded.close_time, quote_volume=excluded.quote_volume,
  trades_count=excluded.trades_count, taker_buy_volume=excluded.taker_buy_volume,
  taker_buy_quote_volume=excluded.taker_buy_quote_volume`

// InsertTrade appends a trade. A repeated (symbol, trade_id) is ignored.
func (r *Repo) InsertTrade(ctx context.Context, t *model.Trade) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return r.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trades(symbol, timestamp, price, quantity, is_buyer_maker, trade_id)
			VALUES(?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, t.Symbol, t.Timestamp, t.Price, t.Quantity, boolInt(t.IsBuyerMaker), t.TradeID)
		return wrap("insert trade", err)
	})
}

func (r *Repo) InsertOrderBook(ctx context.Context, ob *model.OrderBookSnapshot) error {
	if err := ob.Validate(); err != nil {
		return err
	}
	bids, err := encodeLevels(ob.Bids)
	if err != nil {
		return err
	}
	asks, err := encodeLevels(ob.Asks)
	if err != nil {
		return err
	}
	return r.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO orderbook(symbol, timestamp, bids, asks) VALUES(?, ?, ?, ?)`,
			ob.Symbol, ob.Timestamp, bids, asks)
		return wrap("insert orderbook", err)
	})
}

// UpsertCandle inserts or replaces the candle for its logical key.
func (r *Repo) UpsertCandle(ctx context.Context, c *model.Candle) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return r.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, upsertCandleSQL, candleArgs(c)...)
		return wrap("upsert candle", err)
	})
}

// UpsertCandles upserts the whole batch in one transaction. Any invalid candle
// aborts the batch before the transaction starts.
func (r *Repo) UpsertCandles(ctx context.Context, cs []model.Candle) error {
	if len(cs) == 0 {
		return nil
	}
	for i := range cs {
		if err := cs[i].Validate(); err != nil {
			return err
		}
	}
	return r.write(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertCandleSQL)
		if err != nil {
			return wrap("prepare upsert candle", err)
		}
		defer stmt.Close()
		for i := range cs {
			if _, err := stmt.ExecContext(ctx, candleArgs(&cs[i])...); err != nil {
				return wrap("upsert candle", err)
			}
		}
		return nil
	})
}

func (r *Repo) InsertTicker(ctx context.Context, t *model.Ticker24h) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return r.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ticker_24h(symbol, timestamp, price_change, price_change_percent,
			                       weighted_avg_price, last_price, volume, quote_volume)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		`, t.Symbol, t.Timestamp, t.PriceChange, t.PriceChangePercent,
			t.WeightedAvgPrice, t.LastPrice, t.Volume, t.QuoteVolume)
		return wrap("insert ticker", err)
	})
}

func (r *Repo) InsertFuturesMetric(ctx context.Context, m model.FuturesMetric) error {
	if m == nil {
		return fmt.Errorf("%w: nil", ErrUnknownMetric)
	}
	if err := m.Validate(); err != nil {
		return err
	}

	var (
		query string
		args  []any
	)
	switch v := m.(type) {
	case *model.OpenInterest:
		query = `INSERT INTO open_interest(symbol, timestamp, open_interest, open_interest_value) VALUES(?, ?, ?, ?)`
		args = []any{v.Symbol, v.Timestamp, v.OpenInterest, v.OpenInterestValue}
	case *model.FundingRate:
		query = `INSERT INTO funding_rate(symbol, timestamp, funding_rate, next_funding_time) VALUES(?, ?, ?, ?)`
		args = []any{v.Symbol, v.Timestamp, v.FundingRate, v.NextFundingTime}
	case *model.LongShortRatio:
		query = `INSERT INTO long_short_ratio(symbol, timestamp, long_short_ratio, long_account, short_account) VALUES(?, ?, ?, ?, ?)`
		args = []any{v.Symbol, v.Timestamp, v.LongShortRatio, v.LongAccount, v.ShortAccount}
	case *model.TopTraderPosition:
		query = `INSERT INTO top_trader_position(symbol, timestamp, long_position_ratio, short_position_ratio,
		                                         long_account_ratio, short_account_ratio) VALUES(?, ?, ?, ?, ?, ?)`
		args = []any{v.Symbol, v.Timestamp, v.LongPositionRatio, v.ShortPositionRatio, v.LongAccountRatio, v.ShortAccountRatio}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownMetric, m)
	}

	return r.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return wrap("insert "+string(m.Kind()), err)
	})
}

func candleArgs(c *model.Candle) []any {
	return []any{
		c.Symbol, string(c.Interval), c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.CloseTime,
		c.QuoteVolume, c.TradeCount, c.TakerBuyVolume, c.TakerBuyQuoteVolume,
	}
}

// encodeLevels stores levels the way the exchange sends them: [["price","qty"],...]
func encodeLevels(levels []model.PriceLevel) (string, error) {
	out := make([][2]string, len(levels))
	for i, lv := range levels {
		out[i] = [2]string{
			strconv.FormatFloat(lv.Price, 'f', -1, 64),
			strconv.FormatFloat(lv.Size, 'f', -1, 64),
		}
	}
	b, err := json.Marshal(out)
	return string(b), err
}

func decodeLevels(s string) ([]model.PriceLevel, error) {
	var raw [][2]string
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	out := make([]model.PriceLevel, len(raw))
	for i, lv := range raw {
		p, err := strconv.ParseFloat(lv[0], 64)
		if err != nil {
			return nil, err
		}
		q, err := strconv.ParseFloat(lv[1], 64)
		if err != nil {
			return nil, err
		}
		out[i] = model.PriceLevel{Price: p, Size: q}
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
