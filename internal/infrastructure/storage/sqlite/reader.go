package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mdcollector/internal/application/port"
	"mdcollector/internal/domain/model"
)

// DefaultIndicatorWindow 指标引擎默认读取的 K 线数量
const DefaultIndicatorWindow = 200

var countableTables = map[string]struct{}{
	"trades": {}, "orderbook": {}, "klines": {}, "ticker_24h": {},
	"open_interest": {}, "funding_rate": {}, "long_short_ratio": {}, "top_trader_position": {},
}

// Count returns the number of rows in one of the store's tables.
func (r *Repo) Count(ctx context.Context, table string) (int64, error) {
	if _, ok := countableTables[table]; !ok {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

func (r *Repo) Trades(ctx context.Context, q port.RangeQuery) ([]model.Trade, error) {
	where, args := rangeClause(q, "timestamp", false)
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, timestamp, price, quantity, is_buyer_maker, trade_id
		FROM trades`+where+` ORDER BY timestamp ASC, id ASC`+limitClause(q.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var (
			t     model.Trade
			maker int
		)
		if err := rows.Scan(&t.Symbol, &t.Timestamp, &t.Price, &t.Quantity, &maker, &t.TradeID); err != nil {
			return nil, err
		}
		t.IsBuyerMaker = maker != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repo) OrderBooks(ctx context.Context, q port.RangeQuery) ([]model.OrderBookSnapshot, error) {
	where, args := rangeClause(q, "timestamp", false)
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, timestamp, bids, asks
		FROM orderbook`+where+` ORDER BY timestamp ASC, id ASC`+limitClause(q.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OrderBookSnapshot
	for rows.Next() {
		var (
			ob         model.OrderBookSnapshot
			bids, asks string
		)
		if err := rows.Scan(&ob.Symbol, &ob.Timestamp, &bids, &asks); err != nil {
			return nil, err
		}
		if ob.Bids, err = decodeLevels(bids); err != nil {
			return nil, fmt.Errorf("decode bids: %w", err)
		}
		if ob.Asks, err = decodeLevels(asks); err != nil {
			return nil, fmt.Errorf("decode asks: %w", err)
		}
		out = append(out, ob)
	}
	return out, rows.Err()
}

func (r *Repo) Candles(ctx context.Context, q port.RangeQuery) ([]model.Candle, error) {
	where, args := rangeClause(q, "open_time", true)
	return r.queryCandles(ctx, `SELECT `+candleColumns+` FROM klines`+where+
		` ORDER BY open_time ASC`+limitClause(q.Limit), args...)
}

// RecentCandles returns the newest limit closed candles for (symbol, interval),
// oldest first. A bar whose close_time is still ahead of now is in progress
// and stays out of the window.
func (r *Repo) RecentCandles(ctx context.Context, symbol string, interval model.Interval, limit int) ([]model.Candle, error) {
	if limit <= 0 {
		limit = DefaultIndicatorWindow
	}
	cs, err := r.queryCandles(ctx, `SELECT `+candleColumns+` FROM klines
		WHERE symbol = ? AND interval = ? AND close_time < ?
		ORDER BY open_time DESC LIMIT ?`, symbol, string(interval), time.Now().UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(cs)-1; i < j; i, j = i+1, j-1 {
		cs[i], cs[j] = cs[j], cs[i]
	}
	return cs, nil
}

const candleColumns = `symbol, interval, open_time, open, high, low, close, volume, close_time,
	quote_volume, trades_count, taker_buy_volume, taker_buy_quote_volume`

func (r *Repo) queryCandles(ctx context.Context, query string, args ...any) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var (
			c  model.Candle
			iv string
		)
		if err := rows.Scan(&c.Symbol, &iv, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
			&c.CloseTime, &c.QuoteVolume, &c.TradeCount, &c.TakerBuyVolume, &c.TakerBuyQuoteVolume); err != nil {
			return nil, err
		}
		c.Interval = model.Interval(iv)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) Tickers(ctx context.Context, q port.RangeQuery) ([]model.Ticker24h, error) {
	where, args := rangeClause(q, "timestamp", false)
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, timestamp, price_change, price_change_percent, weighted_avg_price,
		       last_price, volume, quote_volume
		FROM ticker_24h`+where+` ORDER BY timestamp ASC, id ASC`+limitClause(q.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Ticker24h
	for rows.Next() {
		var t model.Ticker24h
		if err := rows.Scan(&t.Symbol, &t.Timestamp, &t.PriceChange, &t.PriceChangePercent,
			&t.WeightedAvgPrice, &t.LastPrice, &t.Volume, &t.QuoteVolume); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repo) FuturesMetrics(ctx context.Context, kind model.MetricKind, q port.RangeQuery) ([]model.FuturesMetric, error) {
	var (
		columns string
		scan    func(rows *sql.Rows) (model.FuturesMetric, error)
	)
	switch kind {
	case model.MetricOpenInterest:
		columns = "open_interest, COALESCE(open_interest_value, 0)"
		scan = func(rows *sql.Rows) (model.FuturesMetric, error) {
			m := &model.OpenInterest{}
			err := rows.Scan(&m.Symbol, &m.Timestamp, &m.OpenInterest, &m.OpenInterestValue)
			return m, err
		}
	case model.MetricFundingRate:
		columns = "funding_rate, next_funding_time"
		scan = func(rows *sql.Rows) (model.FuturesMetric, error) {
			m := &model.FundingRate{}
			err := rows.Scan(&m.Symbol, &m.Timestamp, &m.FundingRate, &m.NextFundingTime)
			return m, err
		}
	case model.MetricLongShortRatio:
		columns = "long_short_ratio, long_account, short_account"
		scan = func(rows *sql.Rows) (model.FuturesMetric, error) {
			m := &model.LongShortRatio{}
			err := rows.Scan(&m.Symbol, &m.Timestamp, &m.LongShortRatio, &m.LongAccount, &m.ShortAccount)
			return m, err
		}
	case model.MetricTopTraderPosition:
		columns = "long_position_ratio, short_position_ratio, long_account_ratio, short_account_ratio"
		scan = func(rows *sql.Rows) (model.FuturesMetric, error) {
			m := &model.TopTraderPosition{}
			err := rows.Scan(&m.Symbol, &m.Timestamp, &m.LongPositionRatio, &m.ShortPositionRatio,
				&m.LongAccountRatio, &m.ShortAccountRatio)
			return m, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, kind)
	}

	where, args := rangeClause(q, "timestamp", false)
	rows, err := r.db.QueryContext(ctx, `SELECT symbol, timestamp, `+columns+` FROM `+string(kind)+
		where+` ORDER BY timestamp ASC, id ASC`+limitClause(q.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FuturesMetric
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func rangeClause(q port.RangeQuery, tsCol string, withInterval bool) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, q.Symbol)
	}
	if withInterval && q.Interval != "" {
		conds = append(conds, "interval = ?")
		args = append(args, string(q.Interval))
	}
	if q.Start > 0 {
		conds = append(conds, tsCol+" >= ?")
		args = append(args, q.Start)
	}
	if q.End > 0 {
		conds = append(conds, tsCol+" <= ?")
		args = append(args, q.End)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}
