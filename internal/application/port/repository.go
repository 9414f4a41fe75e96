package port

import (
	"context"

	"mdcollector/internal/domain/model"
)

// MarketStore is the write side of the persisted store. Implementations must
// serialize writes so a single call is observed atomically by readers.
type MarketStore interface {
	// Append-only tables
	InsertTrade(ctx context.Context, t *model.Trade) error
	InsertOrderBook(ctx context.Context, ob *model.OrderBookSnapshot) error
	InsertTicker(ctx context.Context, t *model.Ticker24h) error
	InsertFuturesMetric(ctx context.Context, m model.FuturesMetric) error

	// Candles are upserted on (symbol, interval, open_time)
	UpsertCandle(ctx context.Context, c *model.Candle) error
	// UpsertCandles writes the batch in one transaction, in slice order.
	UpsertCandles(ctx context.Context, cs []model.Candle) error
}

// RangeQuery filters a range read. Zero Start/End/Limit mean unbounded.
type RangeQuery struct {
	Symbol   string
	Interval model.Interval // candles only
	Start    int64          // inclusive, ms
	End      int64          // inclusive, ms
	Limit    int
}

// MarketReader is the read side. Results are ordered by timestamp ascending.
type MarketReader interface {
	Trades(ctx context.Context, q RangeQuery) ([]model.Trade, error)
	OrderBooks(ctx context.Context, q RangeQuery) ([]model.OrderBookSnapshot, error)
	Candles(ctx context.Context, q RangeQuery) ([]model.Candle, error)
	Tickers(ctx context.Context, q RangeQuery) ([]model.Ticker24h, error)
	FuturesMetrics(ctx context.Context, kind model.MetricKind, q RangeQuery) ([]model.FuturesMetric, error)

	// RecentCandles returns the newest limit candles in chronological order.
	RecentCandles(ctx context.Context, symbol string, interval model.Interval, limit int) ([]model.Candle, error)
}

// Repository is a store that can be read back and closed.
type Repository interface {
	MarketStore
	MarketReader
	Close() error
}
