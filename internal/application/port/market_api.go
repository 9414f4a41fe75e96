package port

import (
	"context"

	"mdcollector/internal/domain/model"
)

// KlineSource serves historical candles for backfill.
type KlineSource interface {
	Klines(ctx context.Context, symbol string, interval model.Interval, limit int) ([]model.Candle, error)
}

// TickerSource serves the 24h statistics poll.
type TickerSource interface {
	Ticker24h(ctx context.Context, symbol string) (*model.Ticker24h, error)
}

// FuturesSource serves the futures metric polls.
type FuturesSource interface {
	FuturesMetric(ctx context.Context, kind model.MetricKind, symbol string) (model.FuturesMetric, error)
}

// IndicatorPublisher pushes a freshly computed indicator payload downstream.
type IndicatorPublisher interface {
	PublishIndicators(ctx context.Context, symbol string, interval model.Interval, payload []byte) error
}
