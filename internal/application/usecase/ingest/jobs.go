package ingest

import (
	"context"
	"fmt"
	"time"

	"mdcollector/internal/application/port"
	"mdcollector/internal/domain/model"
)

// TickerJob polls the 24h statistics of symbol.
func TickerJob(symbol string, src port.TickerSource, store port.MarketStore, period time.Duration) PollJob {
	return PollJob{
		Name:   symbol + "/ticker_24h",
		Period: period,
		Fetch: func(ctx context.Context) error {
			t, err := src.Ticker24h(ctx, symbol)
			if err != nil {
				return err
			}
			return store.InsertTicker(ctx, t)
		},
	}
}

// FuturesJob polls one futures metric of symbol.
func FuturesJob(symbol string, kind model.MetricKind, src port.FuturesSource, store port.MarketStore, period time.Duration) PollJob {
	return PollJob{
		Name:   fmt.Sprintf("%s/%s", symbol, kind),
		Period: period,
		Fetch: func(ctx context.Context) error {
			m, err := src.FuturesMetric(ctx, kind, symbol)
			if err != nil {
				return err
			}
			return store.InsertFuturesMetric(ctx, m)
		},
	}
}
