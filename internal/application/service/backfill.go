package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"mdcollector/internal/application/port"
	"mdcollector/internal/domain/model"
)

const (
	defaultBackfillTimeout = 30 * time.Second
	defaultBackfillDelay   = 500 * time.Millisecond
)

// BackfillConfig 历史 K 线回补参数
type BackfillConfig struct {
	Intervals []model.Interval
	// Limits overrides Interval.DefaultBackfillLimit per interval
	Limits  map[model.Interval]int
	Timeout time.Duration // per request
	Delay   time.Duration // between intervals; negative disables
}

// IntervalReport is the outcome of one interval's backfill.
type IntervalReport struct {
	Interval model.Interval
	Fetched  int
	Stored   int
	Skipped  int
	Err      error
}

// BackfillReport 单个交易对的回补结果
type BackfillReport struct {
	Symbol    string
	Intervals []IntervalReport
}

// Stored sums the candles written across intervals.
func (r BackfillReport) Stored() int {
	n := 0
	for _, iv := range r.Intervals {
		n += iv.Stored
	}
	return n
}

// Failed reports whether any interval ended with an error.
func (r BackfillReport) Failed() bool {
	for _, iv := range r.Intervals {
		if iv.Err != nil {
			return true
		}
	}
	return false
}

// Backfiller 启动前拉取最近 N 根 K 线并幂等写入
type Backfiller struct {
	source port.KlineSource
	store  port.MarketStore
	cfg    BackfillConfig
}

func NewBackfiller(source port.KlineSource, store port.MarketStore, cfg BackfillConfig) *Backfiller {
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = model.AllIntervals
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultBackfillTimeout
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	} else if cfg.Delay == 0 {
		cfg.Delay = defaultBackfillDelay
	}
	return &Backfiller{source: source, store: store, cfg: cfg}
}

func (b *Backfiller) limit(iv model.Interval) int {
	if n, ok := b.cfg.Limits[iv]; ok && n > 0 {
		return n
	}
	return iv.DefaultBackfillLimit()
}

// Run backfills every configured interval in order. Errors are recorded in the
// report and never stop the remaining intervals; only cancellation does.
func (b *Backfiller) Run(ctx context.Context, symbol string) BackfillReport {
	report := BackfillReport{Symbol: symbol}

	for i, iv := range b.cfg.Intervals {
		if i > 0 {
			if err := Sleep(ctx, b.cfg.Delay); err != nil {
				break
			}
		}
		r := b.backfillInterval(ctx, symbol, iv)
		report.Intervals = append(report.Intervals, r)

		ev := log.Info()
		if r.Err != nil {
			ev = log.Warn().Err(r.Err)
		}
		ev.Str("symbol", symbol).Str("interval", string(iv)).
			Int("fetched", r.Fetched).Int("stored", r.Stored).Int("skipped", r.Skipped).
			Msg("backfill interval done")

		if ctx.Err() != nil {
			break
		}
	}
	return report
}

func (b *Backfiller) backfillInterval(ctx context.Context, symbol string, iv model.Interval) IntervalReport {
	r := IntervalReport{Interval: iv}

	rctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	candles, err := b.source.Klines(rctx, symbol, iv, b.limit(iv))
	cancel()
	if err != nil {
		r.Err = err
		return r
	}
	r.Fetched = len(candles)

	valid := make([]model.Candle, 0, len(candles))
	for i := range candles {
		c := candles[i]
		c.Symbol, c.Interval = symbol, iv
		if err := c.Validate(); err != nil {
			log.Debug().Err(err).Str("symbol", symbol).Str("interval", string(iv)).Msg("backfill candle skipped")
			r.Skipped++
			continue
		}
		valid = append(valid, c)
	}

	if err := b.store.UpsertCandles(ctx, valid); err != nil {
		r.Err = err
		return r
	}
	r.Stored = len(valid)
	return r
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
