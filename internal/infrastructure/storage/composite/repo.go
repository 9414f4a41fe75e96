package composite

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"mdcollector/internal/application/port"
	"mdcollector/internal/domain/model"
)

// BreakerRule 镜像熔断参数
type BreakerRule struct {
	// 连续失败多少次后熔断
	TripConsecutiveFailures uint32
	// Open 状态持续时间，到期进入 Half-Open
	OpenTimeout time.Duration
	// 单次镜像写入超时
	WriteTimeout time.Duration
}

func (r BreakerRule) withDefaults() BreakerRule {
	if r.TripConsecutiveFailures == 0 {
		r.TripConsecutiveFailures = 5
	}
	if r.OpenTimeout <= 0 {
		r.OpenTimeout = 30 * time.Second
	}
	if r.WriteTimeout <= 0 {
		r.WriteTimeout = 2 * time.Second
	}
	return r
}

type mirror struct {
	name    string
	store   port.MarketStore
	cb      *gobreaker.CircuitBreaker[struct{}]
	timeout time.Duration
}

// Repo writes to the primary store first, then best-effort to every mirror.
// Reads only hit the primary.
type Repo struct {
	primary port.Repository
	mirrors []*mirror
	rule    BreakerRule

	// OnMirrorError is called for every failed or rejected mirror write.
	OnMirrorError func(name string, err error)
}

func New(primary port.Repository, rule BreakerRule) *Repo {
	return &Repo{primary: primary, rule: rule.withDefaults()}
}

// AddMirror registers a secondary store. nil stores are ignored.
func (r *Repo) AddMirror(name string, store port.MarketStore) {
	if store == nil {
		return
	}
	rule := r.rule
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     rule.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= rule.TripConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("mirror", name).Str("from", from.String()).Str("to", to.String()).Msg("mirror breaker state changed")
		},
	})
	r.mirrors = append(r.mirrors, &mirror{name: name, store: store, cb: cb, timeout: rule.WriteTimeout})
}

// MirrorState reports the breaker state of a mirror.
func (r *Repo) MirrorState(name string) (gobreaker.State, bool) {
	for _, m := range r.mirrors {
		if m.name == name {
			return m.cb.State(), true
		}
	}
	return gobreaker.StateClosed, false
}

func (r *Repo) write(ctx context.Context, op string, primary func() error, each func(ctx context.Context, s port.MarketStore) error) error {
	if err := primary(); err != nil {
		return err
	}
	for _, m := range r.mirrors {
		_, err := m.cb.Execute(func() (struct{}, error) {
			mctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			return struct{}{}, each(mctx, m.store)
		})
		if err == nil {
			continue
		}
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warn().Err(err).Str("mirror", m.name).Str("op", op).Msg("mirror write failed")
		}
		if r.OnMirrorError != nil {
			r.OnMirrorError(m.name, err)
		}
	}
	return nil
}

func (r *Repo) InsertTrade(ctx context.Context, t *model.Trade) error {
	return r.write(ctx, "trade",
		func() error { return r.primary.InsertTrade(ctx, t) },
		func(ctx context.Context, s port.MarketStore) error { return s.InsertTrade(ctx, t) })
}

func (r *Repo) InsertOrderBook(ctx context.Context, ob *model.OrderBookSnapshot) error {
	return r.write(ctx, "orderbook",
		func() error { return r.primary.InsertOrderBook(ctx, ob) },
		func(ctx context.Context, s port.MarketStore) error { return s.InsertOrderBook(ctx, ob) })
}

func (r *Repo) InsertTicker(ctx context.Context, t *model.Ticker24h) error {
	return r.write(ctx, "ticker",
		func() error { return r.primary.InsertTicker(ctx, t) },
		func(ctx context.Context, s port.MarketStore) error { return s.InsertTicker(ctx, t) })
}

func (r *Repo) InsertFuturesMetric(ctx context.Context, m model.FuturesMetric) error {
	return r.write(ctx, string(m.Kind()),
		func() error { return r.primary.InsertFuturesMetric(ctx, m) },
		func(ctx context.Context, s port.MarketStore) error { return s.InsertFuturesMetric(ctx, m) })
}

func (r *Repo) UpsertCandle(ctx context.Context, c *model.Candle) error {
	return r.write(ctx, "candle",
		func() error { return r.primary.UpsertCandle(ctx, c) },
		func(ctx context.Context, s port.MarketStore) error { return s.UpsertCandle(ctx, c) })
}

func (r *Repo) UpsertCandles(ctx context.Context, cs []model.Candle) error {
	return r.write(ctx, "candles",
		func() error { return r.primary.UpsertCandles(ctx, cs) },
		func(ctx context.Context, s port.MarketStore) error { return s.UpsertCandles(ctx, cs) })
}

func (r *Repo) Trades(ctx context.Context, q port.RangeQuery) ([]model.Trade, error) {
	return r.primary.Trades(ctx, q)
}

func (r *Repo) OrderBooks(ctx context.Context, q port.RangeQuery) ([]model.OrderBookSnapshot, error) {
	return r.primary.OrderBooks(ctx, q)
}

func (r *Repo) Candles(ctx context.Context, q port.RangeQuery) ([]model.Candle, error) {
	return r.primary.Candles(ctx, q)
}

func (r *Repo) Tickers(ctx context.Context, q port.RangeQuery) ([]model.Ticker24h, error) {
	return r.primary.Tickers(ctx, q)
}

func (r *Repo) FuturesMetrics(ctx context.Context, kind model.MetricKind, q port.RangeQuery) ([]model.FuturesMetric, error) {
	return r.primary.FuturesMetrics(ctx, kind, q)
}

func (r *Repo) RecentCandles(ctx context.Context, symbol string, interval model.Interval, limit int) ([]model.Candle, error) {
	return r.primary.RecentCandles(ctx, symbol, interval, limit)
}

// Close closes every mirror that can be closed, then the primary.
func (r *Repo) Close() error {
	var errs []error
	for _, m := range r.mirrors {
		if c, ok := m.store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := r.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var _ port.Repository = (*Repo)(nil)
